package tui

import (
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/taskmaster/internal/persistence"
)

type ModalState int

const (
	ModalClosed ModalState = iota
	ModalOpen
)

const (
	fieldTitle = iota
	fieldDescription
	fieldPriority
	fieldMinutes
	fieldSubmit
	modalFieldCount
)

// TaskModal collects the fields for a new task.
type TaskModal struct {
	state       ModalState
	focusIndex  int
	title       string
	description string
	priority    string
	minutes     string
	err         string
}

func NewTaskModal() TaskModal {
	return TaskModal{state: ModalClosed}
}

func (m *TaskModal) Open() {
	*m = TaskModal{state: ModalOpen, priority: "1", minutes: "30"}
}

func (m *TaskModal) Close()         { m.state = ModalClosed }
func (m TaskModal) IsOpen() bool    { return m.state == ModalOpen }
func (m TaskModal) FocusIndex() int { return m.focusIndex }
func (m TaskModal) Err() string     { return m.err }

type TaskCreateMsg struct {
	Input persistence.TaskInput
}

type ModalCancelledMsg struct{}

func (m *TaskModal) Update(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		m.Close()
		return func() tea.Msg { return ModalCancelledMsg{} }
	case "tab", "down":
		m.focusIndex = (m.focusIndex + 1) % modalFieldCount
		return nil
	case "shift+tab", "up":
		m.focusIndex = (m.focusIndex + modalFieldCount - 1) % modalFieldCount
		return nil
	case "enter":
		if m.focusIndex == fieldSubmit {
			return m.submit()
		}
		m.focusIndex++
		return nil
	case "backspace":
		if f := m.field(); f != nil && len(*f) > 0 {
			r := []rune(*f)
			*f = string(r[:len(r)-1])
		}
		return nil
	}

	if msg.Type != tea.KeyRunes && msg.Type != tea.KeySpace {
		return nil
	}
	text := string(msg.Runes)
	if msg.Type == tea.KeySpace {
		text = " "
	}
	switch m.focusIndex {
	case fieldTitle:
		m.title += text
	case fieldDescription:
		m.description += text
	case fieldPriority, fieldMinutes:
		f := m.field()
		for _, r := range text {
			if r >= '0' && r <= '9' {
				*f += string(r)
			}
		}
	}
	return nil
}

func (m *TaskModal) field() *string {
	switch m.focusIndex {
	case fieldTitle:
		return &m.title
	case fieldDescription:
		return &m.description
	case fieldPriority:
		return &m.priority
	case fieldMinutes:
		return &m.minutes
	}
	return nil
}

func (m *TaskModal) submit() tea.Cmd {
	title := strings.TrimSpace(m.title)
	if title == "" {
		m.err = "Title is required"
		m.focusIndex = fieldTitle
		return nil
	}
	priority, _ := strconv.Atoi(m.priority)
	minutes, _ := strconv.Atoi(m.minutes)
	in := persistence.TaskInput{
		Title:           title,
		Description:     strings.TrimSpace(m.description),
		Status:          persistence.TaskStatusTodo,
		Priority:        priority,
		DurationSeconds: minutes * 60,
	}
	m.Close()
	return func() tea.Msg { return TaskCreateMsg{Input: in} }
}

func (m TaskModal) View() string {
	if !m.IsOpen() {
		return ""
	}

	border := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).Padding(1, 2).Width(60)
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	focus := lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errS := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	mk := func(idx int) string {
		if m.focusIndex == idx {
			return focus.Render("▸ ")
		}
		return "  "
	}

	var b strings.Builder
	b.WriteString(title.Render("New Task") + "\n\n")
	b.WriteString(mk(fieldTitle) + "Title:       [ " + m.title + " ]\n")
	desc := m.description
	if r := []rune(desc); len(r) > 35 {
		desc = string(r[:35]) + "..."
	}
	b.WriteString(mk(fieldDescription) + "Description: [ " + desc + " ]\n")
	b.WriteString(mk(fieldPriority) + "Priority:    [ " + m.priority + " ]\n")
	b.WriteString(mk(fieldMinutes) + "Minutes:     [ " + m.minutes + " ]\n\n")
	btn := "[ Create ]"
	if m.focusIndex == fieldSubmit {
		btn = focus.Render("[ Create ]")
	}
	b.WriteString("  " + btn + dim.Render("  (Esc to cancel)") + "\n")
	if m.err != "" {
		b.WriteString("\n" + errS.Render("  ⚠ "+m.err))
	}
	return border.Render(b.String())
}
