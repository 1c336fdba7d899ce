// Package tui is the terminal task board behind `taskmaster board`.
package tui

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/taskmaster/internal/bus"
	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/shared"
)

// Source is the task API the board drives. *client.Client implements it.
type Source interface {
	ListTasks(ctx context.Context) ([]persistence.Task, error)
	CreateTask(ctx context.Context, in persistence.TaskInput) (persistence.Task, error)
	UpdateTask(ctx context.Context, title string, upd persistence.TaskUpdate) (persistence.Task, error)
	DeleteTask(ctx context.Context, title string) (persistence.Task, error)
}

// Watcher streams task events. Without one the board polls.
type Watcher interface {
	Watch(ctx context.Context, fn func(bus.TaskEvent)) error
}

const pollInterval = 10 * time.Second

type (
	tickMsg        time.Time
	taskEventMsg   bus.TaskEvent
	tasksLoadedMsg struct {
		tasks []persistence.Task
		err   error
	}
	opDoneMsg struct {
		verb  string
		title string
		err   error
	}
)

type model struct {
	ctx  context.Context
	src  Source
	poll bool

	tasks   []persistence.Task
	column  int
	row     int
	loaded  bool
	synced  time.Time
	feed    *activityLog
	modal   TaskModal
	confirm string // title pending delete confirmation
	notice  string
	err     string
	width   int
}

func newModel(ctx context.Context, src Source, poll bool) model {
	return model{
		ctx:   ctx,
		src:   src,
		poll:  poll,
		feed:  &activityLog{},
		modal: NewTaskModal(),
		width: 120,
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) load() tea.Cmd {
	return func() tea.Msg {
		ts, err := m.src.ListTasks(m.ctx)
		return tasksLoadedMsg{tasks: ts, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.load(), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		m.feed.expire(5*time.Minute, time.Now())
		if m.poll {
			return m, tea.Batch(m.load(), tickCmd())
		}
		return m, tickCmd()
	case tasksLoadedMsg:
		if msg.err != nil {
			m.err = humanError(msg.err)
			return m, nil
		}
		m.tasks = msg.tasks
		m.loaded = true
		m.synced = time.Now()
		m.feed.missed = 0
		m.err = ""
		m.clamp()
		return m, nil
	case taskEventMsg:
		m.feed.record(bus.TaskEvent(msg))
		return m, m.load()
	case opDoneMsg:
		if msg.err != nil {
			m.err = fmt.Sprintf("%s %q: %s", msg.verb, msg.title, humanError(msg.err))
			return m, nil
		}
		m.err = ""
		m.notice = fmt.Sprintf("%s %q", msg.verb, msg.title)
		return m, m.load()
	case TaskCreateMsg:
		in := msg.Input
		return m, func() tea.Msg {
			_, err := m.src.CreateTask(m.ctx, in)
			return opDoneMsg{verb: "created", title: in.Title, err: err}
		}
	case ModalCancelledMsg:
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.modal.IsOpen() {
		cmd := m.modal.Update(msg)
		return m, cmd
	}
	if m.confirm != "" {
		title := m.confirm
		m.confirm = ""
		if msg.String() != "y" {
			m.notice = "delete cancelled"
			return m, nil
		}
		return m, func() tea.Msg {
			_, err := m.src.DeleteTask(m.ctx, title)
			return opDoneMsg{verb: "deleted", title: title, err: err}
		}
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "left", "h":
		m.column = (m.column + len(persistence.TaskStatuses) - 1) % len(persistence.TaskStatuses)
		m.clamp()
	case "right", "l", "tab":
		m.column = (m.column + 1) % len(persistence.TaskStatuses)
		m.clamp()
	case "up", "k":
		if m.row > 0 {
			m.row--
		}
	case "down", "j":
		if m.row < len(m.columnTasks(m.column))-1 {
			m.row++
		}
	case "r":
		return m, m.load()
	case "a":
		m.feed.hidden = !m.feed.hidden
	case "n":
		m.modal.Open()
	case "s", "enter":
		task, ok := m.selected()
		if !ok {
			return m, nil
		}
		next := nextStatus(task.Status)
		title := task.Title
		return m, func() tea.Msg {
			_, err := m.src.UpdateTask(m.ctx, title, persistence.TaskUpdate{Status: shared.Some(next)})
			return opDoneMsg{verb: "moved to " + string(next), title: title, err: err}
		}
	case "d":
		if task, ok := m.selected(); ok {
			m.confirm = task.Title
		}
	}
	return m, nil
}

func nextStatus(s persistence.TaskStatus) persistence.TaskStatus {
	for i, st := range persistence.TaskStatuses {
		if st == s {
			return persistence.TaskStatuses[(i+1)%len(persistence.TaskStatuses)]
		}
	}
	return persistence.TaskStatusTodo
}

// columnTasks returns the tasks in a status column, highest priority first.
func (m model) columnTasks(col int) []persistence.Task {
	status := persistence.TaskStatuses[col]
	var out []persistence.Task
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

func (m model) selected() (persistence.Task, bool) {
	col := m.columnTasks(m.column)
	if m.row < 0 || m.row >= len(col) {
		return persistence.Task{}, false
	}
	return col[m.row], true
}

func (m *model) clamp() {
	n := len(m.columnTasks(m.column))
	if m.row >= n {
		m.row = n - 1
	}
	if m.row < 0 {
		m.row = 0
	}
}

func (m model) titleByID(id string) string {
	for _, t := range m.tasks {
		if t.ID == id {
			return t.Title
		}
	}
	return id
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	columnStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	activeColumn  = columnStyle.BorderForeground(lipgloss.Color("62"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (m model) View() string {
	if m.modal.IsOpen() {
		return m.modal.View()
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("Taskmaster") + dimStyle.Render(fmt.Sprintf("  %d tasks", len(m.tasks))) + "\n\n")
	if !m.loaded && m.err == "" {
		b.WriteString("Loading tasks...\n")
	}

	colWidth := m.width/len(persistence.TaskStatuses) - 4
	if colWidth < 18 {
		colWidth = 18
	}
	cols := make([]string, 0, len(persistence.TaskStatuses))
	for i, status := range persistence.TaskStatuses {
		var cb strings.Builder
		tasks := m.columnTasks(i)
		cb.WriteString(headerStyle.Render(fmt.Sprintf("%s (%d)", status, len(tasks))) + "\n")
		for j, t := range tasks {
			line := truncate(fmt.Sprintf("[%d] %s", t.Priority, t.Title), colWidth-2)
			if i == m.column && j == m.row {
				cb.WriteString(selectedStyle.Render("▸ "+line) + "\n")
			} else {
				cb.WriteString("  " + line + "\n")
			}
		}
		style := columnStyle
		if i == m.column {
			style = activeColumn
		}
		cols = append(cols, style.Width(colWidth).Render(cb.String()))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cols...) + "\n")

	if task, ok := m.selected(); ok {
		b.WriteString(m.detailView(task))
	}
	if m.confirm != "" {
		b.WriteString(errStyle.Render(fmt.Sprintf("Delete %q? (y/N)", m.confirm)) + "\n")
	}
	if m.err != "" {
		b.WriteString(errStyle.Render("⚠ "+m.err) + "\n")
	} else if m.notice != "" {
		b.WriteString(dimStyle.Render(m.notice) + "\n")
	}
	b.WriteString(m.feed.view())
	b.WriteString(dimStyle.Render("←/→ column  ↑/↓ task  s advance  n new  d delete  r refresh  a activity  q quit") + "\n")
	return b.String()
}

func (m model) detailView(t persistence.Task) string {
	var b strings.Builder
	b.WriteString("\n" + headerStyle.Render(t.Title) + "\n")
	if t.Description != "" {
		b.WriteString(t.Description + "\n")
	}
	meta := fmt.Sprintf("priority %d · %s", t.Priority, time.Duration(t.DurationSeconds)*time.Second)
	if t.Deadline != nil {
		meta += " · due " + t.Deadline.Local().Format("2006-01-02 15:04")
	}
	b.WriteString(dimStyle.Render(meta) + "\n")
	if len(t.PrerequisiteTasks) > 0 {
		names := make([]string, 0, len(t.PrerequisiteTasks))
		for _, id := range t.PrerequisiteTasks {
			names = append(names, m.titleByID(id))
		}
		b.WriteString(dimStyle.Render("after: "+strings.Join(names, ", ")) + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run shows the board until the user quits or ctx is done.
func Run(ctx context.Context, src Source, w Watcher) error {
	defer bestEffortResetTTY()

	m := newModel(ctx, src, w == nil)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if w != nil {
		go func() {
			err := w.Watch(ctx, func(ev bus.TaskEvent) { p.Send(taskEventMsg(ev)) })
			if err != nil && ctx.Err() == nil {
				p.Send(opDoneMsg{verb: "watch", title: "events", err: err})
			}
		}()
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func bestEffortResetTTY() {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return
	}
	// Use /dev/tty so redirected stdin does not matter.
	_ = exec.Command("sh", "-c", "stty sane < /dev/tty >/dev/null 2>&1 || true").Run()
}
