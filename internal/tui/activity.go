package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/basket/taskmaster/internal/bus"
	"github.com/basket/taskmaster/internal/persistence"
)

const activityLimit = 8

// activityEntry is one line of the activity log. Consecutive updates to the
// same task fold into a single entry with a repeat count.
type activityEntry struct {
	kind   string
	taskID string
	text   string
	count  int
	at     time.Time
}

// activityLog is the board's recent-changes panel, newest first. It is only
// touched from the bubbletea update loop.
type activityLog struct {
	entries []activityEntry
	hidden  bool
	lastSeq uint64
	missed  uint64
}

func (l *activityLog) record(ev bus.TaskEvent) {
	if ev.Seq > 0 {
		if l.lastSeq > 0 && ev.Seq > l.lastSeq+1 {
			l.missed += ev.Seq - l.lastSeq - 1
		}
		l.lastSeq = ev.Seq
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	if len(l.entries) > 0 {
		head := &l.entries[0]
		if ev.Type == bus.TaskUpdated && head.kind == ev.Type && head.taskID != "" && head.taskID == ev.TaskID {
			head.count++
			head.at = at
			return
		}
	}
	entry := activityEntry{kind: ev.Type, taskID: ev.TaskID, text: describe(ev), count: 1, at: at}
	l.entries = append([]activityEntry{entry}, l.entries...)
	if len(l.entries) > activityLimit {
		l.entries = l.entries[:activityLimit]
	}
}

// expire drops entries older than maxAge and reports how many went.
func (l *activityLog) expire(maxAge time.Duration, now time.Time) int {
	n := len(l.entries)
	for n > 0 && now.Sub(l.entries[n-1].at) >= maxAge {
		n--
	}
	dropped := len(l.entries) - n
	l.entries = l.entries[:n]
	return dropped
}

func glyph(kind string) string {
	switch kind {
	case bus.TaskCreated:
		return "+"
	case bus.TaskUpdated:
		return "~"
	case bus.TaskDeleted:
		return "-"
	case bus.TaskGenerated:
		return "*"
	}
	return "·"
}

func describe(ev bus.TaskEvent) string {
	verb := strings.TrimPrefix(ev.Type, "task.")
	if ev.Title != "" {
		return fmt.Sprintf("%s %q", verb, ev.Title)
	}
	n := -1
	switch list := ev.Task.(type) {
	case []persistence.Task:
		n = len(list)
	case []any:
		// Decoded from the websocket stream.
		n = len(list)
	}
	if n >= 0 {
		return fmt.Sprintf("%s %d tasks", verb, n)
	}
	return verb
}

var (
	activityDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	activityText = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	activityWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func (l *activityLog) view() string {
	if len(l.entries) == 0 {
		return ""
	}
	if l.hidden {
		return activityDim.Render(fmt.Sprintf("── %d recent changes (a to expand) ──", len(l.entries))) + "\n"
	}
	var b strings.Builder
	b.WriteString(activityDim.Render("── Activity (a to collapse) ──") + "\n")
	if l.missed > 0 {
		b.WriteString(activityWarn.Render(fmt.Sprintf("! %d changes not shown; press r to refresh", l.missed)) + "\n")
	}
	for _, e := range l.entries {
		line := glyph(e.kind) + " " + e.text
		if e.count > 1 {
			line += fmt.Sprintf(" ×%d", e.count)
		}
		b.WriteString(activityText.Render(line) + activityDim.Render(" "+e.at.Local().Format("15:04:05")) + "\n")
	}
	return b.String()
}
