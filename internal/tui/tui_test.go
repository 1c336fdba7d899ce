package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/basket/taskmaster/internal/bus"
	"github.com/basket/taskmaster/internal/client"
	"github.com/basket/taskmaster/internal/persistence"
)

type fakeSource struct {
	mu      sync.Mutex
	tasks   []persistence.Task
	created []persistence.TaskInput
	updated map[string]persistence.TaskUpdate
	deleted []string
	listErr error
}

func (f *fakeSource) ListTasks(context.Context) ([]persistence.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]persistence.Task(nil), f.tasks...), f.listErr
}

func (f *fakeSource) CreateTask(_ context.Context, in persistence.TaskInput) (persistence.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	return persistence.Task{Title: in.Title}, nil
}

func (f *fakeSource) UpdateTask(_ context.Context, title string, upd persistence.TaskUpdate) (persistence.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updated == nil {
		f.updated = map[string]persistence.TaskUpdate{}
	}
	f.updated[title] = upd
	return persistence.Task{Title: title}, nil
}

func (f *fakeSource) DeleteTask(_ context.Context, title string) (persistence.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, title)
	return persistence.Task{Title: title}, nil
}

func sampleTasks() []persistence.Task {
	return []persistence.Task{
		{ID: "1", Title: "low", Status: persistence.TaskStatusTodo, Priority: 1},
		{ID: "2", Title: "high", Status: persistence.TaskStatusTodo, Priority: 5, PrerequisiteTasks: []string{"3"}},
		{ID: "3", Title: "doing", Status: persistence.TaskStatusInProgress, Priority: 2},
	}
}

func loadedModel(t *testing.T, src *fakeSource) model {
	t.Helper()
	m := newModel(context.Background(), src, false)
	next, _ := m.Update(m.load()())
	return next.(model)
}

func press(t *testing.T, m model, s string) (model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch s {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

func TestModel_LoadAndOrder(t *testing.T) {
	m := loadedModel(t, &fakeSource{tasks: sampleTasks()})
	if !m.loaded {
		t.Fatal("expected loaded")
	}
	todo := m.columnTasks(0)
	if len(todo) != 2 || todo[0].Title != "high" {
		t.Fatalf("todo column = %+v, want high first", todo)
	}
	sel, ok := m.selected()
	if !ok || sel.Title != "high" {
		t.Fatalf("selected = %+v", sel)
	}
	view := m.View()
	for _, want := range []string{"TODO (2)", "IN_PROGRESS (1)", "high", "after: doing"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_Navigation(t *testing.T) {
	m := loadedModel(t, &fakeSource{tasks: sampleTasks()})
	m, _ = press(t, m, "j")
	if sel, _ := m.selected(); sel.Title != "low" {
		t.Fatalf("selected = %q, want low", sel.Title)
	}
	m, _ = press(t, m, "j")
	if m.row != 1 {
		t.Fatalf("row = %d, should stop at last task", m.row)
	}
	m, _ = press(t, m, "l")
	if m.column != 1 || m.row != 0 {
		t.Fatalf("column=%d row=%d after moving right", m.column, m.row)
	}
	m, _ = press(t, m, "h")
	m, _ = press(t, m, "h")
	if m.column != len(persistence.TaskStatuses)-1 {
		t.Fatalf("column = %d, want wrap to last", m.column)
	}
}

func TestModel_AdvanceStatus(t *testing.T) {
	src := &fakeSource{tasks: sampleTasks()}
	m := loadedModel(t, src)
	m, cmd := press(t, m, "s")
	if cmd == nil {
		t.Fatal("expected update command")
	}
	done := cmd().(opDoneMsg)
	if done.err != nil || done.title != "high" {
		t.Fatalf("done = %+v", done)
	}
	upd := src.updated["high"]
	if got, ok := upd.Status.Get(); !ok || got != persistence.TaskStatusInProgress {
		t.Fatalf("status update = %v %v", got, ok)
	}
	next, _ := m.Update(done)
	if !strings.Contains(next.(model).notice, "IN_PROGRESS") {
		t.Fatalf("notice = %q", next.(model).notice)
	}
}

func TestModel_DeleteNeedsConfirmation(t *testing.T) {
	src := &fakeSource{tasks: sampleTasks()}
	m := loadedModel(t, src)

	m, _ = press(t, m, "d")
	if m.confirm != "high" {
		t.Fatalf("confirm = %q", m.confirm)
	}
	m, cmd := press(t, m, "n")
	if cmd != nil || m.confirm != "" || len(src.deleted) != 0 {
		t.Fatal("non-y key should cancel the delete")
	}

	m, _ = press(t, m, "d")
	_, cmd = press(t, m, "y")
	if cmd == nil {
		t.Fatal("expected delete command")
	}
	cmd()
	if len(src.deleted) != 1 || src.deleted[0] != "high" {
		t.Fatalf("deleted = %v", src.deleted)
	}
}

func TestModel_CreateFromModal(t *testing.T) {
	src := &fakeSource{}
	m := loadedModel(t, src)
	m, _ = press(t, m, "n")
	if !m.modal.IsOpen() {
		t.Fatal("n should open the modal")
	}
	for _, r := range "plan" {
		m, _ = press(t, m, string(r))
	}
	for m.modal.FocusIndex() != fieldSubmit {
		m, _ = press(t, m, "tab")
	}
	m, cmd := press(t, m, "enter")
	_, cmd = m.Update(cmd())
	if cmd == nil {
		t.Fatal("expected create command")
	}
	cmd()
	if len(src.created) != 1 || src.created[0].Title != "plan" {
		t.Fatalf("created = %+v", src.created)
	}
}

func TestModel_EventFeedsActivity(t *testing.T) {
	m := loadedModel(t, &fakeSource{})
	next, cmd := m.Update(taskEventMsg(bus.TaskEvent{Type: bus.TaskCreated, Title: "new"}))
	if cmd == nil {
		t.Fatal("event should trigger a reload")
	}
	if !strings.Contains(next.(model).View(), `created "new"`) {
		t.Fatal("event missing from activity feed")
	}
}

func TestModel_LoadError(t *testing.T) {
	src := &fakeSource{listErr: errors.New("GET /api/get-tasks: dial tcp: connection refused")}
	m := loadedModel(t, src)
	if m.err != "Connection refused" {
		t.Fatalf("err = %q", m.err)
	}
	if !strings.Contains(m.View(), "Connection refused") {
		t.Fatal("view should show the error")
	}
}

func TestNextStatus(t *testing.T) {
	cases := map[persistence.TaskStatus]persistence.TaskStatus{
		persistence.TaskStatusTodo:       persistence.TaskStatusInProgress,
		persistence.TaskStatusInProgress: persistence.TaskStatusCompleted,
		persistence.TaskStatusCompleted:  persistence.TaskStatusCancelled,
		persistence.TaskStatusCancelled:  persistence.TaskStatusTodo,
		"bogus":                          persistence.TaskStatusTodo,
	}
	for in, want := range cases {
		if got := nextStatus(in); got != want {
			t.Errorf("nextStatus(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("a longer title", 6); got != "a lon…" {
		t.Errorf("got %q", got)
	}
}

func TestHumanError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("boom"), "Boom"},
		{errors.New("POST /api/update-task: dial tcp: connection reset"), "Connection reset"},
		{fmt.Errorf("POST /api/delete-task: %w", &client.APIError{Status: 409, Code: "conflict", Message: "task is a prerequisite"}), "task is a prerequisite"},
		{fmt.Errorf("GET /api/get-tasks: %w", syscall.ECONNREFUSED), "Server not reachable (is `taskmaster serve` running?)"},
		{fmt.Errorf("GET /api/get-tasks: %w", context.DeadlineExceeded), "Server did not answer in time"},
	}
	for _, tc := range cases {
		if got := humanError(tc.err); got != tc.want {
			t.Errorf("humanError(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
