package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func openRawStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "taskmaster.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// The statements below bypass the repository checks so the driver's own
// constraint errors reach classifyConstraint.
func TestClassifyConstraint_DriverErrors(t *testing.T) {
	s := openRawStore(t)
	ctx := context.Background()
	base, err := s.CreateTask(ctx, TaskInput{Title: "base", Description: "d", Status: TaskStatusTodo})
	if err != nil {
		t.Fatalf("create base: %v", err)
	}
	dep, err := s.CreateTask(ctx, TaskInput{
		Title: "dep", Description: "d", Status: TaskStatusTodo, PrerequisiteTasks: []string{base.ID},
	})
	if err != nil {
		t.Fatalf("create dep: %v", err)
	}
	now := formatTime(base.CreatedAt)

	tests := []struct {
		name   string
		op     string
		query  string
		args   []any
		kind   error
		msgHas string
		msgNot string
	}{
		{
			name:   "restrict on delete",
			op:     opDeleteTask,
			query:  `DELETE FROM tasks WHERE id = ?;`,
			args:   []any{base.ID},
			kind:   ErrConflict,
			msgHas: "still referenced",
		},
		{
			name:   "missing prerequisite on link",
			op:     "create task",
			query:  `INSERT INTO task_prerequisites (task_id, prerequisite_task_id) VALUES (?, ?);`,
			args:   []any{dep.ID, "no-such-task"},
			kind:   ErrValidation,
			msgHas: "prerequisite task does not exist",
		},
		{
			name:   "duplicate title",
			op:     "create task",
			query:  `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			args:   []any{"other-id", "base", "d", "TODO", 0, 0, nil, now, now},
			kind:   ErrConflict,
			msgHas: "title already exists",
		},
		{
			name:   "duplicate edge",
			op:     "update task",
			query:  `INSERT INTO task_prerequisites (task_id, prerequisite_task_id) VALUES (?, ?);`,
			args:   []any{dep.ID, base.ID},
			kind:   ErrConflict,
			msgHas: "duplicate key",
			msgNot: "title",
		},
		{
			name:   "check",
			op:     "update task",
			query:  `UPDATE tasks SET priority = -1 WHERE id = ?;`,
			args:   []any{dep.ID},
			kind:   ErrValidation,
			msgHas: "invalid task data",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, execErr := s.db.ExecContext(ctx, tc.query, tc.args...)
			if execErr == nil {
				t.Fatal("expected a constraint error from the driver")
			}
			err := classifyConstraint(tc.op, execErr)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("classify(%v) = %v, want kind %v", execErr, err, tc.kind)
			}
			var te *TaskError
			if !errors.As(err, &te) || te.Op != tc.op {
				t.Fatalf("expected TaskError with op %q, got %#v", tc.op, err)
			}
			if !strings.Contains(te.Msg, tc.msgHas) {
				t.Fatalf("message %q does not mention %q", te.Msg, tc.msgHas)
			}
			if tc.msgNot != "" && strings.Contains(te.Msg, tc.msgNot) {
				t.Fatalf("message %q should not mention %q", te.Msg, tc.msgNot)
			}
		})
	}

	plain := errors.New("disk I/O error")
	if got := classifyConstraint("list tasks", plain); got != plain {
		t.Fatalf("non-constraint errors must pass through unchanged, got %v", got)
	}
}
