package persistence

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Sentinel kinds for task repository failures. Match with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

// TaskError is the closed set of domain failures returned by the task
// repository. Kind is one of ErrNotFound, ErrValidation or ErrConflict.
type TaskError struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Is matches the error against its Kind so errors.Is(err, ErrConflict) works.
func (e *TaskError) Is(target error) bool {
	return target == e.Kind
}

func (e *TaskError) Unwrap() error { return e.Err }

func notFoundf(op, format string, args ...any) error {
	return &TaskError{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func validationf(op, format string, args ...any) error {
	return &TaskError{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func conflictf(op, format string, args ...any) error {
	return &TaskError{Kind: ErrConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// opDeleteTask is the op name DeleteTaskByTitle reports. A foreign-key
// failure under it means the row is still referenced; under any other op it
// means a referenced row is missing.
const opDeleteTask = "delete task"

// classifyConstraint maps a SQLite constraint failure onto the task error
// taxonomy. Non-constraint errors are returned unchanged. SQLite reports an
// ON DELETE RESTRICT violation as SQLITE_CONSTRAINT_TRIGGER, so it is
// grouped with the foreign-key code.
func classifyConstraint(op string, err error) error {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) || sqlErr.Code != sqlite3.ErrConstraint {
		return err
	}
	switch sqlErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique:
		return &TaskError{Kind: ErrConflict, Op: op, Msg: "task with this title already exists", Err: err}
	case sqlite3.ErrConstraintPrimaryKey:
		return &TaskError{Kind: ErrConflict, Op: op, Msg: "duplicate key: " + sqlErr.Error(), Err: err}
	case sqlite3.ErrConstraintForeignKey, sqlite3.ErrConstraintTrigger:
		if op == opDeleteTask {
			return &TaskError{Kind: ErrConflict, Op: op, Msg: "task is still referenced as a prerequisite", Err: err}
		}
		return &TaskError{Kind: ErrValidation, Op: op, Msg: "prerequisite task does not exist", Err: err}
	default:
		return &TaskError{Kind: ErrValidation, Op: op, Msg: "invalid task data: " + sqlErr.Error(), Err: err}
	}
}
