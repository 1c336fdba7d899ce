package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/taskmaster/internal/shared"
)

// TaskStatus is the lifecycle state of a task. Any state may follow any other.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "TODO"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// TaskStatuses lists every accepted status in display order.
var TaskStatuses = []TaskStatus{
	TaskStatusTodo,
	TaskStatusInProgress,
	TaskStatusCompleted,
	TaskStatusCancelled,
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is the fully materialized task row with its prerequisite ids.
type Task struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Status            TaskStatus `json:"status"`
	Priority          int        `json:"priority"`
	DurationSeconds   int        `json:"duration_seconds"`
	Deadline          *time.Time `json:"deadline"`
	PrerequisiteTasks []string   `json:"prerequisite_tasks"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TaskInput is the payload for CreateTask.
type TaskInput struct {
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Status            TaskStatus `json:"status"`
	Priority          int        `json:"priority"`
	DurationSeconds   int        `json:"duration_seconds"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	PrerequisiteTasks []string   `json:"prerequisite_tasks,omitempty"`
}

// TaskUpdate is a partial update. Absent fields are left untouched. An
// explicit null clears Deadline and PrerequisiteTasks; it is rejected for the
// non-nullable fields.
type TaskUpdate struct {
	Description       shared.Optional[string]     `json:"description,omitzero"`
	Status            shared.Optional[TaskStatus] `json:"status,omitzero"`
	Priority          shared.Optional[int]        `json:"priority,omitzero"`
	DurationSeconds   shared.Optional[int]        `json:"duration_seconds,omitzero"`
	Deadline          shared.Optional[time.Time]  `json:"deadline,omitzero"`
	PrerequisiteTasks shared.Optional[[]string]   `json:"prerequisite_tasks,omitzero"`
}

// Empty reports whether the update carries no fields at all.
func (u TaskUpdate) Empty() bool {
	return !u.Description.IsSet() && !u.Status.IsSet() && !u.Priority.IsSet() &&
		!u.DurationSeconds.IsSet() && !u.Deadline.IsSet() && !u.PrerequisiteTasks.IsSet()
}

const taskColumns = `id, title, description, status, priority, duration_seconds, deadline, created_at, updated_at`

func validateTaskInput(op string, in TaskInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return validationf(op, "title must not be empty")
	}
	if !in.Status.Valid() {
		return validationf(op, "invalid status %q", in.Status)
	}
	if in.Priority < 0 {
		return validationf(op, "priority must be >= 0")
	}
	if in.DurationSeconds < 0 {
		return validationf(op, "duration_seconds must be >= 0")
	}
	return nil
}

// CreateTask inserts a task and links its prerequisites in one transaction.
func (s *Store) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	const op = "create task"
	if err := validateTaskInput(op, in); err != nil {
		return Task{}, err
	}

	var created Task
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		existing, err := getTaskByTitleTx(ctx, tx, in.Title)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if existing != nil {
			return conflictf(op, "task with this title already exists")
		}

		prereqs, err := resolvePrerequisites(ctx, tx, op, in.PrerequisiteTasks)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		id := uuid.NewString()
		var deadline any
		if in.Deadline != nil {
			deadline = formatTime(*in.Deadline)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, id, in.Title, in.Description, string(in.Status), in.Priority, in.DurationSeconds,
			deadline, formatTime(now), formatTime(now)); err != nil {
			return classifyConstraint(op, fmt.Errorf("%s: insert: %w", op, err))
		}
		if err := linkPrerequisites(ctx, tx, op, id, prereqs); err != nil {
			return err
		}

		task, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("%s: reload: %w", op, err)
		}
		created = *task
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return created, nil
}

// UpdateTaskByTitle applies the present fields of upd to the task titled
// title. A present PrerequisiteTasks replaces the whole set.
func (s *Store) UpdateTaskByTitle(ctx context.Context, title string, upd TaskUpdate) (Task, error) {
	const op = "update task"
	if err := validateTaskUpdate(op, upd); err != nil {
		return Task{}, err
	}

	var updated Task
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		current, err := getTaskByTitleTx(ctx, tx, title)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if current == nil {
			return notFoundf(op, "task %q not found", title)
		}

		sets := make([]string, 0, 6)
		args := make([]any, 0, 8)
		if v, ok := upd.Description.Get(); ok {
			sets = append(sets, "description = ?")
			args = append(args, v)
		}
		if v, ok := upd.Status.Get(); ok {
			sets = append(sets, "status = ?")
			args = append(args, string(v))
		}
		if v, ok := upd.Priority.Get(); ok {
			sets = append(sets, "priority = ?")
			args = append(args, v)
		}
		if v, ok := upd.DurationSeconds.Get(); ok {
			sets = append(sets, "duration_seconds = ?")
			args = append(args, v)
		}
		if upd.Deadline.IsSet() {
			sets = append(sets, "deadline = ?")
			if v, ok := upd.Deadline.Get(); ok {
				args = append(args, formatTime(v))
			} else {
				args = append(args, nil)
			}
		}
		sets = append(sets, "updated_at = ?")
		args = append(args, formatTime(time.Now()), current.ID)

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?;`, args...); err != nil {
			return classifyConstraint(op, fmt.Errorf("%s: update row: %w", op, err))
		}

		if upd.PrerequisiteTasks.IsSet() {
			ids, _ := upd.PrerequisiteTasks.Get()
			for _, id := range ids {
				if id == current.ID {
					return validationf(op, "task cannot be its own prerequisite")
				}
			}
			prereqs, err := resolvePrerequisites(ctx, tx, op, ids)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM task_prerequisites WHERE task_id = ?;`, current.ID); err != nil {
				return fmt.Errorf("%s: clear prerequisites: %w", op, err)
			}
			if err := linkPrerequisites(ctx, tx, op, current.ID, prereqs); err != nil {
				return err
			}
		}

		task, err := getTaskTx(ctx, tx, current.ID)
		if err != nil {
			return fmt.Errorf("%s: reload: %w", op, err)
		}
		updated = *task
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return updated, nil
}

func validateTaskUpdate(op string, upd TaskUpdate) error {
	for name, null := range map[string]bool{
		"description":      upd.Description.IsNull(),
		"status":           upd.Status.IsNull(),
		"priority":         upd.Priority.IsNull(),
		"duration_seconds": upd.DurationSeconds.IsNull(),
	} {
		if null {
			return validationf(op, "%s cannot be null", name)
		}
	}
	if v, ok := upd.Status.Get(); ok && !v.Valid() {
		return validationf(op, "invalid status %q", v)
	}
	if v, ok := upd.Priority.Get(); ok && v < 0 {
		return validationf(op, "priority must be >= 0")
	}
	if v, ok := upd.DurationSeconds.Get(); ok && v < 0 {
		return validationf(op, "duration_seconds must be >= 0")
	}
	return nil
}

// DeleteTaskByTitle removes the task titled title along with its own
// prerequisite edges. It fails with ErrConflict while any other task still
// lists it as a prerequisite. The returned Task is the pre-delete snapshot.
func (s *Store) DeleteTaskByTitle(ctx context.Context, title string) (Task, error) {
	const op = opDeleteTask
	var snapshot Task
	err := s.withTx(ctx, op, func(tx *sql.Tx) error {
		current, err := getTaskByTitleTx(ctx, tx, title)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if current == nil {
			return notFoundf(op, "task %q not found", title)
		}

		dependents, err := dependentTitles(ctx, tx, current.ID)
		if err != nil {
			return fmt.Errorf("%s: dependents: %w", op, err)
		}
		if len(dependents) > 0 {
			return conflictf(op, "task is a prerequisite of: %s", strings.Join(dependents, ", "))
		}

		// The RESTRICT key still backstops a dependent linked by another writer.
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, current.ID); err != nil {
			return classifyConstraint(op, fmt.Errorf("%s: %w", op, err))
		}
		snapshot = *current
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return snapshot, nil
}

// ListTasks returns every task ordered by creation time, then id.
func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	// Rows and edges are read in one transaction so they describe the same
	// snapshot.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tasks: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		ORDER BY created_at ASC, id ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	index := make(map[string]int)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		index[task.ID] = len(out)
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	edges, err := tx.QueryContext(ctx, `
		SELECT task_id, prerequisite_task_id
		FROM task_prerequisites
		ORDER BY task_id, prerequisite_task_id;
	`)
	if err != nil {
		return nil, fmt.Errorf("list task prerequisites: %w", err)
	}
	defer edges.Close()
	for edges.Next() {
		var taskID, prereqID string
		if err := edges.Scan(&taskID, &prereqID); err != nil {
			return nil, fmt.Errorf("scan task prerequisite: %w", err)
		}
		if i, ok := index[taskID]; ok {
			out[i].PrerequisiteTasks = append(out[i].PrerequisiteTasks, prereqID)
		}
	}
	if err := edges.Err(); err != nil {
		return nil, fmt.Errorf("list task prerequisites: %w", err)
	}
	return out, nil
}

// GetTaskByTitle returns nil, nil when no task has that title.
func (s *Store) GetTaskByTitle(ctx context.Context, title string) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get task by title: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	task, err := getTaskByTitleTx(ctx, tx, title)
	if err != nil {
		return nil, fmt.Errorf("get task by title: %w", err)
	}
	return task, nil
}

// GetTask returns nil, nil when no task has that id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get task: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	task, err := getTaskTx(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// TaskCount is used by health checks and the doctor.
func (s *Store) TaskCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// resolvePrerequisites checks that every requested id exists. Duplicates in
// the request collapse; the result is the sorted distinct id list.
func resolvePrerequisites(ctx context.Context, tx *sql.Tx, op string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(ids))
	distinct := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}
	sort.Strings(distinct)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(distinct)), ",")
	args := make([]any, len(distinct))
	for i, id := range distinct {
		args[i] = id
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM tasks WHERE id IN (`+placeholders+`);`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: resolve prerequisites: %w", op, err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(distinct))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan prerequisite: %w", op, err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: resolve prerequisites: %w", op, err)
	}
	if len(found) != len(distinct) {
		var missing []string
		for _, id := range distinct {
			if _, ok := found[id]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, validationf(op, "one or more prerequisite tasks do not exist: %s", strings.Join(missing, ", "))
	}
	return distinct, nil
}

func linkPrerequisites(ctx context.Context, tx *sql.Tx, op, taskID string, prereqs []string) error {
	for _, p := range prereqs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_prerequisites (task_id, prerequisite_task_id) VALUES (?, ?);
		`, taskID, p); err != nil {
			return classifyConstraint(op, fmt.Errorf("%s: link prerequisite: %w", op, err))
		}
	}
	return nil
}

func dependentTitles(ctx context.Context, tx *sql.Tx, id string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT t.title
		FROM task_prerequisites p
		JOIN tasks t ON t.id = p.task_id
		WHERE p.prerequisite_task_id = ?
		ORDER BY t.title;
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

func getTaskByTitleTx(ctx context.Context, tx *sql.Tx, title string) (*Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE title = ?;`, title)
	return loadTask(ctx, tx, row)
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id string) (*Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id)
	return loadTask(ctx, tx, row)
}

func loadTask(ctx context.Context, tx *sql.Tx, row *sql.Row) (*Task, error) {
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT prerequisite_task_id FROM task_prerequisites
		WHERE task_id = ?
		ORDER BY prerequisite_task_id;
	`, task.ID)
	if err != nil {
		return nil, fmt.Errorf("load prerequisites: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan prerequisite: %w", err)
		}
		task.PrerequisiteTasks = append(task.PrerequisiteTasks, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load prerequisites: %w", err)
	}
	return &task, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t                  Task
		status             string
		deadline           sql.NullString
		createdAt, updated string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &t.Priority,
		&t.DurationSeconds, &deadline, &createdAt, &updated); err != nil {
		return Task{}, err
	}
	t.Status = TaskStatus(status)
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Task{}, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return Task{}, err
	}
	if deadline.Valid {
		d, err := parseTime(deadline.String)
		if err != nil {
			return Task{}, err
		}
		t.Deadline = &d
	}
	t.PrerequisiteTasks = []string{}
	return t, nil
}
