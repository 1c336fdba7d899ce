package persistence_test

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/shared"
)

func mustCreate(t *testing.T, store *persistence.Store, title string, prereqs ...string) persistence.Task {
	t.Helper()
	task, err := store.CreateTask(context.Background(), persistence.TaskInput{
		Title:             title,
		Description:       "desc " + title,
		Status:            persistence.TaskStatusTodo,
		Priority:          1,
		DurationSeconds:   60,
		PrerequisiteTasks: prereqs,
	})
	if err != nil {
		t.Fatalf("create %q: %v", title, err)
	}
	return task
}

func countTasks(t *testing.T, store *persistence.Store) int {
	t.Helper()
	n, err := store.TaskCount(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestCreateTask_RoundTripThroughList(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	deadline := time.Date(2026, 3, 1, 17, 0, 0, 0, time.FixedZone("CET", 3600))
	created, err := store.CreateTask(ctx, persistence.TaskInput{
		Title:           "t1",
		Description:     "first",
		Status:          persistence.TaskStatusTodo,
		Priority:        1,
		DurationSeconds: 120,
		Deadline:        &deadline,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("expected server-assigned fields, got %+v", created)
	}
	if created.Deadline == nil || !created.Deadline.Equal(deadline) {
		t.Fatalf("deadline mismatch: %v", created.Deadline)
	}
	if created.PrerequisiteTasks == nil || len(created.PrerequisiteTasks) != 0 {
		t.Fatalf("expected empty non-nil prerequisites, got %#v", created.PrerequisiteTasks)
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	got := tasks[0]
	if got.Title != "t1" || got.Priority != 1 || got.DurationSeconds != 120 {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.ID != created.ID {
		t.Fatalf("id mismatch: %s vs %s", got.ID, created.ID)
	}
}

func TestCreateTask_DuplicateTitleConflictNoRowWritten(t *testing.T) {
	store, _ := openTestStore(t)
	mustCreate(t, store, "dup")

	_, err := store.CreateTask(context.Background(), persistence.TaskInput{
		Title: "dup", Description: "again", Status: persistence.TaskStatusTodo,
	})
	if !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if n := countTasks(t, store); n != 1 {
		t.Fatalf("expected 1 row after failed duplicate, got %d", n)
	}
}

func TestCreateTask_TitleIsCaseSensitive(t *testing.T) {
	store, _ := openTestStore(t)
	mustCreate(t, store, "Report")
	mustCreate(t, store, "report")
	if n := countTasks(t, store); n != 2 {
		t.Fatalf("expected 2 tasks, got %d", n)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	store, _ := openTestStore(t)
	tests := []struct {
		name string
		in   persistence.TaskInput
	}{
		{"empty title", persistence.TaskInput{Title: " ", Description: "d", Status: persistence.TaskStatusTodo}},
		{"bad status", persistence.TaskInput{Title: "a", Description: "d", Status: "DONE"}},
		{"missing status", persistence.TaskInput{Title: "b", Description: "d"}},
		{"negative priority", persistence.TaskInput{Title: "c", Description: "d", Status: persistence.TaskStatusTodo, Priority: -1}},
		{"negative duration", persistence.TaskInput{Title: "e", Description: "d", Status: persistence.TaskStatusTodo, DurationSeconds: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateTask(context.Background(), tt.in)
			if !errors.Is(err, persistence.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if n := countTasks(t, store); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}
}

func TestStore_CheckConstraintsBackstopValidation(t *testing.T) {
	store, _ := openTestStore(t)
	_, err := store.DB().Exec(`INSERT INTO tasks (id, title, description, status, priority, duration_seconds, created_at, updated_at)
		VALUES ('x', 'raw', 'd', 'TODO', -1, 0, 'now', 'now');`)
	if err == nil || !strings.Contains(err.Error(), "CHECK constraint failed") {
		t.Fatalf("expected CHECK failure, got %v", err)
	}
}

func TestCreateTask_UnknownPrerequisiteRejectedWholesale(t *testing.T) {
	store, _ := openTestStore(t)
	valid := mustCreate(t, store, "valid")

	for _, prereqs := range [][]string{
		{"00000000-0000-0000-0000-000000000000"},
		{valid.ID, "00000000-0000-0000-0000-000000000000"},
	} {
		_, err := store.CreateTask(context.Background(), persistence.TaskInput{
			Title: "dependent", Description: "d", Status: persistence.TaskStatusTodo,
			PrerequisiteTasks: prereqs,
		})
		if !errors.Is(err, persistence.ErrValidation) {
			t.Fatalf("prereqs %v: expected ErrValidation, got %v", prereqs, err)
		}
	}
	if n := countTasks(t, store); n != 1 {
		t.Fatalf("expected only the valid task, got %d rows", n)
	}
}

func TestCreateTask_DuplicatePrerequisitesCollapse(t *testing.T) {
	store, _ := openTestStore(t)
	a := mustCreate(t, store, "a")
	b := mustCreate(t, store, "b", a.ID, a.ID)
	if len(b.PrerequisiteTasks) != 1 || b.PrerequisiteTasks[0] != a.ID {
		t.Fatalf("expected single prerequisite %s, got %v", a.ID, b.PrerequisiteTasks)
	}
}

func TestUpdateTaskByTitle_PartialFields(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	orig := mustCreate(t, store, "task-b")

	got, err := store.UpdateTaskByTitle(ctx, "task-b", persistence.TaskUpdate{
		Description: shared.Some("new"),
		Status:      shared.Some(persistence.TaskStatusInProgress),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Description != "new" || got.Status != persistence.TaskStatusInProgress {
		t.Fatalf("fields not applied: %+v", got)
	}
	if got.Title != "task-b" || got.ID != orig.ID {
		t.Fatalf("identity changed: %+v", got)
	}
	if got.Priority != orig.Priority || got.DurationSeconds != orig.DurationSeconds {
		t.Fatalf("untouched fields changed: %+v", got)
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Fatalf("created_at changed: %v -> %v", orig.CreatedAt, got.CreatedAt)
	}
	if got.UpdatedAt.Before(orig.UpdatedAt) {
		t.Fatalf("updated_at moved backwards: %v -> %v", orig.UpdatedAt, got.UpdatedAt)
	}
}

func TestUpdateTaskByTitle_NotFound(t *testing.T) {
	store, _ := openTestStore(t)
	_, err := store.UpdateTaskByTitle(context.Background(), "ghost", persistence.TaskUpdate{
		Description: shared.Some("x"),
	})
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTaskByTitle_PrerequisiteSemantics(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, store, "a")
	b := mustCreate(t, store, "b")
	mustCreate(t, store, "c", a.ID)

	// Absent field leaves the set untouched.
	got, err := store.UpdateTaskByTitle(ctx, "c", persistence.TaskUpdate{Priority: shared.Some(5)})
	if err != nil {
		t.Fatalf("update priority: %v", err)
	}
	if !slices.Equal(got.PrerequisiteTasks, []string{a.ID}) {
		t.Fatalf("expected prerequisites unchanged, got %v", got.PrerequisiteTasks)
	}

	// Present set replaces wholesale.
	got, err = store.UpdateTaskByTitle(ctx, "c", persistence.TaskUpdate{
		PrerequisiteTasks: shared.Some([]string{b.ID}),
	})
	if err != nil {
		t.Fatalf("replace prerequisites: %v", err)
	}
	if !slices.Equal(got.PrerequisiteTasks, []string{b.ID}) {
		t.Fatalf("expected [%s], got %v", b.ID, got.PrerequisiteTasks)
	}

	// Unknown id mixed with valid ones is rejected and nothing changes.
	_, err = store.UpdateTaskByTitle(ctx, "c", persistence.TaskUpdate{
		Description:       shared.Some("should roll back"),
		PrerequisiteTasks: shared.Some([]string{a.ID, "missing"}),
	})
	if !errors.Is(err, persistence.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	after, err := store.GetTaskByTitle(ctx, "c")
	if err != nil || after == nil {
		t.Fatalf("get c: %v", err)
	}
	if after.Description == "should roll back" {
		t.Fatal("partial write survived a failed update")
	}
	if !slices.Equal(after.PrerequisiteTasks, []string{b.ID}) {
		t.Fatalf("prerequisites changed by failed update: %v", after.PrerequisiteTasks)
	}

	// Explicit empty set clears.
	got, err = store.UpdateTaskByTitle(ctx, "c", persistence.TaskUpdate{
		PrerequisiteTasks: shared.Some([]string{}),
	})
	if err != nil {
		t.Fatalf("clear prerequisites: %v", err)
	}
	if len(got.PrerequisiteTasks) != 0 {
		t.Fatalf("expected cleared prerequisites, got %v", got.PrerequisiteTasks)
	}

	// Explicit null clears too.
	if _, err := store.UpdateTaskByTitle(ctx, "c", persistence.TaskUpdate{
		PrerequisiteTasks: shared.Some([]string{a.ID}),
	}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	got, err = store.UpdateTaskByTitle(ctx, "c", persistence.TaskUpdate{
		PrerequisiteTasks: shared.Null[[]string](),
	})
	if err != nil {
		t.Fatalf("null prerequisites: %v", err)
	}
	if len(got.PrerequisiteTasks) != 0 {
		t.Fatalf("expected cleared prerequisites, got %v", got.PrerequisiteTasks)
	}
}

func TestUpdateTaskByTitle_SelfPrerequisiteRejected(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, store, "self")

	_, err := store.UpdateTaskByTitle(ctx, "self", persistence.TaskUpdate{
		PrerequisiteTasks: shared.Some([]string{a.ID}),
	})
	if !errors.Is(err, persistence.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	// The store refuses it even when the repository check is bypassed.
	_, err = store.DB().Exec(`INSERT INTO task_prerequisites (task_id, prerequisite_task_id) VALUES (?, ?);`, a.ID, a.ID)
	if err == nil {
		t.Fatal("expected CHECK constraint to reject self edge")
	}
}

func TestUpdateTaskByTitle_DeadlineClearAndNullGuards(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	mustCreate(t, store, "dl")

	when := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	got, err := store.UpdateTaskByTitle(ctx, "dl", persistence.TaskUpdate{Deadline: shared.Some(when)})
	if err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if got.Deadline == nil || !got.Deadline.Equal(when) {
		t.Fatalf("expected deadline %v, got %v", when, got.Deadline)
	}

	got, err = store.UpdateTaskByTitle(ctx, "dl", persistence.TaskUpdate{Deadline: shared.Null[time.Time]()})
	if err != nil {
		t.Fatalf("clear deadline: %v", err)
	}
	if got.Deadline != nil {
		t.Fatalf("expected nil deadline, got %v", got.Deadline)
	}

	for name, upd := range map[string]persistence.TaskUpdate{
		"null status":       {Status: shared.Null[persistence.TaskStatus]()},
		"null priority":     {Priority: shared.Null[int]()},
		"negative duration": {DurationSeconds: shared.Some(-1)},
		"invalid status":    {Status: shared.Some(persistence.TaskStatus("BLOCKED"))},
	} {
		if _, err := store.UpdateTaskByTitle(ctx, "dl", upd); !errors.Is(err, persistence.ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}

func TestDeleteTaskByTitle_RestrictWhenReferenced(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, store, "base")
	mustCreate(t, store, "depends", a.ID)

	_, err := store.DeleteTaskByTitle(ctx, "base")
	if !errors.Is(err, persistence.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "depends") {
		t.Fatalf("expected dependent title in error, got %q", err.Error())
	}
	if got, _ := store.GetTaskByTitle(ctx, "base"); got == nil {
		t.Fatal("referenced task was deleted")
	}
}

func TestDeleteTaskByTitle_CascadesOwnEdges(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, store, "upstream")
	d := mustCreate(t, store, "downstream", a.ID)

	snapshot, err := store.DeleteTaskByTitle(ctx, "downstream")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if snapshot.ID != d.ID || !slices.Equal(snapshot.PrerequisiteTasks, []string{a.ID}) {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	var edges int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM task_prerequisites WHERE task_id = ?;`, d.ID).Scan(&edges); err != nil {
		t.Fatalf("count edges: %v", err)
	}
	if edges != 0 {
		t.Fatalf("expected outgoing edges removed, got %d", edges)
	}

	// With no dependents left, the upstream task can now go.
	if _, err := store.DeleteTaskByTitle(ctx, "upstream"); err != nil {
		t.Fatalf("delete upstream: %v", err)
	}
}

func TestDeleteTaskByTitle_ThenAbsent(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	mustCreate(t, store, "task-d")

	if _, err := store.DeleteTaskByTitle(ctx, "task-d"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := store.GetTaskByTitle(ctx, "task-d")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent, got %+v", got)
	}

	if _, err := store.DeleteTaskByTitle(ctx, "task-d"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListTasks_OrderedAndResolved(t *testing.T) {
	store, _ := openTestStore(t)
	a := mustCreate(t, store, "one")
	b := mustCreate(t, store, "two", a.ID)
	c := mustCreate(t, store, "three", a.ID, b.ID)

	tasks, err := store.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	titles := make([]string, len(tasks))
	for i, task := range tasks {
		titles[i] = task.Title
	}
	if !slices.Equal(titles, []string{"one", "two", "three"}) {
		t.Fatalf("unexpected order: %v", titles)
	}
	want := []string{a.ID, b.ID}
	slices.Sort(want)
	if !slices.Equal(tasks[2].PrerequisiteTasks, want) {
		t.Fatalf("expected %v, got %v", want, tasks[2].PrerequisiteTasks)
	}
	if tasks[2].ID != c.ID {
		t.Fatalf("id mismatch")
	}
}

func TestGetTask_ByID(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, store, "by-id")

	got, err := store.GetTask(ctx, a.ID)
	if err != nil || got == nil || got.Title != "by-id" {
		t.Fatalf("get by id: %+v, %v", got, err)
	}
	missing, err := store.GetTask(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", missing, err)
	}
}

func TestCreateTask_ConcurrentWritersSerialize(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateTask(ctx, persistence.TaskInput{
				Title: "same", Description: "race", Status: persistence.TaskStatusTodo,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, persistence.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 19 {
		t.Fatalf("expected 1 success and 19 conflicts, got %d/%d", ok, conflicts)
	}
}

func TestListTasks_ConsistentWhileWriting(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	root := mustCreate(t, store, "root")

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			title := "leaf-" + strconv.Itoa(i)
			if _, err := store.CreateTask(ctx, persistence.TaskInput{
				Title: title, Description: "d", Status: persistence.TaskStatusTodo,
				PrerequisiteTasks: []string{root.ID},
			}); err != nil {
				t.Errorf("create %s: %v", title, err)
				return
			}
			if _, err := store.DeleteTaskByTitle(ctx, title); err != nil {
				t.Errorf("delete %s: %v", title, err)
				return
			}
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	for i := 0; i < 200; i++ {
		list, err := store.ListTasks(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, task := range list {
			if strings.HasPrefix(task.Title, "leaf-") && !slices.Equal(task.PrerequisiteTasks, []string{root.ID}) {
				t.Fatalf("%s listed with prerequisites %v, want [%s]", task.Title, task.PrerequisiteTasks, root.ID)
			}
		}
	}
}
