package persistence_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/shared"
)

// BenchmarkStartup measures cold start: Open plus schema migration.
func BenchmarkStartup(b *testing.B) {
	for i := 0; i < b.N; i++ {
		store, err := persistence.Open(filepath.Join(b.TempDir(), "taskmaster.db"))
		if err != nil {
			b.Fatalf("open: %v", err)
		}
		_ = store.Close()
	}
}

func benchStore(b *testing.B, n int) *persistence.Store {
	b.Helper()
	store, err := persistence.Open(filepath.Join(b.TempDir(), "taskmaster.db"))
	if err != nil {
		b.Fatalf("open: %v", err)
	}
	b.Cleanup(func() { _ = store.Close() })
	var prev string
	for i := 0; i < n; i++ {
		in := persistence.TaskInput{Title: fmt.Sprintf("seed-%d", i), Status: persistence.TaskStatusTodo}
		if prev != "" {
			in.PrerequisiteTasks = []string{prev}
		}
		task, err := store.CreateTask(context.Background(), in)
		if err != nil {
			b.Fatalf("seed: %v", err)
		}
		prev = task.ID
	}
	return store
}

func BenchmarkCreateTask(b *testing.B) {
	store := benchStore(b, 0)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.CreateTask(ctx, persistence.TaskInput{
			Title:  fmt.Sprintf("bench-%d", i),
			Status: persistence.TaskStatusTodo,
		}); err != nil {
			b.Fatalf("create: %v", err)
		}
	}
}

func BenchmarkListTasks(b *testing.B) {
	store := benchStore(b, 200)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.ListTasks(ctx); err != nil {
			b.Fatalf("list: %v", err)
		}
	}
}

func BenchmarkUpdateTask(b *testing.B) {
	store := benchStore(b, 1)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.UpdateTaskByTitle(ctx, "seed-0", persistence.TaskUpdate{
			Priority: shared.Some(i % 10),
		}); err != nil {
			b.Fatalf("update: %v", err)
		}
	}
}
