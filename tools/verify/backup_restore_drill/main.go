package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/taskmaster/internal/cron"
	"github.com/basket/taskmaster/internal/persistence"
)

const drillTasks = 40

func main() {
	ctx := context.Background()
	baseDir, err := os.MkdirTemp("", "taskmaster-backup-drill-*")
	if err != nil {
		fmt.Printf("mktemp_error=%v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(baseDir)

	store, err := persistence.Open(filepath.Join(baseDir, "taskmaster.db"))
	if err != nil {
		fmt.Printf("open_store_error=%v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	var prev string
	for i := 0; i < drillTasks; i++ {
		in := persistence.TaskInput{
			Title:           fmt.Sprintf("drill-%02d", i),
			Status:          persistence.TaskStatusTodo,
			Priority:        i % 5,
			DurationSeconds: 600,
		}
		if prev != "" {
			in.PrerequisiteTasks = []string{prev}
		}
		task, err := store.CreateTask(ctx, in)
		if err != nil {
			fmt.Printf("create_task_error=%v\n", err)
			os.Exit(1)
		}
		prev = task.ID
	}

	backupStart := time.Now().UTC()
	backupPath, err := cron.Backup(ctx, store, filepath.Join(baseDir, "backups"), backupStart)
	if err != nil {
		fmt.Printf("backup_error=%v\n", err)
		os.Exit(1)
	}
	backupEnd := time.Now().UTC()

	restoreStart := time.Now().UTC()
	restored, err := persistence.Open(backupPath)
	if err != nil {
		fmt.Printf("open_restore_error=%v\n", err)
		os.Exit(1)
	}
	defer restored.Close()
	restoreEnd := time.Now().UTC()

	list, err := restored.ListTasks(ctx)
	if err != nil {
		fmt.Printf("list_tasks_error=%v\n", err)
		os.Exit(1)
	}
	edges := 0
	for _, t := range list {
		edges += len(t.PrerequisiteTasks)
	}

	fmt.Printf("backup_path=%s\n", backupPath)
	fmt.Printf("backup_duration=%s\n", backupEnd.Sub(backupStart))
	fmt.Printf("restore_duration=%s\n", restoreEnd.Sub(restoreStart))
	fmt.Printf("restored_tasks=%d\n", len(list))
	fmt.Printf("restored_prerequisites=%d\n", edges)

	if len(list) != drillTasks || edges != drillTasks-1 {
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}
