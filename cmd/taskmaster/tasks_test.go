package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/taskmaster/internal/persistence"
)

func decodeTask(t *testing.T, out string) persistence.Task {
	t.Helper()
	var list []persistence.Task
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d tasks, want 1", len(list))
	}
	return list[0]
}

func TestTasks_Lifecycle(t *testing.T) {
	setTestHome(t)
	url, _ := startServer(t)

	out, _, err := runCLI(t, "tasks", "create", "write report", "--addr", url, "--json",
		"--priority", "2", "--duration", "30m", "--deadline", "2030-01-02T15:00:00Z")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	report := decodeTask(t, out)
	if report.Priority != 2 || report.DurationSeconds != 1800 || report.Status != persistence.TaskStatusTodo {
		t.Fatalf("report = %+v", report)
	}
	if report.Deadline == nil || !report.Deadline.Equal(time.Date(2030, 1, 2, 15, 0, 0, 0, time.UTC)) {
		t.Fatalf("deadline = %v", report.Deadline)
	}

	out, _, err = runCLI(t, "tasks", "create", "review", "--addr", url, "--json", "--after", "write report")
	if err != nil {
		t.Fatalf("create review: %v", err)
	}
	review := decodeTask(t, out)
	if len(review.PrerequisiteTasks) != 1 || review.PrerequisiteTasks[0] != report.ID {
		t.Fatalf("prerequisites = %v, want [%s]", review.PrerequisiteTasks, report.ID)
	}

	out, _, err = runCLI(t, "tasks", "list", "--addr", url)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"TITLE", "write report", "review", "30m0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("list missing %q:\n%s", want, out)
		}
	}

	_, _, err = runCLI(t, "tasks", "delete", "write report", "--addr", url)
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("delete referenced: err = %v, want 409", err)
	}

	out, _, err = runCLI(t, "tasks", "update", "review", "--addr", url, "--json",
		"--status", "completed", "--clear-after")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	review = decodeTask(t, out)
	if review.Status != persistence.TaskStatusCompleted || len(review.PrerequisiteTasks) != 0 {
		t.Fatalf("review = %+v", review)
	}

	if _, _, err := runCLI(t, "tasks", "delete", "write report", "--addr", url); err != nil {
		t.Fatalf("delete: %v", err)
	}
	out, _, err = runCLI(t, "tasks", "list", "--addr", url, "--json")
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	var list []persistence.Task
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Title != "review" {
		t.Fatalf("list = %+v", list)
	}
}

func TestTasks_UpdateNeedsAField(t *testing.T) {
	setTestHome(t)
	url, _ := startServer(t)
	_, _, err := runCLI(t, "tasks", "update", "anything", "--addr", url)
	if err == nil || !strings.Contains(err.Error(), "nothing to update") {
		t.Fatalf("err = %v", err)
	}
}

func TestTasks_UpdateMissingIs404(t *testing.T) {
	setTestHome(t)
	url, _ := startServer(t)
	_, _, err := runCLI(t, "tasks", "update", "ghost", "--addr", url, "--priority", "3")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestTasks_EmptyListTable(t *testing.T) {
	setTestHome(t)
	url, _ := startServer(t)
	out, _, err := runCLI(t, "tasks", "list", "--addr", url)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "no tasks" {
		t.Fatalf("out = %q", out)
	}
}

func TestGenerate_FallsBackWithoutLLM(t *testing.T) {
	setTestHome(t)
	url, _ := startServer(t)
	if _, _, err := runCLI(t, "tasks", "create", "existing", "--addr", url); err != nil {
		t.Fatal(err)
	}

	file := filepath.Join(t.TempDir(), "meeting.txt")
	if err := os.WriteFile(file, []byte("we should ship the release on friday"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, stderr, err := runCLI(t, "generate", file, "--addr", url, "--json")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(stderr, "generation unavailable") {
		t.Fatalf("stderr = %q", stderr)
	}
	if got := decodeTask(t, out); got.Title != "existing" {
		t.Fatalf("task = %+v", got)
	}
}

func TestTranscribe_Unavailable(t *testing.T) {
	setTestHome(t)
	url, _ := startServer(t)
	file := filepath.Join(t.TempDir(), "memo.webm")
	if err := os.WriteFile(file, []byte("not really audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := runCLI(t, "transcribe", file, "--addr", url)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("err = %v, want 503", err)
	}
}

func TestParseDeadline(t *testing.T) {
	got, err := parseDeadline("2030-05-06T07:08:09Z")
	if err != nil || !got.Equal(time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)) {
		t.Fatalf("got %v, %v", got, err)
	}
	got, err = parseDeadline("2030-05-06")
	if err != nil || got.Year() != 2030 || got.Month() != time.May || got.Day() != 6 {
		t.Fatalf("got %v, %v", got, err)
	}
	if _, err := parseDeadline("next tuesday"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseStatus(t *testing.T) {
	if got := parseStatus(" in_progress "); got != persistence.TaskStatusInProgress {
		t.Fatalf("got %q", got)
	}
}
