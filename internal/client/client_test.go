package client_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/taskmaster/internal/bus"
	"github.com/basket/taskmaster/internal/client"
	"github.com/basket/taskmaster/internal/gateway"
	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/shared"
	"github.com/basket/taskmaster/internal/tasks"
)

func newServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "taskmaster.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	b := bus.New()
	srv := httptest.NewServer(gateway.New(gateway.Config{
		Tasks:     tasks.NewService(store, tasks.Options{Bus: b}),
		Health:    store,
		Bus:       b,
		AuthToken: token,
		Version:   "test",
	}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestBaseURL(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8000":         "http://127.0.0.1:8000",
		"0.0.0.0:8000":           "http://127.0.0.1:8000",
		":8000":                  "http://127.0.0.1:8000",
		"http://example.com/":    "http://example.com",
		"https://tasks.local:90": "https://tasks.local:90",
	}
	for in, want := range tests {
		if got := client.BaseURL(in); got != want {
			t.Errorf("BaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClient_TaskLifecycle(t *testing.T) {
	srv := newServer(t, "tok")
	c := client.New(srv.URL, "tok")
	ctx := context.Background()

	h, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if h.Status != "ok" || !h.DBOK {
		t.Fatalf("health = %+v", h)
	}

	first, err := c.CreateTask(ctx, persistence.TaskInput{Title: "plan", Status: persistence.TaskStatusTodo, Priority: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.CreateTask(ctx, persistence.TaskInput{Title: "ship", Status: persistence.TaskStatusTodo, PrerequisiteTasks: []string{first.ID}}); err != nil {
		t.Fatalf("create second: %v", err)
	}

	_, err = c.CreateTask(ctx, persistence.TaskInput{Title: "plan", Status: persistence.TaskStatusTodo})
	if !client.IsCode(err, "conflict") {
		t.Fatalf("expected conflict, got %v", err)
	}

	updated, err := c.UpdateTask(ctx, "plan", persistence.TaskUpdate{Status: shared.Some(persistence.TaskStatusInProgress)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != persistence.TaskStatusInProgress || updated.Priority != 1 {
		t.Fatalf("updated = %+v", updated)
	}

	if _, err := c.DeleteTask(ctx, "plan"); !client.IsCode(err, "conflict") {
		t.Fatalf("expected conflict deleting a prerequisite, got %v", err)
	}
	if _, err := c.DeleteTask(ctx, "ship"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	list, err := c.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "plan" {
		t.Fatalf("list = %+v", list)
	}

	res, err := c.GenerateTasks(ctx, tasks.GenerateRequest{Transcript: "hello"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Generated || len(res.Tasks) != 1 {
		t.Fatalf("generate = %+v, want fallback list", res)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	srv := newServer(t, "tok")
	_, err := client.New(srv.URL, "wrong").ListTasks(context.Background())
	if !client.IsCode(err, "unauthorized") {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestClient_TranscribeUnavailable(t *testing.T) {
	srv := newServer(t, "")
	_, err := client.New(srv.URL, "").Transcribe(context.Background(), "memo.webm", strings.NewReader("audio"))
	if !client.IsCode(err, "unavailable") {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestClient_Watch(t *testing.T) {
	srv := newServer(t, "tok")
	c := client.New(srv.URL, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := make(chan bus.TaskEvent, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, func(ev bus.TaskEvent) { events <- ev })
	}()

	// The subscription is live once the server reports a ws client.
	deadline := time.Now().Add(3 * time.Second)
	for {
		h, err := c.Health(ctx)
		if err == nil && h.WSClients > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("websocket client never connected")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, err := c.CreateTask(ctx, persistence.TaskInput{Title: "watched", Status: persistence.TaskStatusTodo}); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Type != bus.TaskCreated || ev.Title != "watched" {
			t.Fatalf("event = %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watch returned %v", err)
	}
}
