package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/safety"
	"github.com/basket/taskmaster/internal/shared"
	"github.com/basket/taskmaster/internal/tasks"
)

// ToolTask is the task shape the model sees.
type ToolTask struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Status            string   `json:"status"`
	Priority          int      `json:"priority"`
	DurationSeconds   int      `json:"duration_seconds"`
	Deadline          string   `json:"deadline,omitempty"`
	PrerequisiteTasks []string `json:"prerequisite_tasks"`
}

// ToolResult carries either the affected task or a recoverable error the
// model can act on.
type ToolResult struct {
	Task  *ToolTask `json:"task,omitempty"`
	Error string    `json:"error,omitempty"`
	Code  string    `json:"code,omitempty"`
}

type ListTasksInput struct {
	Status string `json:"status,omitempty"`
}

type ListTasksOutput struct {
	Tasks []ToolTask `json:"tasks"`
}

type CreateTaskInput struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Status            string   `json:"status,omitempty"`
	Priority          int      `json:"priority,omitempty"`
	DurationSeconds   int      `json:"duration_seconds,omitempty"`
	Deadline          string   `json:"deadline,omitempty"`
	PrerequisiteTasks []string `json:"prerequisite_tasks,omitempty"`
}

// UpdateTaskInput uses pointers so omitted fields stay untouched. An empty
// Deadline clears it; a present PrerequisiteTasks (even empty) replaces the
// whole set.
type UpdateTaskInput struct {
	Title             string    `json:"title"`
	Description       *string   `json:"description,omitempty"`
	Status            *string   `json:"status,omitempty"`
	Priority          *int      `json:"priority,omitempty"`
	DurationSeconds   *int      `json:"duration_seconds,omitempty"`
	Deadline          *string   `json:"deadline,omitempty"`
	PrerequisiteTasks *[]string `json:"prerequisite_tasks,omitempty"`
}

type DeleteTaskInput struct {
	Title string `json:"title"`
}

func (a *Agent) defineTools() []ai.ToolRef {
	list := genkit.DefineTool(a.g, "list_tasks",
		"List current tasks, optionally filtered by status (TODO, IN_PROGRESS, COMPLETED, CANCELLED).",
		func(ctx *ai.ToolContext, input ListTasksInput) (out ListTasksOutput, err error) {
			defer a.observeTool(ctx, "list_tasks", time.Now(), &err)
			all, err := a.svc.List(ctx)
			if err != nil {
				return ListTasksOutput{}, err
			}
			want := strings.ToUpper(strings.TrimSpace(input.Status))
			out.Tasks = make([]ToolTask, 0, len(all))
			for _, t := range all {
				if want != "" && string(t.Status) != want {
					continue
				}
				out.Tasks = append(out.Tasks, toToolTask(t))
			}
			return out, nil
		},
	)

	create := genkit.DefineTool(a.g, "create_task",
		"Create a task. Title must be unique. Status defaults to TODO. Deadline is RFC 3339. prerequisite_tasks takes titles or ids of existing tasks.",
		func(ctx *ai.ToolContext, input CreateTaskInput) (out ToolResult, err error) {
			defer a.observeTool(ctx, "create_task", time.Now(), &err)
			in := persistence.TaskInput{
				Title:           strings.TrimSpace(input.Title),
				Description:     a.scrub(ctx, input.Description),
				Status:          persistence.TaskStatusTodo,
				Priority:        input.Priority,
				DurationSeconds: input.DurationSeconds,
			}
			if s := strings.TrimSpace(input.Status); s != "" {
				in.Status = persistence.TaskStatus(strings.ToUpper(s))
			}
			if input.Deadline != "" {
				d, perr := parseDeadline(input.Deadline)
				if perr != nil {
					return rejected(perr), nil
				}
				in.Deadline = &d
			}
			if len(input.PrerequisiteTasks) > 0 {
				ids, rerr := a.prerequisiteIDs(ctx, input.PrerequisiteTasks)
				if rerr != nil {
					return ToolResult{}, rerr
				}
				in.PrerequisiteTasks = ids
			}
			return toolResult(a.svc.Create(ctx, in))
		},
	)

	update := genkit.DefineTool(a.g, "update_task",
		"Update the task with the given title. Only the fields you pass change. An empty deadline clears it. prerequisite_tasks replaces the whole set.",
		func(ctx *ai.ToolContext, input UpdateTaskInput) (out ToolResult, err error) {
			defer a.observeTool(ctx, "update_task", time.Now(), &err)
			var upd persistence.TaskUpdate
			if input.Description != nil {
				upd.Description = shared.Some(a.scrub(ctx, *input.Description))
			}
			if input.Status != nil {
				upd.Status = shared.Some(persistence.TaskStatus(strings.ToUpper(strings.TrimSpace(*input.Status))))
			}
			if input.Priority != nil {
				upd.Priority = shared.Some(*input.Priority)
			}
			if input.DurationSeconds != nil {
				upd.DurationSeconds = shared.Some(*input.DurationSeconds)
			}
			if input.Deadline != nil {
				if strings.TrimSpace(*input.Deadline) == "" {
					upd.Deadline = shared.Null[time.Time]()
				} else {
					d, perr := parseDeadline(*input.Deadline)
					if perr != nil {
						return rejected(perr), nil
					}
					upd.Deadline = shared.Some(d)
				}
			}
			if input.PrerequisiteTasks != nil {
				ids, rerr := a.prerequisiteIDs(ctx, *input.PrerequisiteTasks)
				if rerr != nil {
					return ToolResult{}, rerr
				}
				upd.PrerequisiteTasks = shared.Some(ids)
			}
			return toolResult(a.svc.Update(ctx, strings.TrimSpace(input.Title), upd))
		},
	)

	del := genkit.DefineTool(a.g, "delete_task",
		"Delete the task with the given title. Fails while other tasks list it as a prerequisite.",
		func(ctx *ai.ToolContext, input DeleteTaskInput) (out ToolResult, err error) {
			defer a.observeTool(ctx, "delete_task", time.Now(), &err)
			return toolResult(a.svc.Delete(ctx, strings.TrimSpace(input.Title)))
		},
	)

	return []ai.ToolRef{list, create, update, del}
}

func (a *Agent) observeTool(ctx context.Context, name string, start time.Time, errp *error) {
	a.metrics.RecordToolCall(ctx, name, time.Since(start), *errp)
	if *errp != nil {
		a.logger.WarnContext(ctx, "tool call failed", "tool", name, "error", *errp)
		return
	}
	a.logger.DebugContext(ctx, "tool call", "tool", name)
}

// scrub redacts secrets the model copied from the transcript into text that
// will be stored.
func (a *Agent) scrub(ctx context.Context, text string) string {
	leaks := safety.FindLeaks(text)
	if len(leaks) == 0 {
		return text
	}
	kinds := make([]string, len(leaks))
	for i, l := range leaks {
		kinds[i] = l.Kind
	}
	a.logger.WarnContext(ctx, "redacted secrets from generated task text", "kinds", kinds)
	return shared.Redact(text)
}

// prerequisiteIDs maps each reference to a task id. References that match
// neither an id nor a title pass through so the repository reports them.
func (a *Agent) prerequisiteIDs(ctx context.Context, refs []string) ([]string, error) {
	if len(refs) == 0 {
		return []string{}, nil
	}
	current, err := a.svc.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(current))
	titles := make(map[string]string, len(current))
	for _, t := range current {
		ids[t.ID] = true
		titles[t.Title] = t.ID
	}
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		switch {
		case ids[ref]:
			out = append(out, ref)
		case titles[ref] != "":
			out = append(out, titles[ref])
		default:
			out = append(out, ref)
		}
	}
	return out, nil
}

// toolResult hands domain failures back to the model and aborts the run only
// on internal errors.
func toolResult(t persistence.Task, err error) (ToolResult, error) {
	if err != nil {
		code := tasks.CodeOf(err)
		if code == tasks.CodeInternal {
			return ToolResult{}, err
		}
		return ToolResult{Error: err.Error(), Code: string(code)}, nil
	}
	tt := toToolTask(t)
	return ToolResult{Task: &tt}, nil
}

func rejected(err error) ToolResult {
	return ToolResult{Error: err.Error(), Code: string(tasks.CodeInvalid)}
}

func toToolTask(t persistence.Task) ToolTask {
	tt := ToolTask{
		ID:                t.ID,
		Title:             t.Title,
		Description:       t.Description,
		Status:            string(t.Status),
		Priority:          t.Priority,
		DurationSeconds:   t.DurationSeconds,
		PrerequisiteTasks: t.PrerequisiteTasks,
	}
	if tt.PrerequisiteTasks == nil {
		tt.PrerequisiteTasks = []string{}
	}
	if t.Deadline != nil {
		tt.Deadline = t.Deadline.UTC().Format(time.RFC3339)
	}
	return tt
}

// parseDeadline accepts RFC 3339 or a bare date, which means midnight UTC.
func parseDeadline(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("deadline %q is not an RFC 3339 timestamp", raw)
}
