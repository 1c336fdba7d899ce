// Package tasks is the request-facing task layer: it calls the repository,
// converts its failures into Codes and announces committed changes.
package tasks

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/taskmaster/internal/bus"
	"github.com/basket/taskmaster/internal/otel"
	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/shared"
)

// Repository is the storage contract. *persistence.Store implements it.
type Repository interface {
	CreateTask(ctx context.Context, in persistence.TaskInput) (persistence.Task, error)
	UpdateTaskByTitle(ctx context.Context, title string, upd persistence.TaskUpdate) (persistence.Task, error)
	DeleteTaskByTitle(ctx context.Context, title string) (persistence.Task, error)
	ListTasks(ctx context.Context) ([]persistence.Task, error)
	GetTaskByTitle(ctx context.Context, title string) (*persistence.Task, error)
}

// GenerateRequest is the input to task generation.
type GenerateRequest struct {
	Transcript    string             `json:"transcript"`
	ExistingTasks []persistence.Task `json:"existing_tasks,omitempty"`
}

// GenerateResult reports the tasks produced. Generated is false when the
// service fell back to listing the current tasks.
type GenerateResult struct {
	Tasks     []persistence.Task `json:"tasks"`
	Generated bool               `json:"generated"`
}

// Generator turns a transcript into tasks, typically by calling back into
// the Service through tools.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]persistence.Task, error)
}

type Options struct {
	Bus     *bus.Bus
	Metrics *otel.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

type Service struct {
	repo    Repository
	bus     *bus.Bus
	metrics *otel.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	mu  sync.RWMutex
	gen Generator
}

func NewService(repo Repository, opts Options) *Service {
	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer(otel.TracerName)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  opts.Logger.With("component", "tasks"),
	}
}

// SetGenerator installs the generation agent. The agent is built after the
// service because its tools call back into it.
func (s *Service) SetGenerator(g Generator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen = g
}

func (s *Service) generator() Generator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *Service) Create(ctx context.Context, in persistence.TaskInput) (task persistence.Task, err error) {
	ctx, done := s.begin(ctx, "create", otel.AttrTaskTitle.String(in.Title))
	defer func() { done(err) }()

	task, err = s.repo.CreateTask(ctx, in)
	if err != nil {
		return persistence.Task{}, translate(err)
	}
	s.publish(ctx, bus.TaskCreated, task)
	return task, nil
}

func (s *Service) Update(ctx context.Context, title string, upd persistence.TaskUpdate) (task persistence.Task, err error) {
	ctx, done := s.begin(ctx, "update", otel.AttrTaskTitle.String(title))
	defer func() { done(err) }()

	if strings.TrimSpace(title) == "" {
		return persistence.Task{}, invalid("title is required")
	}
	task, err = s.repo.UpdateTaskByTitle(ctx, title, upd)
	if err != nil {
		return persistence.Task{}, translate(err)
	}
	s.publish(ctx, bus.TaskUpdated, task)
	return task, nil
}

func (s *Service) Delete(ctx context.Context, title string) (task persistence.Task, err error) {
	ctx, done := s.begin(ctx, "delete", otel.AttrTaskTitle.String(title))
	defer func() { done(err) }()

	if strings.TrimSpace(title) == "" {
		return persistence.Task{}, invalid("title is required")
	}
	task, err = s.repo.DeleteTaskByTitle(ctx, title)
	if err != nil {
		return persistence.Task{}, translate(err)
	}
	s.publish(ctx, bus.TaskDeleted, task)
	return task, nil
}

func (s *Service) List(ctx context.Context) (tasks []persistence.Task, err error) {
	ctx, done := s.begin(ctx, "list")
	defer func() { done(err) }()

	tasks, err = s.repo.ListTasks(ctx)
	if err != nil {
		return nil, translate(err)
	}
	if tasks == nil {
		tasks = []persistence.Task{}
	}
	return tasks, nil
}

// Get returns CodeNotFound when no task has the title.
func (s *Service) Get(ctx context.Context, title string) (task persistence.Task, err error) {
	ctx, done := s.begin(ctx, "get", otel.AttrTaskTitle.String(title))
	defer func() { done(err) }()

	found, err := s.repo.GetTaskByTitle(ctx, title)
	if err != nil {
		return persistence.Task{}, translate(err)
	}
	if found == nil {
		return persistence.Task{}, &Error{Code: CodeNotFound, Message: "task not found"}
	}
	return *found, nil
}

// Generate runs the generation agent over req.Transcript. When no agent is
// configured, the agent fails, or it yields nothing, the current task list is
// returned instead with Generated=false.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (res GenerateResult, err error) {
	ctx, done := s.begin(ctx, "generate")
	defer func() { done(err) }()

	if strings.TrimSpace(req.Transcript) == "" {
		return GenerateResult{}, invalid("transcript is required")
	}

	if gen := s.generator(); gen != nil {
		if req.ExistingTasks == nil {
			existing, lerr := s.repo.ListTasks(ctx)
			if lerr != nil {
				return GenerateResult{}, translate(lerr)
			}
			req.ExistingTasks = existing
		}
		generated, gerr := gen.Generate(ctx, req)
		switch {
		case gerr != nil:
			s.logger.WarnContext(ctx, "task generation failed; falling back to list", "error", gerr)
		case len(generated) == 0:
			s.logger.InfoContext(ctx, "task generation produced no tasks; falling back to list")
		default:
			s.publish(ctx, bus.TaskGenerated, generated)
			return GenerateResult{Tasks: generated, Generated: true}, nil
		}
	}

	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return GenerateResult{}, translate(err)
	}
	if tasks == nil {
		tasks = []persistence.Task{}
	}
	return GenerateResult{Tasks: tasks}, nil
}

func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, s.tracer, "tasks."+op, attrs...)
	return ctx, func(err error) {
		s.metrics.RecordTaskOp(ctx, op, outcome(err), time.Since(start))
		if err != nil && CodeOf(err) == CodeInternal {
			s.logger.ErrorContext(ctx, "task operation failed", "op", op, "error", err)
		}
		otel.EndSpan(span, err)
	}
}

func (s *Service) publish(ctx context.Context, typ string, payload any) {
	if s.bus == nil {
		return
	}
	ev := bus.TaskEvent{
		Type:    typ,
		Task:    payload,
		TraceID: shared.TraceID(ctx),
	}
	if t, ok := payload.(persistence.Task); ok {
		ev.TaskID = t.ID
		ev.Title = t.Title
	}
	s.bus.Publish(ev)
}
