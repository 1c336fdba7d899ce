// Package gateway is the HTTP surface of taskmaster: the task API,
// transcription uploads, health, and a websocket feed of task changes.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/taskmaster/internal/bus"
	"github.com/basket/taskmaster/internal/config"
	"github.com/basket/taskmaster/internal/otel"
	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/tasks"
	"github.com/basket/taskmaster/internal/transcription"
)

// TaskService is what the task routes call. *tasks.Service implements it.
type TaskService interface {
	Create(ctx context.Context, in persistence.TaskInput) (persistence.Task, error)
	Update(ctx context.Context, title string, upd persistence.TaskUpdate) (persistence.Task, error)
	Delete(ctx context.Context, title string) (persistence.Task, error)
	List(ctx context.Context) ([]persistence.Task, error)
	Generate(ctx context.Context, req tasks.GenerateRequest) (tasks.GenerateResult, error)
}

// HealthChecker reports database health. *persistence.Store implements it.
type HealthChecker interface {
	Ping(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)
}

type Config struct {
	Tasks  TaskService
	Health HealthChecker
	Bus    *bus.Bus

	// Transcriber is nil when no backend is available; /api/transcribe
	// then answers 503.
	Transcriber transcription.Transcriber

	// GenerationEnabled is reported by /healthz.
	GenerationEnabled bool

	// AuthToken enables bearer auth on everything but /healthz when set.
	AuthToken string

	// AllowOrigins lists accepted CORS and websocket origins; "*" allows any.
	AllowOrigins []string

	MaxRequestBytes int64
	MaxUploadBytes  int64
	RateLimit       config.RateLimitConfig

	ConfigFingerprint string
	Version           string

	Metrics *otel.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

type Server struct {
	cfg       Config
	logger    *slog.Logger
	limiter   *RateLimiter
	wsClients atomic.Int64
}

func New(cfg Config) *Server {
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer(otel.TracerName)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1 << 20
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "gateway"),
	}
	s.limiter = NewRateLimiter(cfg.RateLimit, cfg.Metrics, s.logger)
	return s
}

// StartBackgroundTasks runs housekeeping until ctx is done.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.limiter.RunJanitor(ctx, janitorEvery, clientIdle)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	jsonLimit := limitBody(s.cfg.MaxRequestBytes)
	// Multipart framing needs a little room on top of the file itself.
	uploadLimit := limitBody(s.cfg.MaxUploadBytes + 1<<20)

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/api/create-task", jsonLimit(http.HandlerFunc(s.handleCreateTask)))
	mux.Handle("/api/update-task", jsonLimit(http.HandlerFunc(s.handleUpdateTask)))
	mux.Handle("/api/delete-task", jsonLimit(http.HandlerFunc(s.handleDeleteTask)))
	mux.HandleFunc("/api/get-tasks", s.handleGetTasks)
	mux.Handle("/api/generate-tasks", jsonLimit(http.HandlerFunc(s.handleGenerateTasks)))
	mux.Handle("/api/transcribe", uploadLimit(http.HandlerFunc(s.handleTranscribe)))
	// Older desktop builds post here.
	mux.Handle("/transcribe", uploadLimit(http.HandlerFunc(s.handleTranscribe)))

	var h http.Handler = mux
	h = s.limiter.Middleware(h)
	h = RequireToken(s.cfg.AuthToken, s.logger)(h)
	h = CORS(s.cfg.AllowOrigins)(h)
	h = s.instrument(mux, h)
	return h
}
