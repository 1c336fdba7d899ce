// Package generation turns a meeting transcript into tasks by letting an
// LLM call the task service through genkit tools.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/taskmaster/internal/otel"
	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/safety"
	"github.com/basket/taskmaster/internal/tasks"
	"github.com/basket/taskmaster/internal/tokenutil"
)

// ErrUnavailable is returned by New when no model can be reached, usually
// because the provider has no API key.
var ErrUnavailable = errors.New("task generation unavailable")

// TaskService is the subset of the task service the tools drive.
// *tasks.Service implements it.
type TaskService interface {
	List(ctx context.Context) ([]persistence.Task, error)
	Create(ctx context.Context, in persistence.TaskInput) (persistence.Task, error)
	Update(ctx context.Context, title string, upd persistence.TaskUpdate) (persistence.Task, error)
	Delete(ctx context.Context, title string) (persistence.Task, error)
}

type Config struct {
	// Provider is one of "google", "anthropic", "openai", "openai_compatible".
	Provider string
	Model    string
	APIKey   string
	BaseURL  string

	// CompatibleProvider is the plugin name for openai_compatible endpoints.
	CompatibleProvider string

	MaxOutputTokens     int
	MaxTurns            int
	MaxTranscriptTokens int
	Timeout             time.Duration
}

type Options struct {
	Metrics *otel.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// completeFunc runs one tool-enabled model exchange and returns the final text.
type completeFunc func(ctx context.Context, system, prompt string) (string, error)

// Agent implements tasks.Generator.
type Agent struct {
	g       *genkit.Genkit
	svc     TaskService
	cfg     Config
	model   string
	tools   []ai.ToolRef
	screen  *safety.Screen
	schema  *jsonschema.Schema
	prompts *template.Template

	metrics *otel.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	complete completeFunc
}

// New initializes genkit with the configured provider and registers the task
// tools. It returns ErrUnavailable when cfg has no API key.
func New(ctx context.Context, cfg Config, svc TaskService, opts Options) (*Agent, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	cfg.Provider = provider
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: no API key for provider %q", ErrUnavailable, provider)
	}

	var g *genkit.Genkit
	switch provider {
	case "anthropic":
		g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
		}))
	case "openai":
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: "openai",
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
		}))
	case "openai_compatible":
		if cfg.CompatibleProvider == "" {
			cfg.CompatibleProvider = "compatible"
		}
		g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: cfg.CompatibleProvider,
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
		}))
	case "google":
		g = genkit.Init(ctx,
			genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: cfg.APIKey}),
			genkit.WithDefaultModel(modelName(cfg)),
		)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}

	a, err := newAgent(g, cfg, svc, opts)
	if err != nil {
		return nil, err
	}
	a.logger.Info("generation agent initialized", "provider", provider, "model", a.model, "tools", len(a.tools))
	return a, nil
}

func newAgent(g *genkit.Genkit, cfg Config, svc TaskService, opts Options) (*Agent, error) {
	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer(otel.TracerName)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 8
	}
	prompts, err := loadPrompts()
	if err != nil {
		return nil, err
	}
	schema, err := compileTaskSchema()
	if err != nil {
		return nil, err
	}
	a := &Agent{
		g:       g,
		svc:     svc,
		cfg:     cfg,
		model:   modelName(cfg),
		screen:  safety.NewScreen(),
		schema:  schema,
		prompts: prompts,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  opts.Logger.With("component", "generation"),
	}
	a.tools = a.defineTools()
	a.complete = a.generateWithTools
	return a, nil
}

// modelName maps a provider/model pair onto the genkit model registry name.
func modelName(cfg Config) string {
	model := strings.TrimSpace(cfg.Model)
	switch cfg.Provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible":
		if strings.HasPrefix(model, cfg.CompatibleProvider+"/") {
			return model
		}
		return cfg.CompatibleProvider + "/" + model
	default:
		return "googleai/" + model
	}
}

// Generate implements tasks.Generator. The model is expected to apply its
// changes through the tools and finish with a JSON array of the tasks it
// touched; only those that exist afterwards are returned.
func (a *Agent) Generate(ctx context.Context, req tasks.GenerateRequest) (result []persistence.Task, err error) {
	start := time.Now()
	ctx, span := otel.StartClientSpan(ctx, a.tracer, "generation.generate", otel.AttrModel.String(a.model))
	defer func() {
		a.metrics.RecordGeneration(ctx, a.model, time.Since(start), len(result))
		otel.EndSpan(span, err)
	}()

	transcript := strings.TrimSpace(req.Transcript)
	if transcript == "" {
		return nil, errors.New("generate: empty transcript")
	}
	finding := a.screen.Inspect(transcript)
	if err := finding.Err(); err != nil {
		a.logger.WarnContext(ctx, "transcript rejected", "rule", finding.Rule)
		return nil, fmt.Errorf("generate: %w", err)
	}
	if finding.Verdict == safety.VerdictFlag {
		a.logger.WarnContext(ctx, "transcript flagged", "rule", finding.Rule, "reason", finding.Reason)
	}
	if budget := a.cfg.MaxTranscriptTokens; budget > 0 {
		if trimmed, cut := tokenutil.Truncate(transcript, budget); cut {
			a.logger.InfoContext(ctx, "transcript truncated to token budget",
				"estimated_tokens", tokenutil.EstimateTokens(transcript), "budget", budget)
			transcript = trimmed
		}
	}

	system, prompt, err := a.render(transcript, req.ExistingTasks, time.Now())
	if err != nil {
		return nil, err
	}

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	text, err := a.complete(ctx, system, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	drafts, skipped := extractDrafts(text, a.schema)
	if skipped > 0 {
		a.logger.WarnContext(ctx, "skipped invalid generated entries", "skipped", skipped, "kept", len(drafts))
	}
	if len(drafts) == 0 {
		return nil, nil
	}
	return a.resolve(ctx, drafts)
}

func (a *Agent) generateWithTools(ctx context.Context, system, prompt string) (string, error) {
	// Both strings pass through fmt formatting inside genkit.
	opts := []ai.GenerateOption{
		ai.WithModelName(a.model),
		ai.WithSystem(strings.ReplaceAll(system, "%", "%%")),
		ai.WithPrompt(strings.ReplaceAll(prompt, "%", "%%")),
		ai.WithTools(a.tools...),
		ai.WithMaxTurns(a.cfg.MaxTurns),
	}
	if a.cfg.MaxOutputTokens > 0 {
		opts = append(opts, ai.WithConfig(&ai.GenerationCommonConfig{MaxOutputTokens: a.cfg.MaxOutputTokens}))
	}
	resp, err := genkit.Generate(ctx, a.g, opts...)
	if err != nil {
		return "", fmt.Errorf("genkit generate: %w", err)
	}
	return resp.Text(), nil
}

// resolve replaces drafts with the stored tasks of the same title, keeping
// the model's order and dropping duplicates and titles that do not exist.
func (a *Agent) resolve(ctx context.Context, drafts []draft) ([]persistence.Task, error) {
	current, err := a.svc.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate: list tasks: %w", err)
	}
	byTitle := make(map[string]persistence.Task, len(current))
	for _, t := range current {
		byTitle[t.Title] = t
	}
	seen := make(map[string]bool, len(drafts))
	out := make([]persistence.Task, 0, len(drafts))
	var missing []string
	for _, d := range drafts {
		if seen[d.Title] {
			continue
		}
		seen[d.Title] = true
		t, ok := byTitle[d.Title]
		if !ok {
			missing = append(missing, d.Title)
			continue
		}
		out = append(out, t)
	}
	if len(missing) > 0 {
		a.logger.InfoContext(ctx, "generated titles not found in store", "titles", missing)
	}
	return out, nil
}
