// Package transcription converts uploaded audio to text, either through
// the OpenAI transcription API or a local whisper.cpp binary.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/taskmaster/internal/otel"
)

var (
	// ErrUnavailable means no backend is configured or installed.
	ErrUnavailable = errors.New("transcription unavailable")
	// ErrInvalidAudio means the upload cannot be transcribed as given.
	ErrInvalidAudio = errors.New("invalid audio")
)

const (
	BackendAuto   = "auto"
	BackendRemote = "remote"
	BackendLocal  = "local"
	BackendNone   = "none"
)

// Result is a finished transcript. Language, Duration and Segments are
// filled when the backend reports them.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	Backend  string    `json:"backend"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcriber turns audio into text. filename is only used for its suffix.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (Result, error)
	Name() string
}

type Config struct {
	Backend     string
	APIKey      string
	BaseURL     string
	RemoteModel string
	Language    string

	WhisperBinary string
	WhisperModel  string
	FFmpegBinary  string

	Timeout time.Duration
}

type Options struct {
	Metrics *otel.Metrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// New picks a backend. auto prefers remote when an API key is set and falls
// back to a local whisper.cpp install.
func New(cfg Config, opts Options) (Transcriber, error) {
	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer(otel.TracerName)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "transcription")

	var (
		inner Transcriber
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendRemote:
		inner, err = newRemote(cfg)
	case BackendLocal:
		inner, err = newLocal(cfg, execRunner{}, exec.LookPath, logger)
	case BackendAuto, "":
		if strings.TrimSpace(cfg.APIKey) != "" {
			inner, err = newRemote(cfg)
		} else {
			inner, err = newLocal(cfg, execRunner{}, exec.LookPath, logger)
		}
	case BackendNone:
		return nil, fmt.Errorf("%w: disabled by config", ErrUnavailable)
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("transcription backend ready", "backend", inner.Name())
	return &observed{
		inner:   inner,
		timeout: cfg.Timeout,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  logger,
	}, nil
}

// observed adds the timeout, span, metrics and logging around a backend.
type observed struct {
	inner   Transcriber
	timeout time.Duration
	metrics *otel.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

func (o *observed) Name() string { return o.inner.Name() }

func (o *observed) Transcribe(ctx context.Context, filename string, audio io.Reader) (res Result, err error) {
	start := time.Now()
	ctx, span := otel.StartClientSpan(ctx, o.tracer, "transcription.transcribe",
		otel.AttrTranscriptionBackend.String(o.inner.Name()))
	defer func() {
		o.metrics.RecordTranscription(ctx, o.inner.Name(), time.Since(start), err)
		otel.EndSpan(span, err)
		if err != nil {
			o.logger.WarnContext(ctx, "transcription failed", "filename", filename, "error", err)
			return
		}
		o.logger.InfoContext(ctx, "transcription complete",
			"chars", len(res.Text), "elapsed_ms", time.Since(start).Milliseconds())
	}()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	res, err = o.inner.Transcribe(ctx, filename, audio)
	if err != nil {
		return Result{}, err
	}
	res.Text = strings.TrimSpace(res.Text)
	res.Backend = o.inner.Name()
	return res, nil
}

// allowedSuffixes are the container formats the remote API accepts.
var allowedSuffixes = map[string]string{
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".mp4":  "audio/mp4",
	".mpeg": "audio/mpeg",
	".mpga": "audio/mpeg",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".webm": "audio/webm",
}

// defaultSuffix matches what browser MediaRecorder produces.
const defaultSuffix = ".webm"

// NormalizeSuffix returns the lowercased suffix of filename when it is an
// accepted audio format, and ".webm" otherwise.
func NormalizeSuffix(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedSuffixes[ext]; ok {
		return ext
	}
	return defaultSuffix
}

func contentType(suffix string) string {
	if ct, ok := allowedSuffixes[suffix]; ok {
		return ct
	}
	return "application/octet-stream"
}
