package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// runner executes external tools. Tests substitute a fake.
type runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
	}
	return stdout.Bytes(), nil
}

// needsConversion lists inputs whisper.cpp handles poorly; they are
// resampled to 16 kHz mono WAV first.
var needsConversion = map[string]bool{
	".webm": true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".m4a":  true,
	".mp4":  true,
	".mp3":  true,
}

type local struct {
	run      runner
	whisper  string
	model    string
	ffmpeg   string // empty when ffmpeg is not installed
	language string
	logger   *slog.Logger
}

func newLocal(cfg Config, run runner, lookPath func(string) (string, error), logger *slog.Logger) (*local, error) {
	bin := cfg.WhisperBinary
	if bin == "" {
		bin = "whisper-cli"
	}
	whisper, err := lookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found on PATH", ErrUnavailable, bin)
	}
	if strings.TrimSpace(cfg.WhisperModel) == "" {
		return nil, fmt.Errorf("%w: whisper model path not configured", ErrUnavailable)
	}
	if _, err := os.Stat(cfg.WhisperModel); err != nil {
		return nil, fmt.Errorf("%w: whisper model: %v", ErrUnavailable, err)
	}

	l := &local{
		run:      run,
		whisper:  whisper,
		model:    cfg.WhisperModel,
		language: cfg.Language,
		logger:   logger,
	}
	ff := cfg.FFmpegBinary
	if ff == "" {
		ff = "ffmpeg"
	}
	if path, err := lookPath(ff); err == nil {
		l.ffmpeg = path
	} else {
		logger.Warn("ffmpeg not found; compressed audio is passed to whisper as is", "binary", ff)
	}
	return l, nil
}

func (l *local) Name() string { return BackendLocal }

// localSuffix is NormalizeSuffix plus opus, which ffmpeg can read.
func localSuffix(filename string) string {
	if strings.EqualFold(filepath.Ext(filename), ".opus") {
		return ".opus"
	}
	return NormalizeSuffix(filename)
}

func (l *local) Transcribe(ctx context.Context, filename string, audio io.Reader) (Result, error) {
	dir, err := os.MkdirTemp("", "taskmaster-stt-*")
	if err != nil {
		return Result{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	suffix := localSuffix(filename)
	input := filepath.Join(dir, "input"+suffix)
	n, err := writeFile(input, audio)
	if err != nil {
		return Result{}, err
	}
	if n == 0 {
		return Result{}, fmt.Errorf("%w: empty upload", ErrInvalidAudio)
	}

	path := input
	if needsConversion[suffix] && l.ffmpeg != "" {
		wav := filepath.Join(dir, "input.16k.wav")
		if _, err := l.run.Run(ctx, l.ffmpeg,
			"-y", "-i", input, "-ac", "1", "-ar", "16000", "-f", "wav", wav); err != nil {
			return Result{}, fmt.Errorf("%w: convert to wav: %v", ErrInvalidAudio, err)
		}
		path = wav
	}

	lang := l.language
	if lang == "" {
		lang = "auto"
	}
	out, err := l.run.Run(ctx, l.whisper, "-m", l.model, "-f", path, "-l", lang, "-nt", "-np")
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("whisper timed out: %w", ctx.Err())
		}
		return Result{}, fmt.Errorf("whisper: %w", err)
	}
	res := Result{Text: joinLines(string(out))}
	if l.language != "" {
		res.Language = l.language
	}
	return res, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create temp audio: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write temp audio: %w", err)
	}
	return n, nil
}

// joinLines collapses whisper's per-segment lines into one paragraph.
func joinLines(s string) string {
	var parts []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
