package transcription

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestNormalizeSuffix(t *testing.T) {
	tests := map[string]string{
		"meeting.MP3":      ".mp3",
		"clip.wav":         ".wav",
		"voice.ogg":        ".ogg",
		"recording":        ".webm",
		"notes.txt":        ".webm",
		"":                 ".webm",
		"dir.v2/audio.m4a": ".m4a",
		"weird.opus":       ".webm",
	}
	for in, want := range tests {
		if got := NormalizeSuffix(in); got != want {
			t.Errorf("NormalizeSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_BackendSelection(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantName    string
		unavailable bool
	}{
		{name: "none", cfg: Config{Backend: "none"}, unavailable: true},
		{name: "remote without key", cfg: Config{Backend: "remote"}, unavailable: true},
		{name: "remote", cfg: Config{Backend: "remote", APIKey: "sk-test"}, wantName: BackendRemote},
		{name: "auto with key", cfg: Config{Backend: "auto", APIKey: "sk-test"}, wantName: BackendRemote},
		{
			name:        "auto without key or whisper",
			cfg:         Config{Backend: "auto", WhisperBinary: "taskmaster-no-such-whisper"},
			unavailable: true,
		},
		{
			name:        "local without whisper",
			cfg:         Config{Backend: "local", WhisperBinary: "taskmaster-no-such-whisper"},
			unavailable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.cfg, Options{})
			if tt.unavailable {
				if !errors.Is(err, ErrUnavailable) {
					t.Fatalf("err = %v, want ErrUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if tr.Name() != tt.wantName {
				t.Fatalf("Name() = %q, want %q", tr.Name(), tt.wantName)
			}
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "carrier-pigeon"}, Options{})
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want unknown backend error", err)
	}
}

type stubTranscriber struct {
	text string
	err  error
}

func (s stubTranscriber) Name() string { return "stub" }

func (s stubTranscriber) Transcribe(context.Context, string, io.Reader) (Result, error) {
	return Result{Text: s.text}, s.err
}

func TestObserved_TrimsAndLabels(t *testing.T) {
	o := &observed{inner: stubTranscriber{text: "  hello there \n"}, tracer: noopTracer(), logger: discardLogger()}
	res, err := o.Transcribe(context.Background(), "a.wav", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" || res.Backend != "stub" {
		t.Fatalf("result = %+v", res)
	}
}

func TestObserved_PropagatesError(t *testing.T) {
	boom := errors.New("backend down")
	o := &observed{inner: stubTranscriber{err: boom}, tracer: noopTracer(), logger: discardLogger()}
	if _, err := o.Transcribe(context.Background(), "a.wav", strings.NewReader("x")); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
