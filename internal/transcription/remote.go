package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// transcriptionAPI is the slice of the OpenAI client used here.
type transcriptionAPI interface {
	New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

const whisper1 = "whisper-1"

type remote struct {
	api      transcriptionAPI
	model    string
	language string
}

func newRemote(cfg Config) (*remote, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("%w: remote backend needs an OpenAI API key", ErrUnavailable)
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	model := cfg.RemoteModel
	if model == "" {
		model = whisper1
	}
	return &remote{api: &client.Audio.Transcriptions, model: model, language: cfg.Language}, nil
}

func (r *remote) Name() string { return BackendRemote }

// verboseBody is the extra detail whisper-1 returns for verbose_json.
type verboseBody struct {
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

func (r *remote) Transcribe(ctx context.Context, filename string, audio io.Reader) (Result, error) {
	suffix := NormalizeSuffix(filename)
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, "audio"+suffix, contentType(suffix)),
		Model: openai.AudioModel(r.model),
	}
	// Only whisper-1 supports verbose_json.
	verbose := r.model == whisper1
	if verbose {
		params.ResponseFormat = openai.AudioResponseFormatVerboseJSON
	}
	if r.language != "" {
		params.Language = openai.String(r.language)
	}

	resp, err := r.api.New(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("openai transcription: %w", err)
	}
	res := Result{Text: resp.Text}
	if verbose {
		if raw := resp.RawJSON(); raw != "" {
			var vb verboseBody
			if err := json.Unmarshal([]byte(raw), &vb); err == nil {
				res.Language = vb.Language
				res.Duration = vb.Duration
				res.Segments = vb.Segments
			}
		}
	}
	return res, nil
}
