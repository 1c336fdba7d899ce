// Package client talks to a running taskmaster server over HTTP and the
// websocket event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/taskmaster/internal/bus"
	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/tasks"
	"github.com/basket/taskmaster/internal/transcription"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Health mirrors the /healthz body.
type Health struct {
	Status            string `json:"status"`
	DBOK              bool   `json:"db_ok"`
	SchemaVersion     int    `json:"schema_version"`
	Version           string `json:"version"`
	ConfigFingerprint string `json:"config_fingerprint"`
	Generation        bool   `json:"generation"`
	Transcription     string `json:"transcription"`
	WSClients         int64  `json:"ws_clients"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New accepts a bind address ("127.0.0.1:8000") or a full base URL.
func New(addr, token string) *Client {
	return &Client{
		baseURL: BaseURL(addr),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// BaseURL normalizes a bind address into an http base URL. Wildcard hosts
// are dialed on loopback.
func BaseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		switch host {
		case "", "0.0.0.0", "::":
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, port)
	}
	return "http://" + addr
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/healthz", nil, "", &h)
	// A degraded server still answers with a body worth showing.
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable && h.Status != "" {
		return h, nil
	}
	return h, err
}

func (c *Client) ListTasks(ctx context.Context) ([]persistence.Task, error) {
	var out []persistence.Task
	if err := c.do(ctx, http.MethodGet, "/api/get-tasks", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTask(ctx context.Context, in persistence.TaskInput) (persistence.Task, error) {
	var out persistence.Task
	err := c.postJSON(ctx, "/api/create-task", in, &out)
	return out, err
}

func (c *Client) UpdateTask(ctx context.Context, title string, upd persistence.TaskUpdate) (persistence.Task, error) {
	body := struct {
		Title string `json:"title"`
		persistence.TaskUpdate
	}{Title: title, TaskUpdate: upd}
	var out persistence.Task
	err := c.postJSON(ctx, "/api/update-task", body, &out)
	return out, err
}

func (c *Client) DeleteTask(ctx context.Context, title string) (persistence.Task, error) {
	var out persistence.Task
	err := c.postJSON(ctx, "/api/delete-task", map[string]string{"title": title}, &out)
	return out, err
}

func (c *Client) GenerateTasks(ctx context.Context, req tasks.GenerateRequest) (tasks.GenerateResult, error) {
	var out tasks.GenerateResult
	err := c.postJSON(ctx, "/api/generate-tasks", req, &out)
	return out, err
}

// Transcribe uploads audio as the multipart "file" field.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (transcription.Result, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return transcription.Result{}, fmt.Errorf("read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return transcription.Result{}, fmt.Errorf("build upload: %w", err)
	}

	var out transcription.Result
	err = c.do(ctx, http.MethodPost, "/api/transcribe", &buf, mw.FormDataContentType(), &out)
	return out, err
}

// Watch streams task events to fn until ctx is done or the connection
// drops. The server's hello frame is skipped.
func (c *Client) Watch(ctx context.Context, fn func(bus.TaskEvent)) error {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return fmt.Errorf("parse ws url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if c.token != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.Dial(ctx, u.String(), opts)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	defer conn.CloseNow()

	for {
		var ev bus.TaskEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if ev.Type == "hello" {
			continue
		}
		fn(ev)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var eb struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			apiErr.Message, apiErr.Code = eb.Error, eb.Code
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		// Health bodies are informative even on 503.
		if out != nil && path == "/healthz" {
			_ = json.Unmarshal(raw, out)
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
