// Package doctor checks that a taskmaster install can serve: config, model
// credentials, the database, transcription tooling and the listen address.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/basket/taskmaster/internal/config"
	"github.com/basket/taskmaster/internal/persistence"
)

type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
	StatusSkip Status = "SKIP"
)

type Result struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Version     string    `json:"version"`
	Platform    string    `json:"platform"`
	Results     []Result  `json:"results"`
}

// Failed reports whether any check failed outright. Warnings do not count.
func (r Report) Failed() bool {
	return r.Count(StatusFail) > 0
}

func (r Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Swapped in tests.
var (
	lookPath = exec.LookPath
	dialer   = &net.Dialer{}
)

// checkTimeout bounds each check; the network probe is the slow one.
const checkTimeout = 5 * time.Second

type check struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) Result
}

var checks = []check{
	{"Config", checkConfig},
	{"API Key", checkAPIKey},
	{"Database", checkDatabase},
	{"Home Dir", checkHomeDir},
	{"Transcription", checkTranscription},
	{"Bind Address", checkBindAddr},
	{"Network", checkNetwork},
}

// Run executes every check concurrently and returns the results in a fixed
// order. With a nil cfg only the config check runs; the rest are skipped.
func Run(ctx context.Context, cfg *config.Config, version string) Report {
	rep := Report{
		GeneratedAt: time.Now().UTC(),
		Version:     version,
		Platform:    fmt.Sprintf("%s/%s %s", runtime.GOOS, runtime.GOARCH, runtime.Version()),
		Results:     make([]Result, len(checks)),
	}
	var wg sync.WaitGroup
	for i, c := range checks {
		if cfg == nil && c.name != "Config" {
			rep.Results[i] = Result{Name: c.name, Status: StatusSkip, Message: "Config not loaded"}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			res := c.run(cctx, cfg)
			res.Name = c.name
			res.ElapsedMS = time.Since(start).Milliseconds()
			rep.Results[i] = res
		}()
	}
	wg.Wait()
	return rep
}

func pass(msg string, args ...any) Result {
	return Result{Status: StatusPass, Message: fmt.Sprintf(msg, args...)}
}
func warn(msg string, args ...any) Result {
	return Result{Status: StatusWarn, Message: fmt.Sprintf(msg, args...)}
}
func fail(msg string, args ...any) Result {
	return Result{Status: StatusFail, Message: fmt.Sprintf(msg, args...)}
}

func (r Result) with(detail string) Result {
	r.Detail = detail
	return r
}

func checkConfig(_ context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return fail("Configuration not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return fail("Configuration invalid").with(err.Error())
	}
	if cfg.FirstRun {
		return warn("No config.yaml in %s; using defaults", cfg.HomeDir)
	}
	return pass("Loaded from %s", config.ConfigPath(cfg.HomeDir))
}

func checkAPIKey(_ context.Context, cfg *config.Config) Result {
	provider, model, key := cfg.ResolveLLM()
	if key == "" {
		return warn("No API key for %s; generate will return the current task list", provider).
			with("set the provider's API key variable or providers." + provider + ".api_key in config.yaml")
	}
	return pass("Key found for %s (model %s)", provider, model)
}

func checkDatabase(ctx context.Context, cfg *config.Config) Result {
	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fail("Open failed: %v", err).with(cfg.DBPath)
	}
	defer store.Close()
	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return fail("Query failed: %v", err)
	}
	count, err := store.TaskCount(ctx)
	if err != nil {
		return fail("Query failed: %v", err)
	}
	return pass("Schema v%d, %d tasks", version, count).with(cfg.DBPath)
}

func checkHomeDir(_ context.Context, cfg *config.Config) Result {
	f, err := os.CreateTemp(cfg.HomeDir, ".doctor-*")
	if err != nil {
		return fail("%s is not writable: %v", cfg.HomeDir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return pass("%s writable", cfg.HomeDir)
}

func checkTranscription(_ context.Context, cfg *config.Config) Result {
	tc := cfg.Transcription
	if tc.Backend == "none" {
		return Result{Status: StatusSkip, Message: "Transcription disabled"}
	}
	remoteKey := cfg.ProviderAPIKey("openai")
	if tc.Backend == "remote" || tc.Backend == "auto" && remoteKey != "" {
		if remoteKey == "" {
			return fail("Remote backend selected but OPENAI_API_KEY is not set")
		}
		return pass("Remote backend (%s)", tc.RemoteModel)
	}

	// Local whisper: binary and model are required, ffmpeg only widens the
	// accepted formats.
	res := pass("Local whisper backend ready")
	var notes []string
	if _, err := lookPath(tc.WhisperBinary); err != nil {
		notes = append(notes, tc.WhisperBinary+" not on PATH")
		res = fail("Local whisper backend unavailable")
	}
	if tc.WhisperModel == "" {
		notes = append(notes, "no model configured (set WHISPER_MODEL)")
		res = fail("Local whisper backend unavailable")
	} else if _, err := os.Stat(tc.WhisperModel); err != nil {
		notes = append(notes, "model "+filepath.Base(tc.WhisperModel)+" not found")
		res = fail("Local whisper backend unavailable")
	}
	if _, err := lookPath(tc.FFmpegBinary); err != nil {
		notes = append(notes, tc.FFmpegBinary+" not on PATH; only wav uploads will work")
		if res.Status == StatusPass {
			res = warn("Local whisper backend ready, wav only")
		}
	}
	return res.with(strings.Join(notes, "; "))
}

// checkBindAddr tries to listen where serve would. A port already taken
// usually means taskmaster is running, so that is only a warning.
func checkBindAddr(_ context.Context, cfg *config.Config) Result {
	ln, err := net.Listen("tcp", cfg.BindAddr)
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return warn("%s already in use (is taskmaster running?)", cfg.BindAddr)
	case err != nil:
		return fail("Cannot listen on %s: %v", cfg.BindAddr, err)
	}
	ln.Close()
	return pass("%s available", cfg.BindAddr)
}

var providerHosts = map[string]string{
	"google":    "generativelanguage.googleapis.com:443",
	"anthropic": "api.anthropic.com:443",
	"openai":    "api.openai.com:443",
}

// checkNetwork opens a TCP connection to the model provider's API.
func checkNetwork(ctx context.Context, cfg *config.Config) Result {
	provider, _, _ := cfg.ResolveLLM()
	addr, ok := providerHosts[provider]
	if base := cfg.ProviderBaseURL(provider); base != "" {
		addr, ok = dialAddr(base), true
	}
	if !ok || addr == "" {
		return Result{Status: StatusSkip, Message: "No endpoint known for provider " + provider}
	}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fail("Cannot reach %s: %v", addr, err).with("provider=" + provider)
	}
	conn.Close()
	return pass("Reached %s in %dms", addr, time.Since(start).Milliseconds()).with("provider=" + provider)
}

// dialAddr turns a base URL into host:port, defaulting the port from the
// scheme.
func dialAddr(base string) string {
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
