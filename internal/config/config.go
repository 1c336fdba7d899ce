package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/basket/taskmaster/internal/otel"
)

const (
	defaultBindAddr        = "127.0.0.1:8000"
	defaultMaxRequestBytes = 1 << 20
	defaultMaxUploadBytes  = 25 << 20
	defaultMaxOutputTokens = 2000
	defaultMaxTurns        = 8
)

// ProviderConfig holds per-provider credentials and endpoints.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LLMConfig selects the model used by the task generation agent.
type LLMConfig struct {
	// Provider is one of "google", "anthropic", "openai", "openai_compatible".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// CompatibleProvider names the model prefix for openai_compatible
	// endpoints (e.g. "openrouter" gives "openrouter/<model>").
	CompatibleProvider string `yaml:"compatible_provider"`
	CompatibleBaseURL  string `yaml:"compatible_base_url"`

	MaxOutputTokens     int `yaml:"max_output_tokens"`
	MaxTurns            int `yaml:"max_turns"`
	MaxTranscriptTokens int `yaml:"max_transcript_tokens"`
	TimeoutSeconds      int `yaml:"timeout_seconds"`
}

// TranscriptionConfig selects and tunes the speech-to-text backend.
type TranscriptionConfig struct {
	// Backend is "auto", "remote", "local" or "none". auto prefers remote
	// when an OpenAI key is configured.
	Backend        string `yaml:"backend"`
	RemoteModel    string `yaml:"remote_model"`
	RemoteBaseURL  string `yaml:"remote_base_url"`
	Language       string `yaml:"language"`
	WhisperBinary  string `yaml:"whisper_binary"`
	WhisperModel   string `yaml:"whisper_model"`
	FFmpegBinary   string `yaml:"ffmpeg_binary"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RateLimitConfig configures the per-client token bucket. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// BackupConfig drives scheduled VACUUM INTO backups. An empty Schedule
// disables them.
type BackupConfig struct {
	Schedule string `yaml:"schedule"`
	Dir      string `yaml:"dir"`
	Keep     int    `yaml:"keep"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr  string `yaml:"bind_addr"`
	LogLevel  string `yaml:"log_level"`
	DBPath    string `yaml:"db_path"`
	AuthToken string `yaml:"auth_token"`

	// AllowOrigins lists CORS origins. "*" allows any origin.
	AllowOrigins []string `yaml:"allow_origins"`

	MaxRequestBytes     int64 `yaml:"max_request_bytes"`
	MaxUploadBytes      int64 `yaml:"max_upload_bytes"`
	DrainTimeoutSeconds int   `yaml:"drain_timeout_seconds"`

	RateLimit     RateLimitConfig           `yaml:"rate_limit"`
	LLM           LLMConfig                 `yaml:"llm"`
	Providers     map[string]ProviderConfig `yaml:"providers"`
	Transcription TranscriptionConfig       `yaml:"transcription"`
	Backup        BackupConfig              `yaml:"backup"`
	OTel          otel.Config               `yaml:"otel"`

	// FirstRun is set when no config.yaml existed at load time.
	FirstRun bool `yaml:"-"`
}

// providerEnv maps a provider name to the env vars that carry its key, in
// priority order.
var providerEnv = map[string][]string{
	"google":            {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"anthropic":         {"ANTHROPIC_API_KEY"},
	"openai":            {"OPENAI_API_KEY"},
	"openai_compatible": {"OPENAI_COMPATIBLE_API_KEY", "OPENROUTER_API_KEY"},
}

// ProviderAPIKey returns the key for provider. Env vars win over config.yaml.
func (c Config) ProviderAPIKey(provider string) string {
	for _, envVar := range providerEnv[provider] {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if p, ok := c.Providers[provider]; ok {
		return p.APIKey
	}
	return ""
}

// ProviderBaseURL returns a custom endpoint for provider, if any.
func (c Config) ProviderBaseURL(provider string) string {
	if provider == "openai_compatible" && c.LLM.CompatibleBaseURL != "" {
		return c.LLM.CompatibleBaseURL
	}
	if p, ok := c.Providers[provider]; ok {
		return p.BaseURL
	}
	return ""
}

// ResolveLLM returns the effective provider, model and key for generation.
func (c Config) ResolveLLM() (provider, model, apiKey string) {
	provider = c.LLM.Provider
	if provider == "" {
		provider = "google"
	}
	model = c.LLM.Model
	if model == "" {
		model = defaultModel(provider)
	}
	return provider, model, c.ProviderAPIKey(provider)
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "openai", "openai_compatible":
		return "gpt-4o-mini"
	default:
		return "gemini-2.5-flash"
	}
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint is a stable hash of the settings that affect serving.
func (c Config) Fingerprint() string {
	provider, model, _ := c.ResolveLLM()
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|db=%s|auth=%t|origins=%v|llm=%s/%s|stt=%s|backup=%s",
		c.BindAddr, c.LogLevel, c.DBPath, c.AuthToken != "", c.AllowOrigins,
		provider, model, c.Transcription.Backend, c.Backup.Schedule)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c Config) TranscriptionTimeout() time.Duration {
	return time.Duration(c.Transcription.TimeoutSeconds) * time.Second
}

func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

func defaultConfig() Config {
	return Config{
		BindAddr:            defaultBindAddr,
		LogLevel:            "info",
		AllowOrigins:        []string{"*"},
		MaxRequestBytes:     defaultMaxRequestBytes,
		MaxUploadBytes:      defaultMaxUploadBytes,
		DrainTimeoutSeconds: 5,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		LLM: LLMConfig{
			Provider:            "google",
			MaxOutputTokens:     defaultMaxOutputTokens,
			MaxTurns:            defaultMaxTurns,
			MaxTranscriptTokens: 16000,
			TimeoutSeconds:      120,
		},
		Transcription: TranscriptionConfig{
			Backend:        "auto",
			RemoteModel:    "whisper-1",
			WhisperBinary:  "whisper-cli",
			FFmpegBinary:   "ffmpeg",
			TimeoutSeconds: 300,
		},
		Backup: BackupConfig{
			Keep: 7,
		},
		OTel: otel.Config{
			Exporter:   "none",
			SampleRate: 1.0,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("TASKMASTER_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskmaster")
}

// Load resolves defaults, then config.yaml, then .env and environment
// overrides, and validates the result.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom is Load with an explicit home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskmaster home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
		cfg.FirstRun = true
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	if err := loadDotEnv(cfg.HomeDir); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotEnv reads ./.env and <home>/.env. Variables already present in the
// process environment are never overwritten.
func loadDotEnv(homeDir string) error {
	for _, path := range []string{".env", filepath.Join(homeDir, ".env")} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKMASTER_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("TASKMASTER_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TASKMASTER_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("TASKMASTER_AUTH_TOKEN"); raw != "" {
		cfg.AuthToken = raw
	}
	if raw := os.Getenv("TASKMASTER_ALLOW_ORIGINS"); raw != "" {
		cfg.AllowOrigins = splitList(raw)
	}
	if raw := os.Getenv("TASKMASTER_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
	if raw := os.Getenv("OPENAI_MODEL"); raw != "" && strings.HasPrefix(cfg.LLM.Provider, "openai") {
		cfg.LLM.Model = raw
	}
	if raw := os.Getenv("OPENAI_MAX_OUTPUT_TOKENS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.LLM.MaxOutputTokens = v
		}
	}
	if raw := os.Getenv("TASKMASTER_TRANSCRIPTION_BACKEND"); raw != "" {
		cfg.Transcription.Backend = raw
	}
	if raw := os.Getenv("WHISPER_MODEL"); raw != "" {
		cfg.Transcription.WhisperModel = raw
	}
	if raw := os.Getenv("WHISPER_BINARY"); raw != "" {
		cfg.Transcription.WhisperBinary = raw
	}
	if raw := os.Getenv("TASKMASTER_BACKUP_SCHEDULE"); raw != "" {
		cfg.Backup.Schedule = raw
	}
	if raw := os.Getenv("TASKMASTER_OTEL_EXPORTER"); raw != "" {
		cfg.OTel.Enabled = raw != "none"
		cfg.OTel.Exporter = raw
	}
	if raw := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); raw != "" {
		cfg.OTel.Endpoint = raw
	}
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = defaultBindAddr
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "taskmaster.db")
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = []string{"*"}
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	switch cfg.LLM.Provider {
	case "", "gemini", "googleai":
		cfg.LLM.Provider = "google"
	case "openrouter":
		cfg.LLM.Provider = "openai_compatible"
		if cfg.LLM.CompatibleProvider == "" {
			cfg.LLM.CompatibleProvider = "openrouter"
		}
		if cfg.LLM.CompatibleBaseURL == "" {
			cfg.LLM.CompatibleBaseURL = "https://openrouter.ai/api/v1"
		}
	}
	if cfg.LLM.MaxOutputTokens <= 0 {
		cfg.LLM.MaxOutputTokens = defaultMaxOutputTokens
	}
	if cfg.LLM.MaxTurns <= 0 {
		cfg.LLM.MaxTurns = defaultMaxTurns
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 120
	}

	cfg.Transcription.Backend = strings.ToLower(strings.TrimSpace(cfg.Transcription.Backend))
	if cfg.Transcription.Backend == "" {
		cfg.Transcription.Backend = "auto"
	}
	if cfg.Transcription.RemoteModel == "" {
		cfg.Transcription.RemoteModel = "whisper-1"
	}
	if cfg.Transcription.WhisperBinary == "" {
		cfg.Transcription.WhisperBinary = "whisper-cli"
	}
	if cfg.Transcription.FFmpegBinary == "" {
		cfg.Transcription.FFmpegBinary = "ffmpeg"
	}
	if cfg.Transcription.TimeoutSeconds <= 0 {
		cfg.Transcription.TimeoutSeconds = 300
	}

	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(cfg.HomeDir, "backups")
	}
	if cfg.Backup.Keep <= 0 {
		cfg.Backup.Keep = 7
	}
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.BindAddr); err != nil {
		errs = append(errs, fmt.Errorf("bind_addr %q: %w", c.BindAddr, err))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q: must be debug, info, warn or error", c.LogLevel))
	}
	switch c.LLM.Provider {
	case "google", "anthropic", "openai", "openai_compatible":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.Provider == "openai_compatible" && c.LLM.CompatibleBaseURL == "" {
		errs = append(errs, errors.New("llm.compatible_base_url is required for openai_compatible"))
	}
	switch c.Transcription.Backend {
	case "auto", "remote", "local", "none":
	default:
		errs = append(errs, fmt.Errorf("transcription.backend %q: must be auto, remote, local or none", c.Transcription.Backend))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must be >= 0"))
	}
	return errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
