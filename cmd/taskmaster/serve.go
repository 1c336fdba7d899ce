package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/taskmaster/internal/bus"
	"github.com/basket/taskmaster/internal/config"
	"github.com/basket/taskmaster/internal/cron"
	"github.com/basket/taskmaster/internal/gateway"
	"github.com/basket/taskmaster/internal/generation"
	otelPkg "github.com/basket/taskmaster/internal/otel"
	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/tasks"
	"github.com/basket/taskmaster/internal/telemetry"
	"github.com/basket/taskmaster/internal/transcription"
)

func serveCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), quiet)
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "log to <home>/logs only")
	return cmd
}

// app is everything serve wires together, minus the listener.
type app struct {
	store      *persistence.Store
	bus        *bus.Bus
	service    *tasks.Service
	gateway    *gateway.Server
	backups    *cron.Scheduler
	generation bool
}

func (a *app) Close() error {
	if a.backups != nil {
		a.backups.Stop()
	}
	return a.store.Close()
}

func buildApp(ctx context.Context, cfg config.Config, prov *otelPkg.Provider, logger *slog.Logger) (*app, error) {
	metrics := prov.Metrics

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{store: store, bus: bus.New()}

	a.service = tasks.NewService(store, tasks.Options{
		Bus:     a.bus,
		Metrics: metrics,
		Tracer:  prov.Tracer,
		Logger:  logger,
	})

	provider, model, apiKey := cfg.ResolveLLM()
	agent, err := generation.New(ctx, generation.Config{
		Provider:            provider,
		Model:               model,
		APIKey:              apiKey,
		BaseURL:             cfg.ProviderBaseURL(provider),
		CompatibleProvider:  cfg.LLM.CompatibleProvider,
		MaxOutputTokens:     cfg.LLM.MaxOutputTokens,
		MaxTurns:            cfg.LLM.MaxTurns,
		MaxTranscriptTokens: cfg.LLM.MaxTranscriptTokens,
		Timeout:             cfg.LLMTimeout(),
	}, a.service, generation.Options{Metrics: metrics, Tracer: prov.Tracer, Logger: logger})
	switch {
	case errors.Is(err, generation.ErrUnavailable):
		logger.Warn("task generation disabled; generate-tasks will return the current list", "reason", err)
	case err != nil:
		_ = store.Close()
		return nil, fmt.Errorf("init generation: %w", err)
	default:
		a.service.SetGenerator(agent)
		a.generation = true
	}

	transcriber, err := transcription.New(transcription.Config{
		Backend:       cfg.Transcription.Backend,
		APIKey:        cfg.ProviderAPIKey("openai"),
		BaseURL:       cfg.Transcription.RemoteBaseURL,
		RemoteModel:   cfg.Transcription.RemoteModel,
		Language:      cfg.Transcription.Language,
		WhisperBinary: cfg.Transcription.WhisperBinary,
		WhisperModel:  cfg.Transcription.WhisperModel,
		FFmpegBinary:  cfg.Transcription.FFmpegBinary,
		Timeout:       cfg.TranscriptionTimeout(),
	}, transcription.Options{Metrics: metrics, Tracer: prov.Tracer, Logger: logger})
	switch {
	case errors.Is(err, transcription.ErrUnavailable):
		logger.Warn("transcription disabled", "reason", err)
		transcriber = nil
	case err != nil:
		_ = store.Close()
		return nil, fmt.Errorf("init transcription: %w", err)
	}

	a.gateway = gateway.New(gateway.Config{
		Tasks:             a.service,
		Health:            store,
		Bus:               a.bus,
		Transcriber:       transcriber,
		GenerationEnabled: a.generation,
		AuthToken:         cfg.AuthToken,
		AllowOrigins:      cfg.AllowOrigins,
		MaxRequestBytes:   cfg.MaxRequestBytes,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		RateLimit:         cfg.RateLimit,
		ConfigFingerprint: cfg.Fingerprint(),
		Version:           Version,
		Metrics:           metrics,
		Tracer:            prov.Tracer,
		Logger:            logger,
	})

	if cfg.Backup.Schedule != "" {
		a.backups, err = cron.NewScheduler(cron.Config{
			Store:    store,
			Schedule: cfg.Backup.Schedule,
			Dir:      cfg.Backup.Dir,
			Keep:     cfg.Backup.Keep,
			Metrics:  metrics,
			Logger:   logger,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return a, nil
}

func runServe(ctx context.Context, quiet bool) error {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	level := telemetry.NewLevelVar(cfg.LogLevel)
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, level, quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "first_run", cfg.FirstRun)
	warnExposedBind(logger, cfg)

	prov, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = prov.Shutdown(shutdownCtx)
	}()

	a, err := buildApp(ctx, cfg, prov, logger)
	if err != nil {
		fatalStartup(logger, "E_APP_INIT", err)
	}
	defer a.Close()
	logger.Info("startup phase", "phase", "store_ready", "db", cfg.DBPath, "generation", a.generation)

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go watchConfig(confWatcher, cfg, level, logger)

	a.gateway.StartBackgroundTasks(ctx)
	if a.backups != nil {
		a.backups.Start(ctx)
		logger.Info("startup phase", "phase", "backups_scheduled", "schedule", cfg.Backup.Schedule, "dir", cfg.Backup.Dir)
	}

	server := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           a.gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, portOccupantHint(cfg.BindAddr)))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	logger.Info("startup phase", "phase", "listener_bound", "addr", ln.Addr().String())
	go func() {
		logger.Info("api listening", "addr", ln.Addr().String(), "ws", "/ws")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serverErr:
		logger.Error("api server error", "error", runErr)
	}

	drain := cfg.DrainTimeout()
	if drain <= 0 {
		drain = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("drain timed out; closing open connections", "timeout", drain, "error", err)
		_ = server.Close()
	}
	logger.Info("shutdown complete")
	return runErr
}

// watchConfig applies the log level live. Other edits need a restart.
func watchConfig(w *config.Watcher, current config.Config, level *slog.LevelVar, logger *slog.Logger) {
	for r := range w.Reloads() {
		if r.Err != nil {
			logger.Error("config reload rejected; retaining previous config", "files", r.Files, "error", r.Err)
			continue
		}
		level.Set(telemetry.ParseLevel(r.Config.LogLevel))
		if r.Config.Fingerprint() != current.Fingerprint() {
			logger.Warn("config changed; restart to apply", "files", r.Files, "fingerprint", r.Config.Fingerprint())
		}
		current = r.Config
	}
}

func warnExposedBind(logger *slog.Logger, cfg config.Config) {
	host, _, err := net.SplitHostPort(cfg.BindAddr)
	if err != nil {
		return
	}
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "127.0.0.1", "localhost", "::1":
		return
	}
	if cfg.AuthToken == "" {
		logger.Warn("listening on a non-loopback address without auth_token", "addr", cfg.BindAddr)
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return errors.Is(sysErr.Err, syscall.EADDRINUSE)
	}
	return strings.Contains(err.Error(), "address already in use")
}

var execCommand = func(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).Output()
	return string(out), err
}

func portOccupantHint(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("Another process is using %s. Stop it first or change bind_addr in config.yaml.", addr)
	}
	out, err := execCommand("lsof", "-ti", ":"+port)
	if err == nil && strings.TrimSpace(out) != "" {
		pids := strings.TrimSpace(out)
		return fmt.Sprintf("Port %s is occupied by PID %s. Kill it with: kill %s", port, pids, pids)
	}
	return fmt.Sprintf("Port %s is already in use. Stop the existing process or set TASKMASTER_BIND_ADDR.", port)
}
