package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long the watcher waits after the last write before
// reloading. Editors commonly emit several events per save.
const DefaultSettle = 150 * time.Millisecond

// Reload is one settled burst of edits. Err is set when the new files fail
// to load or validate, in which case Config is the zero value and the caller
// should keep what it has.
type Reload struct {
	Files  []string
	Config Config
	Err    error
}

// Watcher reloads the configuration whenever config.yaml or .env in the home
// directory changes.
type Watcher struct {
	homeDir string
	settle  time.Duration
	logger  *slog.Logger
	out     chan Reload
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir: homeDir,
		settle:  DefaultSettle,
		logger:  logger,
		out:     make(chan Reload, 4),
	}
}

// SetSettle overrides DefaultSettle. Call before Start.
func (w *Watcher) SetSettle(d time.Duration) {
	if d > 0 {
		w.settle = d
	}
}

// Reloads is closed once the watcher has stopped.
func (w *Watcher) Reloads() <-chan Reload {
	return w.out
}

func isConfigFile(name string) bool {
	switch filepath.Base(name) {
	case "config.yaml", ".env":
		return true
	}
	return false
}

// Start watches the directory, not the files, so saves done by rename are
// still seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.homeDir); err != nil {
		_ = fsw.Close()
		return err
	}
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.out)
	defer fsw.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	var pending []string

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !isConfigFile(ev.Name) || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			base := filepath.Base(ev.Name)
			if !slices.Contains(pending, base) {
				pending = append(pending, base)
			}
			timer.Reset(w.settle)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		case <-timer.C:
			r := Reload{Files: pending}
			pending = nil
			r.Config, r.Err = LoadFrom(w.homeDir)
			if r.Err != nil {
				r.Config = Config{}
			}
			w.logger.Info("config files changed", "files", r.Files, "ok", r.Err == nil)
			select {
			case w.out <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}
