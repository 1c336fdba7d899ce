// Package cron runs scheduled database backups and prunes old copies.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/taskmaster/internal/otel"
)

// Five-field expressions plus descriptors such as @daily and @every 6h.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

const (
	backupPrefix = "taskmaster-"
	backupSuffix = ".db"
	// Sorts lexically in time order.
	backupStamp = "20060102T150405Z"
)

// Backuper writes a consistent database copy. *persistence.Store implements it.
type Backuper interface {
	Backup(ctx context.Context, destPath string) error
}

type Config struct {
	Store    Backuper
	Schedule string
	Dir      string
	// Keep is how many backups Prune leaves behind; 0 keeps all of them.
	Keep    int
	Metrics *otel.Metrics
	Logger  *slog.Logger
}

// Scheduler takes a backup each time the schedule fires. Runs never
// overlap: a firing that lands while a backup is still writing is skipped.
type Scheduler struct {
	runner  *cronlib.Cron
	entry   cronlib.EntryID
	store   Backuper
	expr    string
	dir     string
	keep    int
	metrics *otel.Metrics
	logger  *slog.Logger
	now     func() time.Time

	runCtx context.Context
}

// NewScheduler validates the schedule and backup directory.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, errors.New("backup scheduler: store is required")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("backup scheduler: backup dir is required")
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("backup scheduler: parse schedule %q: %w", cfg.Schedule, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backup")

	s := &Scheduler{
		store:   cfg.Store,
		expr:    cfg.Schedule,
		dir:     cfg.Dir,
		keep:    cfg.Keep,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     time.Now,
		runCtx:  context.Background(),
	}
	cl := cronLogger{logger}
	s.runner = cronlib.New(
		cronlib.WithParser(cronParser),
		cronlib.WithLogger(cl),
		cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
	)
	s.entry = s.runner.Schedule(sched, cronlib.FuncJob(s.fire))
	return s, nil
}

func (s *Scheduler) fire() {
	if _, err := s.RunOnce(s.runCtx); err != nil {
		s.logger.Error("scheduled backup failed", "error", err)
	}
}

// Start runs the schedule until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.runCtx = ctx
	s.runner.Start()
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			s.runner.Stop()
		}()
	}
	s.logger.Info("backup scheduler started", "schedule", s.expr, "dir", s.dir, "keep", s.keep, "next", s.Next())
}

// Stop halts the schedule and waits for a backup in progress. It is safe
// to call without Start.
func (s *Scheduler) Stop() {
	<-s.runner.Stop().Done()
}

// Next is when the schedule fires next; zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.runner.Entry(s.entry).Next
}

// RunOnce takes one backup into the scheduler's directory and prunes old
// ones. It returns the path written.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	path, err := Backup(ctx, s.store, s.dir, s.now())
	if err != nil {
		s.metrics.RecordBackup(ctx, "error")
		return "", err
	}
	s.metrics.RecordBackup(ctx, "ok")

	removed, err := Prune(s.dir, s.keep)
	if err != nil {
		s.logger.Warn("backup prune failed", "error", err)
	}
	s.logger.Info("backup written", "path", path, "pruned", len(removed))
	return path, nil
}

// cronLogger routes the runner's own messages (panics, skipped runs) to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}

// Backup writes a timestamped copy of the database into dir.
func Backup(ctx context.Context, store Backuper, dir string, at time.Time) (string, error) {
	path := filepath.Join(dir, BackupName(at))
	if err := store.Backup(ctx, path); err != nil {
		return "", fmt.Errorf("backup to %s: %w", path, err)
	}
	return path, nil
}

// BackupName is the file name used for a backup taken at t.
func BackupName(t time.Time) string {
	return backupPrefix + t.UTC().Format(backupStamp) + backupSuffix
}

// Prune removes all but the newest keep backups in dir and returns the
// removed paths. Files not named like backups are ignored.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isBackupName(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) <= keep {
		return nil, nil
	}
	sort.Strings(names)

	var removed []string
	var errs []error
	for _, name := range names[:len(names)-keep] {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

func isBackupName(name string) bool {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
	_, err := time.Parse(backupStamp, stamp)
	return err == nil
}

// NextRunTime is when expr next fires after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
