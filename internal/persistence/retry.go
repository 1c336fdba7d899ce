package persistence

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// busyRetry re-runs a unit of work when SQLite reports the database busy or
// locked beyond the driver's own busy_timeout. Delays double from base up
// to ceiling, each jittered to between 75% and 125%.
type busyRetry struct {
	retries int
	base    time.Duration
	ceiling time.Duration
}

var defaultBusyRetry = busyRetry{retries: 5, base: 50 * time.Millisecond, ceiling: 500 * time.Millisecond}

func (p busyRetry) delay(attempt int) time.Duration {
	d := min(p.base<<attempt, p.ceiling)
	return d*3/4 + time.Duration(rand.Int64N(int64(d/2)+1))
}

func (p busyRetry) do(ctx context.Context, f func() error) error {
	for attempt := 0; ; attempt++ {
		err := f()
		if err == nil || !isBusy(err) || attempt >= p.retries {
			return err
		}
		t := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// isBusy matches SQLITE_BUSY and SQLITE_LOCKED, by code when the driver
// error survived wrapping and by message otherwise.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
