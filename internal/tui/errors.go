package tui

import (
	"context"
	"errors"
	"strings"
	"syscall"

	"github.com/basket/taskmaster/internal/client"
)

// humanError turns a client error into a status-line message.
func humanError(err error) string {
	var apiErr *client.APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Server not reachable (is `taskmaster serve` running?)"
	case errors.Is(err, context.DeadlineExceeded):
		return "Server did not answer in time"
	}
	// Drop the "METHOD /path: dial tcp:" framing.
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 && i+2 < len(msg) {
		msg = msg[i+2:]
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
