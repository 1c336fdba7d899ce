package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/basket/taskmaster/internal/client"
	"github.com/basket/taskmaster/internal/config"
	otelPkg "github.com/basket/taskmaster/internal/otel"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = otelPkg.Version

// errReported marks a failure whose details were already printed.
var errReported = errors.New("reported")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskmaster",
		Short:         "Task manager API with transcription and LLM task generation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("addr", "", "server address or URL (default: bind_addr from config)")
	root.PersistentFlags().String("token", "", "bearer token (default: auth_token from config)")

	root.AddCommand(
		serveCmd(),
		statusCmd(),
		doctorCmd(),
		tasksCmd(),
		transcribeCmd(),
		generateCmd(),
		backupCmd(),
		boardCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// apiClient builds a client for the running server. Flags win over config.
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.BindAddr
	}
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.AuthToken
	}
	return client.New(addr, token), nil
}
