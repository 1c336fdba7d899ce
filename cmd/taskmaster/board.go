package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/taskmaster/internal/tui"
)

func boardCmd() *cobra.Command {
	var poll bool
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Interactive task board for a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdout.Fd()) {
				return errors.New("board needs an interactive terminal; use `taskmaster tasks list` instead")
			}
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			_, err = c.Health(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("server not reachable: %w", err)
			}

			var w tui.Watcher = c
			if poll {
				w = nil
			}
			err = tui.Run(cmd.Context(), c, w)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&poll, "poll", false, "poll for changes instead of using the /ws stream")
	return cmd
}
