package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/taskmaster/internal/config"
	"github.com/basket/taskmaster/internal/cron"
	"github.com/basket/taskmaster/internal/persistence"
)

func backupCmd() *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "backup [dest]",
		Short: "Write a consistent copy of the database",
		Long: "Write a consistent copy of the database with VACUUM INTO. Without dest the copy\n" +
			"goes to backup.dir under a timestamped name.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			store, err := persistence.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			var dest string
			if len(args) == 1 {
				dest, err = filepath.Abs(args[0])
				if err != nil {
					return err
				}
				if err := store.Backup(cmd.Context(), dest); err != nil {
					return err
				}
			} else {
				dest, err = cron.Backup(cmd.Context(), store, cfg.Backup.Dir, time.Now())
				if err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), dest)

			if prune && len(args) == 0 {
				removed, err := cron.Prune(cfg.Backup.Dir, cfg.Backup.Keep)
				if err != nil {
					return err
				}
				for _, p := range removed {
					fmt.Fprintf(cmd.ErrOrStderr(), "pruned %s\n", p)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "drop old backups beyond backup.keep (default dir only)")
	return cmd
}
