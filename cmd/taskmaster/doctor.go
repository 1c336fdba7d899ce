package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/basket/taskmaster/internal/config"
	"github.com/basket/taskmaster/internal/doctor"
)

func doctorCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				// Keep going; the config check reports why.
				fmt.Fprintf(cmd.ErrOrStderr(), "Error loading config: %v\n", err)
			}

			report := doctor.Run(cmd.Context(), &cfg, Version)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("encode json: %w", err)
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			if report.Failed() {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, rep doctor.Report) {
	fmt.Fprintf(w, "taskmaster %s on %s, %s\n\n", rep.Version, rep.Platform, rep.GeneratedAt.Local().Format(time.RFC3339))
	for _, res := range rep.Results {
		mark := map[doctor.Status]string{
			doctor.StatusPass: "ok  ",
			doctor.StatusWarn: "warn",
			doctor.StatusFail: "FAIL",
			doctor.StatusSkip: "skip",
		}[res.Status]
		fmt.Fprintf(w, "[%s] %-14s %s\n", mark, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Fprintf(w, "       %s\n", res.Detail)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d warnings, %d failed\n",
		rep.Count(doctor.StatusPass), rep.Count(doctor.StatusWarn), rep.Count(doctor.StatusFail))
}
