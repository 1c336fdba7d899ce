package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/basket/taskmaster/internal/client"
	"github.com/basket/taskmaster/internal/persistence"
	"github.com/basket/taskmaster/internal/shared"
	"github.com/basket/taskmaster/internal/tasks"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and edit tasks on a running server",
	}
	cmd.PersistentFlags().Bool("json", false, "print JSON (default when stdout is not a terminal)")
	cmd.AddCommand(tasksListCmd(), tasksCreateCmd(), tasksUpdateCmd(), tasksDeleteCmd())
	return cmd
}

func tasksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			list, err := c.ListTasks(cmd.Context())
			if err != nil {
				return err
			}
			return printTasks(cmd, list)
		},
	}
}

// taskFlags are shared by create and update.
type taskFlags struct {
	description string
	status      string
	priority    int
	duration    time.Duration
	deadline    string
	after       []string
}

func (f *taskFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.description, "description", "", "task description")
	cmd.Flags().StringVar(&f.status, "status", string(persistence.TaskStatusTodo), "TODO, IN_PROGRESS, COMPLETED or CANCELLED")
	cmd.Flags().IntVar(&f.priority, "priority", 0, "priority, higher is more urgent")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "estimated duration, e.g. 45m")
	cmd.Flags().StringVar(&f.deadline, "deadline", "", "deadline as RFC 3339 or YYYY-MM-DD")
	cmd.Flags().StringSliceVar(&f.after, "after", nil, "prerequisite task titles or ids")
}

func tasksCreateCmd() *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			in := persistence.TaskInput{
				Title:           args[0],
				Description:     f.description,
				Status:          parseStatus(f.status),
				Priority:        f.priority,
				DurationSeconds: int(f.duration / time.Second),
			}
			if f.deadline != "" {
				d, err := parseDeadline(f.deadline)
				if err != nil {
					return err
				}
				in.Deadline = &d
			}
			if len(f.after) > 0 {
				if in.PrerequisiteTasks, err = resolvePrerequisites(cmd.Context(), c, f.after); err != nil {
					return err
				}
			}
			task, err := c.CreateTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printTask(cmd, task)
		},
	}
	f.register(cmd)
	return cmd
}

func tasksUpdateCmd() *cobra.Command {
	var (
		f             taskFlags
		clearDeadline bool
		clearAfter    bool
	)
	cmd := &cobra.Command{
		Use:   "update <title>",
		Short: "Update the fields given as flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			var upd persistence.TaskUpdate
			if flags.Changed("description") {
				upd.Description = shared.Some(f.description)
			}
			if flags.Changed("status") {
				upd.Status = shared.Some(parseStatus(f.status))
			}
			if flags.Changed("priority") {
				upd.Priority = shared.Some(f.priority)
			}
			if flags.Changed("duration") {
				upd.DurationSeconds = shared.Some(int(f.duration / time.Second))
			}
			switch {
			case clearDeadline:
				upd.Deadline = shared.Null[time.Time]()
			case flags.Changed("deadline"):
				d, err := parseDeadline(f.deadline)
				if err != nil {
					return err
				}
				upd.Deadline = shared.Some(d)
			}
			switch {
			case clearAfter:
				upd.PrerequisiteTasks = shared.Null[[]string]()
			case flags.Changed("after"):
				ids, err := resolvePrerequisites(cmd.Context(), c, f.after)
				if err != nil {
					return err
				}
				upd.PrerequisiteTasks = shared.Some(ids)
			}
			if upd.Empty() {
				return errors.New("nothing to update; pass at least one field flag")
			}
			task, err := c.UpdateTask(cmd.Context(), args[0], upd)
			if err != nil {
				return err
			}
			return printTask(cmd, task)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&clearDeadline, "clear-deadline", false, "remove the deadline")
	cmd.Flags().BoolVar(&clearAfter, "clear-after", false, "remove all prerequisites")
	return cmd
}

func tasksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <title>",
		Short: "Delete a task that no other task depends on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			task, err := c.DeleteTask(cmd.Context(), args[0])
			if err != nil {
				if client.IsCode(err, string(tasks.CodeConflict)) {
					return fmt.Errorf("%w; remove it from the dependents' prerequisites first", err)
				}
				return err
			}
			return printTask(cmd, task)
		},
	}
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <transcript-file|->",
		Short: "Turn a transcript into tasks with the configured LLM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			var data []byte
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			res, err := c.GenerateTasks(cmd.Context(), tasks.GenerateRequest{Transcript: string(data)})
			if err != nil {
				return err
			}
			if !res.Generated {
				fmt.Fprintln(cmd.ErrOrStderr(), "generation unavailable; showing current tasks")
			}
			return printTasks(cmd, res.Tasks)
		},
	}
	cmd.Flags().Bool("json", false, "print JSON")
	return cmd
}

func transcribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Upload an audio file and print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := c.Transcribe(cmd.Context(), f.Name(), f)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the full result as JSON")
	return cmd
}

func parseStatus(raw string) persistence.TaskStatus {
	return persistence.TaskStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

func parseDeadline(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid deadline %q: want RFC 3339 or YYYY-MM-DD", raw)
	}
	return t, nil
}

// resolvePrerequisites maps titles to ids. Unknown values pass through so
// the server can reject them.
func resolvePrerequisites(ctx context.Context, c *client.Client, refs []string) ([]string, error) {
	list, err := c.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	byTitle := make(map[string]string, len(list))
	for _, t := range list {
		byTitle[t.Title] = t.ID
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if id, ok := byTitle[ref]; ok {
			ids = append(ids, id)
			continue
		}
		ids = append(ids, ref)
	}
	return ids, nil
}

func asJSON(cmd *cobra.Command) bool {
	if v, err := cmd.Flags().GetBool("json"); err == nil && v {
		return true
	}
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		return !isatty.IsTerminal(f.Fd())
	}
	return false
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTask(cmd *cobra.Command, t persistence.Task) error {
	return printTasks(cmd, []persistence.Task{t})
}

func printTasks(cmd *cobra.Command, list []persistence.Task) error {
	if asJSON(cmd) {
		if list == nil {
			list = []persistence.Task{}
		}
		return writeJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no tasks")
		return nil
	}
	titles := make(map[string]string, len(list))
	for _, t := range list {
		titles[t.ID] = t.Title
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TITLE\tSTATUS\tPRIORITY\tDURATION\tDEADLINE\tAFTER")
	for _, t := range list {
		deadline := "-"
		if t.Deadline != nil {
			deadline = t.Deadline.Local().Format("2006-01-02 15:04")
		}
		after := make([]string, 0, len(t.PrerequisiteTasks))
		for _, id := range t.PrerequisiteTasks {
			if title, ok := titles[id]; ok {
				after = append(after, title)
			} else {
				after = append(after, id)
			}
		}
		afterCol := "-"
		if len(after) > 0 {
			afterCol = strings.Join(after, ", ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", t.Title, t.Status, t.Priority,
			time.Duration(t.DurationSeconds)*time.Second, deadline, afterCol)
	}
	return tw.Flush()
}
