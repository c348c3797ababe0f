package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded pipeline runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list [pipeline]",
	Short: "List recorded runs, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline := ""
		if len(args) == 1 {
			pipeline = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")

		rec, cleanup, err := openRecorder()
		if err != nil {
			return err
		}
		defer cleanup()

		runs, err := rec.ListRuns(pipeline, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-20s %-6s %-10s %-20s %s\n", "PIPELINE", "RUN", "STATUS", "STARTED", "REASON")
		fmt.Fprintf(w, "%s\n", strings.Repeat("-", 80))
		for _, r := range runs {
			fmt.Fprintf(w, "%-20s %-6d %-10s %-20s %s\n", r.Pipeline, r.Number, r.Status, r.StartedAt, r.Reason)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <pipeline> <number>",
	Short: "Show a run reconstructed from the recorded log",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid run number %q: %w", args[1], err)
		}
		showEvents, _ := cmd.Flags().GetBool("events")

		rec, cleanup, err := openRecorder()
		if err != nil {
			return err
		}
		defer cleanup()

		snap, err := rec.Recover(args[0], number)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run %s #%d\n", snap.Run.Pipeline, snap.Run.Number)
		fmt.Fprintf(w, "  Status:   %s\n", snap.Run.Status)
		if snap.Run.Reason != "" {
			fmt.Fprintf(w, "  Reason:   %s\n", snap.Run.Reason)
		}
		if snap.Run.StartedAt != "" {
			fmt.Fprintf(w, "  Started:  %s\n", snap.Run.StartedAt)
		}
		if snap.Run.FinishedAt != "" {
			fmt.Fprintf(w, "  Finished: %s\n", snap.Run.FinishedAt)
		}

		if len(snap.Stages) > 0 {
			fmt.Fprintln(w, "  Stages:")
			for _, s := range snap.Stages {
				line := fmt.Sprintf("    %-20s %-8s", s.Stage, s.Status)
				if s.Reason != "" {
					line += " " + s.Reason
				}
				fmt.Fprintln(w, line)
			}
		}

		if len(snap.Gates) > 0 {
			fmt.Fprintln(w, "  Gates:")
			for _, g := range snap.Gates {
				verdict := "PASS"
				if !g.Passed {
					verdict = "FAIL"
				}
				fmt.Fprintf(w, "    [%s] %s/%s — %s\n", verdict, g.Stage, g.Policy, g.Reason)
			}
		}

		if showEvents {
			events, err := rec.ListEvents(args[0], number)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "  Events:")
			for _, e := range events {
				line := fmt.Sprintf("    %s %s", e.Timestamp, e.Event)
				if e.Stage != "" {
					line += " stage=" + e.Stage
				}
				if e.Detail != "" {
					line += " " + e.Detail
				}
				fmt.Fprintln(w, line)
			}
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "Maximum runs to list")
	runsShowCmd.Flags().Bool("events", false, "Include the ordered event log")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}
