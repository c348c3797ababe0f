package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect and manage stored artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list <pipeline> <number>",
	Short: "List a run's artifacts with their retention classes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid run number %q: %w", args[1], err)
		}
		format, _ := cmd.Flags().GetString("format")

		store, err := openStore()
		if err != nil {
			return err
		}
		arts, err := store.List(args[0], number)
		if err != nil {
			return err
		}

		if format == "json" {
			out, err := json.MarshalIndent(arts, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}

		if len(arts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No artifacts found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-14s %-15s %-25s %-11s %s\n", "HASH", "STAGE", "NAME", "RETENTION", "STORED")
		fmt.Fprintf(w, "%s\n", strings.Repeat("-", 90))
		for _, a := range arts {
			fmt.Fprintf(w, "%-14s %-15s %-25s %-11s %s\n", a.Hash[:12], a.Stage, a.Name, a.Retention, a.StoredAt)
		}
		return nil
	},
}

var artifactsGetCmd = &cobra.Command{
	Use:   "get <hash>",
	Short: "Write an artifact's content to stdout or a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		store, err := openStore()
		if err != nil {
			return err
		}
		data, err := store.Get(args[0])
		if err != nil {
			return err
		}

		if output == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		return os.WriteFile(output, data, 0o644)
	},
}

var artifactsReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Delete artifacts whose retention period has fully elapsed",
	Long: `Deletes stored objects only when every binding referencing them is past
its retention class's minimum period. Compliance-class artifacts are kept
for six years; run indexes are never deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		removed, err := store.Reap()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired objects.\n", removed)
		return nil
	},
}

func init() {
	artifactsListCmd.Flags().String("format", "text", "Output format: text or json")
	artifactsGetCmd.Flags().StringP("output", "o", "", "Write content to this file instead of stdout")

	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsGetCmd)
	artifactsCmd.AddCommand(artifactsReapCmd)
}
