package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/daylist-app/daylist/internal/migrate"
	"github.com/daylist-app/daylist/internal/snapshot"
	"github.com/daylist-app/daylist/internal/ui"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the account as a JSON snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := owner()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := snapshot.Export(cmd.Context(), st, o)
		if err != nil {
			return err
		}
		data, err := snap.Marshal()
		if err != nil {
			return err
		}

		if exportOut == "" || exportOut == "-" {
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s Exported %d tasks to %s\n",
			ui.RenderPass("✓"), len(snap.Tasks), exportOut)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a JSON snapshot",
	Long: `Restore a snapshot into the local store. Tasks merge with
last-write-wins, so importing an older export never clobbers newer
local edits and re-importing the same file is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := owner()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		data, err := readInput(args[0])
		if err != nil {
			return err
		}

		stats, err := snapshot.Import(cmd.Context(), st, o, data)
		if err != nil {
			return err
		}
		fmt.Printf("%s Imported: tasks=%d gym_logs=%d thesis_logs=%d\n",
			ui.RenderPass("✓"), stats.TasksApplied, stats.GymLogs, stats.ThesisLogs)
		return nil
	},
}

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy <file>",
	Short: "One-time import of the legacy task format",
	Long: `Convert a legacy JSONL task dump into the current format. Runs at
most once per owner; every raw line is backed up locally before
conversion. Converted tasks are queued for sync like normal edits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := owner()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var r io.Reader
		if args[0] == "-" {
			r = os.Stdin
		} else {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open legacy file: %w", err)
			}
			defer f.Close()
			r = f
		}

		result, err := migrate.Run(cmd.Context(), st, o, r, newLogger("[migrate] "))
		if err != nil {
			return err
		}
		fmt.Printf("%s Migrated: converted=%d skipped=%d backed_up=%d\n",
			ui.RenderPass("✓"), result.Converted, result.Skipped, result.BackedUp)
		return nil
	},
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default stdout)")
}
