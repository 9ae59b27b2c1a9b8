package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/daylist-app/daylist/internal/store"
	"github.com/daylist-app/daylist/internal/task"
	"github.com/daylist-app/daylist/internal/ui"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Manage gym and thesis log entries",
}

var logDate string

func logKind(arg string) (string, error) {
	switch arg {
	case "gym":
		return store.LogGym, nil
	case "thesis":
		return store.LogThesis, nil
	default:
		return "", fmt.Errorf("unknown log kind %q (gym, thesis)", arg)
	}
}

var logAddCmd = &cobra.Command{
	Use:   "add <gym|thesis> <content>",
	Short: "Add a log entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := logKind(args[0])
		if err != nil {
			return err
		}
		o, err := owner()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		date := logDate
		if date == "" {
			date = time.Now().Format(task.DateLayout)
		} else if _, err := time.Parse(task.DateLayout, date); err != nil {
			return fmt.Errorf("invalid date %q (want 2006-01-02)", date)
		}

		rec := &store.LogRecord{
			Owner:   o,
			LogDate: date,
			Content: args[1],
		}
		if err := st.PutLog(cmd.Context(), kind, rec); err != nil {
			return err
		}
		fmt.Printf("%s Logged %s entry for %s (%s)\n",
			ui.RenderPass("✓"), args[0], date, rec.ID)
		return nil
	},
}

var logLsCmd = &cobra.Command{
	Use:   "ls <gym|thesis>",
	Short: "List log entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := logKind(args[0])
		if err != nil {
			return err
		}
		o, err := owner()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.ListLogs(cmd.Context(), kind, o)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println(ui.RenderDim("No entries."))
			return nil
		}
		for _, rec := range recs {
			fmt.Printf("%s  %s  %s\n", rec.ID, ui.RenderAccent(rec.LogDate), rec.Content)
		}
		return nil
	},
}

var logRmCmd = &cobra.Command{
	Use:   "rm <gym|thesis> <id>",
	Short: "Delete a log entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := logKind(args[0])
		if err != nil {
			return err
		}
		o, err := owner()
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteLog(cmd.Context(), kind, o, args[1]); err != nil {
			return err
		}
		fmt.Printf("%s Deleted %s entry %s\n", ui.RenderPass("✓"), args[0], args[1])
		return nil
	},
}

func init() {
	logAddCmd.Flags().StringVar(&logDate, "date", "", "entry date (default today)")
	logCmd.AddCommand(logAddCmd, logLsCmd, logRmCmd)
}
