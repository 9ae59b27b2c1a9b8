package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daylist-app/daylist/internal/store"
	"github.com/daylist-app/daylist/internal/task"
	"github.com/daylist-app/daylist/internal/ui"
)

var (
	addWhen     string
	addDate     string
	addTime     string
	addPriority string
	addSlot     int
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Long: `Add a task to the local store and queue it for sync.

Scheduling accepts natural language via --when ("tomorrow 17:00",
"friday 9am") or explicit --date / --time values.`,
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

		tz := defaultTimezone()
		t := &task.Task{
			Owner:    o,
			Title:    args[0],
			Timezone: tz,
		}

		switch addPriority {
		case "", task.PriorityNormal:
			t.Priority = task.PriorityNormal
		case task.PriorityHigh, task.PriorityMedium:
			t.Priority = addPriority
		default:
			return fmt.Errorf("invalid priority %q (high, medium, normal)", addPriority)
		}

		if addSlot > 0 {
			t.TopSlot = &addSlot
		}

		if addWhen != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				loc = time.Local
			}
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)
			r, err := w.Parse(addWhen, time.Now().In(loc))
			if err != nil || r == nil {
				return fmt.Errorf("could not understand %q", addWhen)
			}
			t.ScheduledDate = r.Time.Format(task.DateLayout)
			t.DueTime = r.Time.Format(task.TimeOfDayLayout)
		}
		if addDate != "" {
			t.ScheduledDate = addDate
		}
		if addTime != "" {
			t.DueTime = addTime
		}

		if err := st.Put(cmd.Context(), t, true); err != nil {
			return err
		}

		fmt.Printf("%s Added %s (%s)\n", ui.RenderPass("✓"), ui.RenderAccent(t.Title), t.ID)
		if t.ScheduledDate != "" {
			detail := t.ScheduledDate
			if t.DueTime != "" {
				detail += " " + t.DueTime
			}
			fmt.Printf("   Scheduled: %s\n", detail)
		}
		return nil
	},
}

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task done",
	Args:  cobra.ExactArgs(1),
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

		t, err := st.GetTask(cmd.Context(), o, args[0])
		if err != nil {
			return err
		}
		t.Complete(time.Now())
		if err := st.Put(cmd.Context(), t, true); err != nil {
			return err
		}

		fmt.Printf("%s Done: %s\n", ui.RenderPass("✓"), ui.RenderDone(t.Title))
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
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

		if err := st.Delete(cmd.Context(), o, args[0], true); err != nil {
			return err
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var (
	lsStatus string
	lsDate   string
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tasks",
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

		tasks, err := st.ListTasks(cmd.Context(), o, store.ListFilter{
			Status:        lsStatus,
			ScheduledDate: lsDate,
		})
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println(ui.RenderDim("No tasks."))
			return nil
		}

		for _, t := range tasks {
			printTask(t)
		}
		return nil
	},
}

func printTask(t *task.Task) {
	title := t.Title
	mark := " "
	if t.Status == task.StatusDone {
		title = ui.RenderDone(title)
		mark = ui.RenderPass("✓")
	}
	line := fmt.Sprintf("[%s] %s  %s", mark, t.ID, title)
	if t.TopSlot != nil {
		line += "  " + ui.RenderAccent(fmt.Sprintf("#%d", *t.TopSlot))
	}
	if t.Priority == task.PriorityHigh {
		line += "  " + ui.RenderWarn("high")
	}
	if t.ScheduledDate != "" {
		detail := t.ScheduledDate
		if t.DueTime != "" {
			detail += " " + t.DueTime
		}
		line += "  " + ui.RenderDim(detail)
	}
	fmt.Println(line)
}

// defaultTimezone returns the configured timezone, falling back to the
// host zone.
func defaultTimezone() string {
	if tz := viper.GetString("timezone"); tz != "" {
		return tz
	}
	if name := os.Getenv("TZ"); name != "" {
		return name
	}
	return time.Now().Location().String()
}

func init() {
	addCmd.Flags().StringVar(&addWhen, "when", "", "natural language schedule (\"tomorrow 17:00\")")
	addCmd.Flags().StringVar(&addDate, "date", "", "scheduled date (2006-01-02)")
	addCmd.Flags().StringVar(&addTime, "time", "", "due time (15:04)")
	addCmd.Flags().StringVar(&addPriority, "priority", "", "priority (high, medium, normal)")
	addCmd.Flags().IntVar(&addSlot, "slot", 0, "top-3 slot (1-3)")

	lsCmd.Flags().StringVar(&lsStatus, "status", "", "filter by status (todo, done)")
	lsCmd.Flags().StringVar(&lsDate, "date", "", "filter by scheduled date")
}
