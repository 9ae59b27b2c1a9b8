package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daylist-app/daylist/internal/feed"
	daysync "github.com/daylist-app/daylist/internal/sync"
	"github.com/daylist-app/daylist/internal/ui"
)

var syncDaemon bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Flush queued changes and pull remote updates",
	Long: `Run one sync pass: flush the outbox queue to the remote store,
then pull rows newer than the stored cursor and merge them.

With --daemon the sync loop keeps running on the configured interval,
and a live feed subscription (when feed.url is set) triggers an extra
pass whenever another device pushes a change.`,
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

		rc, err := connectRemote()
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := rc.InitSchema(cmd.Context()); err != nil {
			return err
		}

		logger := newLogger("[sync] ")
		cfg := daysync.DefaultConfig()
		cfg.Interval = time.Duration(viper.GetInt("sync.interval_seconds")) * time.Second
		cfg.RetryCap = viper.GetInt("sync.retry_cap")
		cfg.Logger = logger

		var publisher daysync.Publisher
		if publishURL := viper.GetString("feed.publish_url"); publishURL != "" {
			publisher = feed.NewHTTPPublisher(publishURL, viper.GetString("feed.secret"))
		}

		coord := daysync.New(st, rc, publisher, cfg)

		if !syncDaemon {
			status, err := coord.SyncNow(cmd.Context(), o)
			if err != nil {
				return err
			}
			fmt.Printf("%s Synced: flushed=%d pulled=%d applied=%d",
				ui.RenderPass("✓"), status.Flushed, status.Pulled, status.Applied)
			if status.DeadLettered > 0 {
				fmt.Printf(" %s", ui.RenderWarn(fmt.Sprintf("dead=%d", status.DeadLettered)))
			}
			if status.FlushErr != nil {
				fmt.Printf(" %s", ui.RenderWarn(fmt.Sprintf("(flush stopped: %v)", status.FlushErr)))
			}
			fmt.Println()
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if feedURL := viper.GetString("feed.url"); feedURL != "" {
			sub, err := feed.Subscribe(ctx, feedURL, o, st, func(eventType, taskID string) {
				coord.Kick(o)
			}, newLogger("[feed] "))
			if err != nil {
				logger.Printf("Feed unavailable, continuing on timer only: %v", err)
			} else {
				defer sub.Unsubscribe()
			}
		}

		// Catch up immediately instead of waiting for the first tick.
		coord.Kick(o)

		logger.Printf("Sync daemon running for %s (interval %v)", o, cfg.Interval)
		if err := coord.Run(ctx, o); err != nil && ctx.Err() == nil {
			return err
		}
		logger.Println("Sync daemon stopped")
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDaemon, "daemon", false, "keep syncing on the configured interval")
}
