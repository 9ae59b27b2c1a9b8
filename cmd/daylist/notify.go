package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daylist-app/daylist/internal/feed"
	"github.com/daylist-app/daylist/internal/notify"
	"github.com/daylist-app/daylist/internal/remote"
	"github.com/daylist-app/daylist/internal/ui"
)

var notifyWindow int

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Run one due-task notification pass",
	Long: `Scan the remote store for tasks due inside the look-ahead window and
push a reminder to every registered endpoint. Intended for cron or
manual runs; use serve for the long-running job server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := connectRemote()
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := rc.InitSchema(cmd.Context()); err != nil {
			return err
		}

		window := notifyWindow
		if window <= 0 {
			window = viper.GetInt("notify.window_minutes")
		}

		due, err := notify.Scan(cmd.Context(), rc, time.Now(), time.Duration(window)*time.Minute)
		if err != nil {
			return err
		}

		dispatcher := notify.NewDispatcher(rc, newWebPushSender(), viper.GetString("notify.app_url"), newLogger("[notify] "))
		result, err := dispatcher.Dispatch(cmd.Context(), due)
		if err != nil {
			return err
		}

		fmt.Printf("%s Notify: scanned=%d delivered=%d pruned=%d marked=%d\n",
			ui.RenderPass("✓"), result.Scanned, result.Delivered, result.Pruned, result.Marked)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job server and change-feed hub",
	Long: `Serve the HTTP job trigger, the change-feed hub, and (when
notify.scheduler_interval_seconds is set) an internal scheduler that
fires the notification job without an external caller.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := connectRemote()
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := rc.InitSchema(cmd.Context()); err != nil {
			return err
		}

		logger := newLogger("[serve] ")
		dispatcher := notify.NewDispatcher(rc, newWebPushSender(), viper.GetString("notify.app_url"), newLogger("[notify] "))

		srv := notify.NewServer(rc, dispatcher, notify.ServerConfig{
			Addr:          viper.GetString("notify.addr"),
			Secret:        viper.GetString("notify.job_secret"),
			WindowMinutes: viper.GetInt("notify.window_minutes"),
			Logger:        logger,
		})

		hub := feed.NewHub(viper.GetString("feed.secret"), newLogger("[feed] "))
		hub.Register(srv.Mux())
		defer hub.Close()

		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if secs := viper.GetInt("notify.scheduler_interval_seconds"); secs > 0 {
			go func() {
				interval := time.Duration(secs) * time.Second
				logger.Printf("Internal scheduler firing every %v", interval)
				_ = srv.RunScheduler(ctx, interval)
			}()
		}

		<-ctx.Done()
		logger.Println("Shutting down")
		return nil
	},
}

var (
	subEndpoint string
	subP256dh   string
	subAuth     string
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Register a push endpoint for reminders",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := owner()
		if err != nil {
			return err
		}
		rc, err := connectRemote()
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := rc.InitSchema(cmd.Context()); err != nil {
			return err
		}

		err = rc.SaveEndpoint(cmd.Context(), &remote.PushEndpoint{
			Endpoint: subEndpoint,
			Owner:    o,
			P256dh:   subP256dh,
			Auth:     subAuth,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s Push endpoint registered for %s\n", ui.RenderPass("✓"), o)
		return nil
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <endpoint>",
	Short: "Remove a push endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := connectRemote()
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := rc.InitSchema(cmd.Context()); err != nil {
			return err
		}

		if err := rc.DeleteEndpoint(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s Push endpoint removed\n", ui.RenderPass("✓"))
		return nil
	},
}

func newWebPushSender() *notify.WebPushSender {
	return notify.NewWebPushSender(
		viper.GetString("notify.vapid_subject"),
		viper.GetString("notify.vapid_public_key"),
		viper.GetString("notify.vapid_private_key"),
	)
}

func init() {
	notifyCmd.Flags().IntVar(&notifyWindow, "window", 0, "look-ahead window in minutes")

	subscribeCmd.Flags().StringVar(&subEndpoint, "endpoint", "", "push service endpoint URL")
	subscribeCmd.Flags().StringVar(&subP256dh, "p256dh", "", "client public key")
	subscribeCmd.Flags().StringVar(&subAuth, "auth", "", "client auth secret")
	_ = subscribeCmd.MarkFlagRequired("endpoint")
	_ = subscribeCmd.MarkFlagRequired("p256dh")
	_ = subscribeCmd.MarkFlagRequired("auth")
}
