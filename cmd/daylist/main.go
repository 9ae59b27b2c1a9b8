// Command daylist is a personal task list that stays consistent across
// devices while offline and delivers push reminders for tasks with a
// due time.
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/daylist-app/daylist/internal/remote"
	"github.com/daylist-app/daylist/internal/store"
)

var (
	cfgFile   string
	flagOwner string
	flagDB    string
)

var rootCmd = &cobra.Command{
	Use:   "daylist",
	Short: "Offline-first personal task list with push reminders",
	Long: `daylist keeps a personal task list consistent across devices.

Local mutations are written to an embedded SQLite store and queued in an
outbox; a sync pass flushes the queue to the shared remote store and
pulls newer rows back, merging with last-write-wins. Tasks with a due
time get push reminders from the server-side notify pipeline.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/daylist/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagOwner, "owner", "", "account owner id")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "local database path")

	rootCmd.AddCommand(addCmd, doneCmd, rmCmd, lsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(notifyCmd, serveCmd, subscribeCmd, unsubscribeCmd)
	rootCmd.AddCommand(exportCmd, importCmd, importLegacyCmd)
	rootCmd.AddCommand(logCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			if home, err := os.UserHomeDir(); err == nil {
				configDir = filepath.Join(home, ".config")
			}
		}
		if configDir != "" {
			viper.AddConfigPath(filepath.Join(configDir, "daylist"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DAYLIST")
	viper.AutomaticEnv()

	viper.SetDefault("sync.interval_seconds", 60)
	viper.SetDefault("sync.retry_cap", 10)
	viper.SetDefault("notify.window_minutes", 5)
	viper.SetDefault("notify.addr", ":8090")

	if err := viper.ReadInConfig(); err == nil {
		// Pick up edits to long-running daemons without a restart.
		viper.WatchConfig()
		viper.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("Config reloaded: %s", e.Name)
		})
	}

	if flagOwner != "" {
		viper.Set("owner", flagOwner)
	}
	if flagDB != "" {
		viper.Set("db_path", flagDB)
	}
}

// owner returns the configured account owner, failing loudly when
// missing since every store operation is owner-scoped.
func owner() (string, error) {
	o := viper.GetString("owner")
	if o == "" {
		return "", fmt.Errorf("no owner configured (set --owner, DAYLIST_OWNER, or owner in config)")
	}
	return o, nil
}

// dbPath resolves the local database location.
func dbPath() string {
	if p := viper.GetString("db_path"); p != "" {
		return p
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataDir = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(dataDir, "daylist", "local.db")
}

// openStore opens the local store with its schema initialized.
func openStore() (*store.Store, error) {
	st, err := store.Open(dbPath())
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// connectRemote opens the remote store client.
func connectRemote() (*remote.Client, error) {
	url := viper.GetString("remote.url")
	if url == "" {
		return nil, fmt.Errorf("no remote configured (set remote.url)")
	}
	client, err := remote.Connect(url, viper.GetString("remote.auth_token"))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// newLogger builds a component logger. With log.file configured the
// output rotates via lumberjack, which long-running daemons rely on.
func newLogger(prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if logFile := viper.GetString("log.file"); logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return log.New(out, prefix, log.LstdFlags)
}
