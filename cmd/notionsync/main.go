package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/telemetry"
)

var (
	cfgPath     string
	userMapPath string
	verboseFlag bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// setupSignalContext installs the SIGINT/SIGTERM-aware root context. The
// first signal cancels in-flight passes; a second one kills the process.
func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadSettings reads the settings file the flags and environment resolve
// to. NOTIONSYNC_CONFIG overrides the default path but loses to an
// explicit --config flag.
func loadSettings() (*config.Settings, error) {
	return config.Load(viper.GetString("config"))
}

// loadUsers reads the user map file. Missing files degrade to an empty
// map; person fields then sync as text only.
func loadUsers() (config.UserMaps, error) {
	return config.LoadUserMaps(viper.GetString("usermap"))
}

var rootCmd = &cobra.Command{
	Use:   "notionsync",
	Short: "notionsync - Notion / issue tracker synchronization",
	Long: `Reconciles Notion databases with GitHub and Bugzilla. Each configured set
matches records across systems by a stable key, diffs them field by field
under per-field authority rules, and applies only what changed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupSignalContext()
		if err := telemetry.Init(rootCtx, "notionsync", Version); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: telemetry init failed: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(context.Background())
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "sync_settings.toml", "Settings file")
	rootCmd.PersistentFlags().StringVarP(&userMapPath, "usermap", "u", "sync_usermap.yaml", "User map file (per-tracker env vars override)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")

	// viper layers NOTIONSYNC_CONFIG / NOTIONSYNC_USERMAP under the flags
	// so containerized deployments can mount config anywhere.
	viper.SetEnvPrefix("NOTIONSYNC")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("usermap", rootCmd.PersistentFlags().Lookup("usermap"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
