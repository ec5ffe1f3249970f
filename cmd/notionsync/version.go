package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Version is the current version (overridden by ldflags at build time)
	Version = "1.2.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if commit := resolveCommit(); commit != "" {
			fmt.Printf("notionsync version %s (%s: %s)\n", Version, Build, commit)
		} else {
			fmt.Printf("notionsync version %s (%s)\n", Version, Build)
		}
	},
}

// resolveCommit returns the short VCS revision baked into the binary, if
// the build carried one.
func resolveCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 8 {
			return setting.Value[:8]
		}
	}
	return ""
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
