package main

import (
	"fmt"
	"os"
	gosync "sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/sets"
	"github.com/notionsync/notionsync/internal/sync"
	"github.com/notionsync/notionsync/internal/ui"
)

var (
	syncDryRun        bool
	syncTrackerDryRun bool
	syncSynchronous   bool
	syncParallel      int
)

// setResult is one set's outcome, collected for ordered rendering after
// the concurrent runs finish.
type setResult struct {
	name   string
	report *sync.Report
	err    error
}

var syncCmd = &cobra.Command{
	Use:   "sync [set...]",
	Short: "Run all enabled sets, or only the named ones",
	Long: `Runs each configured set as one stateless pass: fetch both sides, match by
key, diff under field authority, apply. Sets run concurrently unless
--synchronous is given. A set that fails does not stop the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		users, err := loadUsers()
		if err != nil {
			return err
		}
		names, err := settings.Pick(args)
		if err != nil {
			return err
		}

		var enabled []string
		for _, name := range names {
			if !settings.Sync[name].IsEnabled() {
				if verboseFlag {
					fmt.Println(ui.RenderMuted(fmt.Sprintf("%s %s is disabled, skipping", ui.IconSkip, name)))
				}
				continue
			}
			enabled = append(enabled, name)
		}
		if len(enabled) == 0 {
			fmt.Println(ui.RenderMuted("no enabled sets to run"))
			return nil
		}

		results := runSets(settings, users, enabled)

		failed := 0
		for _, res := range results {
			renderResult(res)
			if res.err != nil || !res.report.Success() {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sets failed", failed, len(results))
		}
		return nil
	},
}

// runSets runs the named sets concurrently and returns their results in
// the input order. Per-set errors are collected, never propagated early:
// one broken set must not cancel the rest.
func runSets(settings *config.Settings, users config.UserMaps, names []string) []setResult {
	results := make([]setResult, len(names))

	var printMu gosync.Mutex
	say := func(prefix, style string, format string, args ...any) {
		printMu.Lock()
		defer printMu.Unlock()
		line := fmt.Sprintf(format, args...)
		switch style {
		case "warn":
			fmt.Fprintln(os.Stderr, ui.RenderWarn(fmt.Sprintf("%s [%s] %s", ui.IconWarn, prefix, line)))
		default:
			if verboseFlag {
				fmt.Println(ui.RenderMuted(fmt.Sprintf("[%s] %s", prefix, line)))
			}
		}
	}

	var g errgroup.Group
	if syncSynchronous {
		g.SetLimit(1)
	} else {
		g.SetLimit(max(syncParallel, 1))
	}

	for i, name := range names {
		g.Go(func() error {
			opts := sets.Options{
				Name:          name,
				Set:           settings.Sync[name],
				Settings:      settings,
				Users:         users,
				DryRun:        syncDryRun,
				TrackerDryRun: syncTrackerDryRun,
				OnMessage:     func(format string, args ...any) { say(name, "info", format, args...) },
				OnWarning:     func(format string, args ...any) { say(name, "warn", format, args...) },
			}
			runner, err := sets.New(rootCtx, opts)
			if err != nil {
				results[i] = setResult{name: name, err: err}
				return nil
			}
			report, err := runner.Run(rootCtx)
			results[i] = setResult{name: name, report: report, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// renderResult prints one set's report block.
func renderResult(res setResult) {
	switch {
	case res.err != nil:
		fmt.Printf("%s %s\n", ui.RenderFailIcon(), ui.RenderCategory(res.name))
		fmt.Printf("  %s\n", ui.RenderFail(res.err.Error()))
	case !res.report.Success():
		fmt.Printf("%s %s %s\n", ui.RenderFailIcon(), ui.RenderCategory(res.name), ui.RenderMuted(res.report.Summary()))
	default:
		fmt.Printf("%s %s %s\n", ui.RenderPassIcon(), ui.RenderCategory(res.name), ui.RenderMuted(res.report.Summary()))
	}
	if res.report == nil {
		return
	}
	for _, warning := range res.report.Warnings {
		fmt.Printf("  %s %s\n", ui.RenderWarnIcon(), ui.RenderWarn(warning))
	}
	for _, failure := range res.report.Failures {
		fmt.Printf("  %s %s: %s\n", ui.RenderFailIcon(), ui.RenderAccent(string(failure.Key)), ui.RenderFail(failure.Cause))
	}
}

func init() {
	syncCmd.Flags().BoolVarP(&syncDryRun, "dry-run", "n", false, "Plan changes without writing to Notion or trackers")
	syncCmd.Flags().BoolVar(&syncTrackerDryRun, "tracker-dry-run", false, "Write to Notion but not to trackers")
	syncCmd.Flags().BoolVar(&syncSynchronous, "synchronous", false, "Run sets one at a time, for debugging")
	syncCmd.Flags().IntVar(&syncParallel, "parallel", 4, "Maximum concurrent sets")
	rootCmd.AddCommand(syncCmd)
}
