package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notionsync/notionsync/internal/sets"
	"github.com/notionsync/notionsync/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate [set...]",
	Short: "Check Notion schemas and tracker access without writing",
	Long: `Builds each set and verifies its Notion databases carry the properties the
passes need (right names, right types, required select options) and that
the tracker credentials work. Nothing is written.`,
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

		failed := 0
		for _, name := range names {
			opts := sets.Options{
				Name:     name,
				Set:      settings.Sync[name],
				Settings: settings,
				Users:    users,
				DryRun:   true,
			}
			runner, err := sets.New(rootCtx, opts)
			if err == nil {
				err = runner.Validate(rootCtx)
			}
			if err != nil {
				failed++
				fmt.Printf("%s %s\n", ui.RenderFailIcon(), ui.RenderCategory(name))
				fmt.Printf("  %s\n", ui.RenderFail(err.Error()))
				continue
			}
			fmt.Printf("%s %s\n", ui.RenderPassIcon(), ui.RenderCategory(name))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sets failed validation", failed, len(names))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
