package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notionsync/notionsync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sets with method and enabled state",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		for _, name := range settings.SetNames() {
			set := settings.Sync[name]
			state := ui.RenderPass("enabled")
			if !set.IsEnabled() {
				state = ui.RenderMuted("disabled")
			}
			fmt.Printf("%s  %s  %s\n", ui.RenderCategory(name), ui.RenderAccent(set.Method), state)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
