package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/notion"
	"github.com/notionsync/notionsync/internal/sets"
	"github.com/notionsync/notionsync/internal/ui"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Inspection helpers for configuring sets",
}

var debugDBCmd = &cobra.Command{
	Use:   "db SET",
	Short: "Dump the resolved schemas of a set's Notion databases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		names, err := settings.Pick(args)
		if err != nil {
			return err
		}
		set := settings.Sync[names[0]]

		client, err := sets.NotionClient(rootCtx, settings)
		if err != nil {
			return err
		}
		for _, db := range setDatabases(set) {
			obj, err := client.RetrieveDatabase(rootCtx, db.id)
			if err != nil {
				return fmt.Errorf("%s database %s: %w", db.role, db.id, err)
			}
			printDatabase(db.role, obj)
		}
		return nil
	},
}

var debugUsersCmd = &cobra.Command{
	Use:   "users SET",
	Short: "Dump user map resolution for a set",
	Long: `Lists the Notion workspace members in user map syntax, then checks every
handle in the set's user map against them. Unresolvable ids mean the
mapped person left the workspace or the id was mistyped.`,
	Args: cobra.ExactArgs(1),
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
		set := settings.Sync[names[0]]

		client, err := sets.NotionClient(rootCtx, settings)
		if err != nil {
			return err
		}
		members, err := client.ListUsers(rootCtx)
		if err != nil {
			return err
		}

		fmt.Println(ui.RenderCategory("workspace members"))
		known := make(map[string]bool, len(members))
		for _, member := range members {
			known[notion.NormalizeID(member.ID)] = true
			if member.Type != "person" {
				continue
			}
			email := ""
			if member.Person != nil {
				email = member.Person.Email
			}
			fmt.Printf("%s = %q # %s\n", email, member.ID, member.Name)
		}

		trackerName := set.TrackerName()
		if trackerName == "" {
			fmt.Println(ui.RenderMuted("set has no tracker, no user map to check"))
			return nil
		}
		userMap := users.For(trackerName)
		if userMap == nil || userMap.Len() == 0 {
			fmt.Println(ui.RenderMuted("no user map entries for tracker " + trackerName))
			return nil
		}

		fmt.Println()
		fmt.Println(ui.RenderCategory(trackerName + " user map"))
		for _, handle := range userMap.Handles() {
			user, _ := userMap.Lookup(handle)
			if known[notion.NormalizeID(user.NotionID)] {
				fmt.Printf("%s %s = %s\n", ui.RenderPassIcon(), handle, ui.RenderMuted(user.NotionID))
			} else {
				fmt.Printf("%s %s = %s %s\n", ui.RenderWarnIcon(), handle, user.NotionID,
					ui.RenderWarn("(not in workspace)"))
			}
		}
		return nil
	},
}

// setDatabase names one configured database id with its role in the set.
type setDatabase struct {
	role string
	id   string
}

func setDatabases(set *config.Set) []setDatabase {
	all := []setDatabase{
		{"milestones", set.NotionMilestonesID},
		{"tasks", set.NotionTasksID},
		{"sprints", set.NotionSprintsID},
		{"bugs", set.NotionBugsID},
		{"board", set.NotionBoardID},
	}
	var configured []setDatabase
	for _, db := range all {
		if db.id != "" {
			configured = append(configured, db)
		}
	}
	return configured
}

func printDatabase(role string, obj *notion.DatabaseObject) {
	fmt.Printf("%s %s\n", ui.RenderCategory(role), ui.RenderMuted(obj.ID))
	if desc := obj.DescriptionText(); desc != "" {
		fmt.Printf("  %s\n", ui.RenderMuted(desc))
	}

	names := make([]string, 0, len(obj.Properties))
	for name := range obj.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		schema := obj.Properties[name]
		line := fmt.Sprintf("  %-28s %s", name, ui.RenderAccent(schema.Type))
		if opts := schemaOptions(schema); len(opts) > 0 {
			line += " " + ui.RenderMuted("["+strings.Join(opts, ", ")+"]")
		}
		if schema.Relation != nil {
			line += " " + ui.RenderMuted("→ "+schema.Relation.DatabaseID)
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func schemaOptions(schema notion.PropertySchema) []string {
	var options []notion.SelectOption
	switch {
	case schema.Select != nil:
		options = schema.Select.Options
	case schema.MultiSelect != nil:
		options = schema.MultiSelect.Options
	case schema.Status != nil:
		options = schema.Status.Options
	}
	names := make([]string, 0, len(options))
	for _, opt := range options {
		names = append(names, opt.Name)
	}
	return names
}

func init() {
	debugCmd.AddCommand(debugDBCmd)
	debugCmd.AddCommand(debugUsersCmd)
	rootCmd.AddCommand(debugCmd)
}
