package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/notionsync/notionsync/internal/tracker"
)

// UserMaps holds one identity table per tracker name.
//
// File shape:
//
//	github:
//	  octocat: "notion-person-id"   # or {id: ..., name: ...}
//	bugzilla:
//	  dev@example.com: "notion-person-id"
type UserMaps map[string]*tracker.UserMap

// userEntry accepts either a bare Notion id or an id/name pair.
type userEntry struct {
	ID   string
	Name string
}

func (e *userEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&e.ID)
	}
	var full struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	}
	if err := node.Decode(&full); err != nil {
		return err
	}
	e.ID = full.ID
	e.Name = full.Name
	return nil
}

// LoadUserMaps reads the user map file. A missing file is not an error:
// passes then degrade every person to text. Per-tracker environment
// overrides (NOTIONSYNC_GITHUB_USERMAP holding inline YAML) win over the
// file.
func LoadUserMaps(path string) (UserMaps, error) {
	raw := make(map[string]map[string]userEntry)

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("parsing user map %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to environment
		default:
			return nil, fmt.Errorf("reading user map %s: %w", path, err)
		}
	}

	for _, name := range []string{"github", "bugzilla"} {
		env := os.Getenv("NOTIONSYNC_" + strings.ToUpper(name) + "_USERMAP")
		if env == "" {
			continue
		}
		var override map[string]userEntry
		if err := yaml.Unmarshal([]byte(env), &override); err != nil {
			return nil, fmt.Errorf("parsing %s user map from environment: %w", name, err)
		}
		raw[name] = override
	}

	maps := make(UserMaps, len(raw))
	for name, entries := range raw {
		users := make([]tracker.User, 0, len(entries))
		for handle, entry := range entries {
			users = append(users, tracker.User{Handle: handle, NotionID: entry.ID, Name: entry.Name})
		}
		maps[name] = tracker.NewUserMap(users)
	}
	return maps, nil
}

// For returns the user map for a tracker. A nil UserMap is safe to use and
// resolves nothing.
func (m UserMaps) For(trackerName string) *tracker.UserMap {
	return m[trackerName]
}
