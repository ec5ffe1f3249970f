package tracker

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ConfigStore provides access to the settings layer. The TOML settings file
// satisfies this through a map-backed adapter.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	GetAllConfig(ctx context.Context) (map[string]string, error)
}

// Config resolves one tracker's settings. Keys are unprefixed; the store
// is consulted under "<prefix>.<key>" and the environment under
// "<PREFIX>_<KEY>". Store values win so a settings file can pin a token
// that differs from the ambient environment.
type Config struct {
	Prefix string
	Store  ConfigStore
	Ctx    context.Context
}

// NewConfig binds a key prefix ("github", "bugzilla", "notion") to a store.
func NewConfig(ctx context.Context, prefix string, store ConfigStore) *Config {
	return &Config{Prefix: prefix, Store: store, Ctx: ctx}
}

// Get resolves a key, or returns empty when neither the store nor the
// environment carries it. Store errors are treated as absence: a broken
// settings layer should not mask a working env var.
func (c *Config) Get(key string) (string, error) {
	if c.Store != nil {
		if value, err := c.Store.GetConfig(c.Ctx, c.Prefix+"."+key); err == nil && value != "" {
			return value, nil
		}
	}
	if value := os.Getenv(c.envVarName(key)); value != "" {
		return value, nil
	}
	return "", nil
}

// GetRequired is Get with a configuration error naming both places the
// value could have come from.
func (c *Config) GetRequired(key string) (string, error) {
	value, err := c.Get(key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("%s.%s not configured (set it in the settings file or export %s)",
			c.Prefix, key, c.envVarName(key))
	}
	return value, nil
}

// GetAll returns every store key under the prefix, with the prefix
// stripped. Environment variables are not enumerated.
func (c *Config) GetAll() (map[string]string, error) {
	result := make(map[string]string)
	if c.Store == nil {
		return result, nil
	}
	all, err := c.Store.GetAllConfig(c.Ctx)
	if err != nil {
		return nil, err
	}
	prefix := c.Prefix + "."
	for key, value := range all {
		if short, ok := strings.CutPrefix(key, prefix); ok {
			result[short] = value
		}
	}
	return result, nil
}

// envVarName maps "github" + "api.url" to "GITHUB_API_URL".
func (c *Config) envVarName(key string) string {
	return strings.ReplaceAll(strings.ToUpper(c.Prefix+"_"+key), ".", "_")
}

// MapStore is a ConfigStore backed by a plain map, used by the settings
// loader and by tests.
type MapStore map[string]string

// GetConfig returns the value for key, or empty when absent.
func (m MapStore) GetConfig(_ context.Context, key string) (string, error) {
	return m[key], nil
}

// GetAllConfig returns a copy of the underlying map.
func (m MapStore) GetAllConfig(_ context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

// CommonConfig names the keys every tracker understands.
var CommonConfig = struct {
	Token   string
	BaseURL string
	Team    string
}{
	Token:   "token",
	BaseURL: "base_url",
	Team:    "team",
}
