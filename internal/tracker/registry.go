package tracker

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh, unconfigured tracker instance. Instances are
// never shared: each set configures its own so per-set overrides (base
// URLs, dry-run) cannot leak between concurrent runs.
type Factory func() IssueTracker

// Registry maps tracker names to factories. Implementations register
// themselves from init(), so importing a tracker package is enough to
// make it available by name.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]Factory
}

var globalRegistry = &Registry{trackers: make(map[string]Factory)}

// Register adds a factory to the global registry under a lowercase name.
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// New builds a fresh instance of the named tracker from the global
// registry.
func New(name string) (IssueTracker, error) {
	return globalRegistry.New(name)
}

// Get returns the factory registered under the name in the global
// registry, or nil if none is registered.
func Get(name string) Factory {
	return globalRegistry.Get(name)
}

// List returns the globally registered tracker names, sorted.
func List() []string {
	return globalRegistry.List()
}

// FindTrackerForRef asks the globally registered trackers which of them
// claims the URL.
func FindTrackerForRef(url string) (string, bool) {
	return globalRegistry.FindTrackerForRef(url)
}

// Register adds a factory, replacing any previous one of the same name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[name] = factory
}

// New builds a fresh instance of the named tracker. Unknown names error
// with the registered alternatives.
func (r *Registry) New(name string) (IssueTracker, error) {
	r.mu.RLock()
	factory := r.trackers[name]
	r.mu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unknown tracker %q (available: %v)", name, r.List())
	}
	return factory(), nil
}

// Get returns the factory registered under the name, or nil if none is
// registered.
func (r *Registry) Get(name string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackers[name]
}

// IsRegistered reports whether a factory exists for the name.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.trackers[name]
	return ok
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.trackers))
	for name := range r.trackers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindTrackerForRef returns the name of the first tracker whose
// IsExternalRef claims the URL. Probing builds throwaway instances;
// IsExternalRef must therefore work unconfigured.
func (r *Registry) FindTrackerForRef(url string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, factory := range r.trackers {
		if factory().IsExternalRef(url) {
			return name, true
		}
	}
	return "", false
}
