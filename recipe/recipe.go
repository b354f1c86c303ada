// Package recipe defines the build-recipe API: the lifecycle steps a recipe
// implements, the context threaded through them, and the orchestrator that
// sequences a build.
package recipe

import (
	"sort"
	"strings"
	"sync"
)

// Recipe is a build recipe for one package. The orchestrator invokes the
// lifecycle steps in order; any error aborts the remaining steps.
type Recipe interface {
	// Options declares the configuration options this recipe recognizes,
	// including inherited base options.
	Options() map[string]Option

	Configure(ctx *Context) error
	Build(ctx *Context) error
	Test(ctx *Context) error
	Install(ctx *Context) error
	SanityCheck(ctx *Context) error
}

// Factory constructs a fresh Recipe instance.
type Factory func() Recipe

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a recipe available under name. It is intended to be called
// from recipe package init functions and panics on duplicates.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	key := strings.ToLower(name)
	if _, dup := registry[key]; dup {
		panic("recipe: Register called twice for " + name)
	}
	registry[key] = f
}

// Lookup returns the factory registered under name (case-insensitive).
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[strings.ToLower(name)]
	return f, ok
}

// Names returns all registered recipe names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
