package strategy

import (
	"fmt"
	"sort"
	"sync"
)

var (
	regMu    sync.Mutex
	registry = map[string]Factory{}
)

// Register binds a script name (the configured script_name without its
// extension) to a strategy factory. Called from init.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = f
}

// Lookup resolves a script name to its factory.
func Lookup(name string) (Factory, bool) {
	regMu.Lock()
	defer regMu.Unlock()
	f, ok := registry[name]
	return f, ok
}

// Names lists the registered strategies, sorted.
func Names() []string {
	regMu.Lock()
	defer regMu.Unlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
