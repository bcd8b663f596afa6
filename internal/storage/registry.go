// ABOUTME: Backend registry so providers are opened by kind from config or migration
// ABOUTME: Backends self-register from their package init functions

package storage

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Kind names a registered backend.
type Kind string

const (
	// KindFlat is the key-addressed SQLite backend without binary support.
	KindFlat Kind = "flat"
	// KindTree is the directory-tree backend with the sharded binary store.
	KindTree Kind = "tree"
)

// ParseKind validates a backend name from config or user input.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFlat, KindTree:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown storage backend %q", s)
	}
}

// Config is passed to a backend factory when opening a provider. All
// backends live under the same data directory, each in its own namespace.
type Config struct {
	// DataDir is the application data root.
	DataDir string
	// Logger is optional; backends default to slog.Default().
	Logger *slog.Logger
}

// Factory opens a provider of one kind.
type Factory func(cfg Config) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Kind]Factory)
)

// Register installs a backend factory. Called from backend package init;
// registering the same kind twice panics.
func Register(kind Kind, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("storage: backend %q registered twice", kind))
	}
	registry[kind] = f
}

// Open creates a provider of the given kind. The caller owns Close.
func Open(kind Kind, cfg Config) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage backend %q not registered (registered: %v)", kind, Kinds())
	}
	return f(cfg)
}

// Kinds lists the registered backend names, sorted.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
