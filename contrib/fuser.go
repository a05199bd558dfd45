// Package contrib — fuser.go
//
// Plugin interface for fusion algorithms.
//
// The broker factors its two verdict algorithms (categorical slot vote,
// parking spatial assignment) behind a single Fuser interface and selects
// the active implementation by name at startup, from the broker settings
// document's `variant` field — never at compile time.
//
// Plugin registration:
//   Implementations register themselves in an init() function using
//   RegisterFuser(). The broker selects the active fuser via config:
//
//     variant: "categorical"  # or "parking"
//
//   Built-in fusers: "categorical", "parking" (internal/fusion).
//
// Plugin contract:
//   - Fuse() must be safe to call from the single bus-callback goroutine;
//     if the broker is extended with worker goroutines, Fuse() must not
//     retain or mutate its FusionSnapshot argument.
//   - Fuse() must not block on I/O; it runs to completion inside the
//     rate-limited verdict cycle.
//   - Fuse() must be deterministic: identical snapshots must yield
//     identical verdicts (P3).
package contrib

import (
	"fmt"
	"sync"
	"time"

	"github.com/EverettRichards/edge-vehicle-server/internal/clientset"
	"github.com/EverettRichards/edge-vehicle-server/internal/sceneconfig"
)

// Verdict maps slot identifier (slot-name or spot-index-as-string) to the
// chosen label for one verdict cycle. "None" (categorical) or "EMPTY"
// (parking) marks an unresolved slot.
type Verdict map[string]string

// FusionSnapshot is the read-only input to one Fuse call: the current
// wall-clock time, every registered client's reputation and
// freshness-gated latest observation, and the static scene configuration.
type FusionSnapshot struct {
	Now     time.Time
	Clients []clientset.ClientView
	Scene   sceneconfig.Document
}

// Fuser computes one verdict from a snapshot of client state. The single
// interface spec'd for both variants (categorical and parking); one
// implementation is selected at startup by configured variant name.
type Fuser interface {
	// Name returns the unique identifier for this fuser. Used as the
	// config key (variant).
	Name() string

	// Fuse computes a verdict from the snapshot. Must not mutate snapshot.
	Fuse(snapshot FusionSnapshot) (Verdict, error)
}

var (
	fuserMu sync.RWMutex
	fusers  = make(map[string]Fuser)
)

// RegisterFuser registers a fusion algorithm. Panics if name is already
// registered. Call from init() functions.
func RegisterFuser(f Fuser) {
	fuserMu.Lock()
	defer fuserMu.Unlock()
	if _, exists := fusers[f.Name()]; exists {
		panic(fmt.Sprintf("contrib: fuser %q already registered", f.Name()))
	}
	fusers[f.Name()] = f
}

// GetFuser returns the registered fuser with the given name.
func GetFuser(name string) (Fuser, error) {
	fuserMu.RLock()
	defer fuserMu.RUnlock()
	f, ok := fusers[name]
	if !ok {
		return nil, fmt.Errorf("contrib: fuser %q not registered (available: %v)", name, listFuserNames())
	}
	return f, nil
}

// ListFusers returns the names of all registered fusers.
func ListFusers() []string {
	fuserMu.RLock()
	defer fuserMu.RUnlock()
	return listFuserNames()
}

func listFuserNames() []string {
	names := make([]string, 0, len(fusers))
	for k := range fusers {
		names = append(names, k)
	}
	return names
}
