// Package registry is the Module Registry (component B): a Go-native
// replacement for loader.py's dynamic pkgutil import of a modules
// directory. Family modules register themselves into a Registry at
// process start via an explicit {family -> Factory} table instead of
// being discovered by walking a filesystem path at runtime.
//
// Individual malware-family modules are out of scope for this
// repository; this package specifies only the contract they implement
// and the table that looks them up by family name.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hiveguard/mtracker/resulttree"
	"github.com/hiveguard/mtracker/types"
)

// Instance is one running execution of a module against a single task: it
// owns the in-progress result tree and saved state for the duration of
// Executor.Execute, mirroring bot.py's ModuleBase instance (self._results,
// self.state, self.proxy_dict).
type Instance interface {
	// Run impersonates the module's configuration against a single C2
	// server. Any artifacts discovered are pushed onto Results(); any
	// state to carry into the next task is written into the map returned
	// by the instance's state accessor, mutated in place.
	Run(ctx context.Context, c2 types.C2Server) (types.BotResult, error)

	// Results returns the root of the result tree accumulated so far.
	Results() *resulttree.Node

	// State returns the (possibly mutated) saved state to persist after
	// the task completes.
	State() map[string]any
}

// Factory is the per-family contract a module implements. Family modules
// are registered into a Registry under their Family() name.
type Factory interface {
	// Family is this module's unique family name.
	Family() string

	// CriticalParams lists static-config keys that must all be present
	// for this module to run. A config missing any of these causes
	// Executor.Execute to return StatusArchived without instantiating the
	// module at all (track.py's CRITICAL_PARAMS check).
	CriticalParams() []string

	// ProxyWhitelist, when non-nil, names the only countries ingest may
	// create bots for (a non-nil empty list permits none); a nil
	// whitelist means all countries are eligible.
	ProxyWhitelist() []string

	// GetCNCServers enumerates the C2 servers to impersonate against,
	// given the tracker's static config (with "_id" stamped) and the
	// bot's saved state.
	GetCNCServers(ctx context.Context, config, state map[string]any) ([]types.C2Server, error)

	// New constructs a fresh Instance bound to one task's input.
	New(input types.ModuleInput) Instance
}

// ErrUnknownFamily is returned by Lookup when no factory is registered
// under the requested family.
var ErrUnknownFamily = fmt.Errorf("unknown family")

// Registry maps family names to their Factory. Safe for concurrent use;
// intended to be populated once at process start and read thereafter.
type Registry struct {
	mu       sync.RWMutex
	byFamily map[string]Factory
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byFamily: make(map[string]Factory)}
}

// Register adds a factory under its own Family() name. Registering a
// second factory under an already-used family name replaces the first.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byFamily[f.Family()] = f
}

// Lookup returns the factory registered for family, or ErrUnknownFamily.
func (r *Registry) Lookup(family string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byFamily[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}
	return f, nil
}

// Families returns every registered family name, sorted.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byFamily))
	for name := range r.byFamily {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MissingCriticalParams returns the subset of f's CriticalParams not
// present as keys in config.
func MissingCriticalParams(f Factory, config map[string]any) []string {
	var missing []string
	for _, key := range f.CriticalParams() {
		if _, ok := config[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
