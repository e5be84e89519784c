// Package demomodule is a reference implementation of the registry
// contract (component B), used by the "fetch" CLI path's default usage
// and by end-to-end tests that need a real, registerable module rather
// than a test-only stub.
//
// Grounded on bot.py's BotModule pattern: one Instance per task,
// accumulating into an owned result tree and state map across repeated
// Run calls, with "seen" persisted into state the way a real tracker
// module would remember it has already reported a config.
package demomodule

import (
	"context"
	"fmt"

	"github.com/hiveguard/mtracker/registry"
	"github.com/hiveguard/mtracker/resulttree"
	"github.com/hiveguard/mtracker/types"
)

// Family is this module's registry key.
const Family = "demofam"

// Factory implements registry.Factory for the demo family. Its one
// critical param is "c2_domain", matching the shape of a minimal
// static-config-driven module.
type Factory struct{}

func (Factory) Family() string           { return Family }
func (Factory) CriticalParams() []string { return []string{"c2_domain"} }
func (Factory) ProxyWhitelist() []string { return nil }

// GetCNCServers returns a single C2 entry whose address is the
// "c2_domain" string from the static config.
func (Factory) GetCNCServers(ctx context.Context, config, state map[string]any) ([]types.C2Server, error) {
	domain, _ := config["c2_domain"].(string)
	if domain == "" {
		return nil, fmt.Errorf("demomodule: c2_domain missing from config")
	}
	return []types.C2Server{{Address: domain}}, nil
}

func (Factory) New(input types.ModuleInput) registry.Instance {
	state := input.State
	if state == nil {
		state = map[string]any{}
	}
	return &instance{config: input.Config, state: state, root: resulttree.NewRoot()}
}

type instance struct {
	config map[string]any
	state  map[string]any
	root   *resulttree.Node
}

// Run pretends to fetch a config from c2 and pushes it into the result
// tree, marking state["seen"] so a subsequent task run against the same
// bot can tell it already reported once.
func (i *instance) Run(ctx context.Context, c2 types.C2Server) (types.BotResult, error) {
	if already, _ := i.state["seen"].(bool); already {
		return types.ResultEmpty, nil
	}
	i.root.PushConfig(map[string]any{"type": Family, "cnc": c2.Address}, "cnc", nil, nil, nil)
	i.state["seen"] = true
	return types.ResultWorking, nil
}

func (i *instance) Results() *resulttree.Node { return i.root }
func (i *instance) State() map[string]any     { return i.state }
