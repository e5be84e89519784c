// Package executor is the Executor (component F): it runs one task by
// instantiating a registered module and driving it across the tracker's
// C2 servers.
//
// Grounded directly on track.py's execute() and bot.py's
// BotModule.execute_task(): critical-param validation happens before a
// module is ever instantiated; every per-C2 panic or error is caught and
// treated as an empty result, never as a crash (a crash is reserved for
// failures outside the module's control, e.g. an unknown family); the
// final status folds WORKING/ARCHIVE/CONTINUE flags across every C2
// server attempted.
package executor

import (
	"context"
	"fmt"

	"github.com/hiveguard/mtracker/log"
	"github.com/hiveguard/mtracker/registry"
	"github.com/hiveguard/mtracker/resulttree"
	"github.com/hiveguard/mtracker/types"
)

// Input is everything Execute needs to run one task.
type Input struct {
	Family string
	Config map[string]any // static config, with "_id" already stamped
	State  map[string]any
	Proxy  string
}

// Output is what Execute produces: the task's terminal status, the
// accumulated result tree, and the (possibly updated) saved state to
// persist onto the bot.
type Output struct {
	Status Status
	Tree   *resulttree.Node
	State  map[string]any
}

// Status is the terminal status Execute assigns to a task. It is a
// restriction of types.Status to the four values track.py's execute()
// can actually return.
type Status = types.Status

const (
	StatusCrashed  = types.StatusCrashed
	StatusWorking  = types.StatusWorking
	StatusFailing  = types.StatusFailing
	StatusArchived = types.StatusArchived
)

// Execute runs one task end to end. It never returns a non-nil error for
// module-side failures — those are folded into the returned Status, so
// every task reaches a terminal status even on crash. An error return
// is reserved for programming-contract violations (nil registry) the
// caller should treat as fatal.
func Execute(ctx context.Context, reg *registry.Registry, logger *log.Logger, in Input) (Output, error) {
	if reg == nil {
		return Output{}, fmt.Errorf("executor: nil registry")
	}

	factory, err := reg.Lookup(in.Family)
	if err != nil {
		// Unknown family: nothing to run against, and no module-side
		// saved state changed. Matches track.py returning CRASHED when
		// family is not in the loaded tracker set.
		logger.Warn("unknown family", map[string]any{"family": in.Family})
		return Output{Status: StatusCrashed, Tree: resulttree.NewRoot(), State: in.State}, nil
	}

	if missing := registry.MissingCriticalParams(factory, in.Config); len(missing) > 0 {
		logger.Warn("missing critical params", map[string]any{"family": in.Family, "missing": missing})
		return Output{Status: StatusArchived, Tree: resulttree.NewRoot(), State: in.State}, nil
	}

	servers, err := factory.GetCNCServers(ctx, in.Config, in.State)
	if err != nil {
		logger.Error("get_cnc_servers failed", map[string]any{"family": in.Family, "error": err.Error()})
		return Output{Status: StatusFailing, Tree: resulttree.NewRoot(), State: in.State}, nil
	}

	inst := factory.New(types.ModuleInput{Config: in.Config, State: in.State, Proxy: in.Proxy})

	var finalWorking, finalArchive bool
	for _, c2 := range servers {
		result, runErr := runOne(ctx, inst, c2)
		if runErr != nil {
			logger.Error("module run panicked or errored", map[string]any{
				"family": in.Family, "c2": c2.Address, "error": runErr.Error(),
			})
			break
		}

		finalWorking = finalWorking || result.Has(types.ResultWorking)
		finalArchive = finalArchive || result.Has(types.ResultArchive)

		if !result.Has(types.ResultContinue) {
			break
		}
	}

	status := StatusFailing
	switch {
	case finalArchive:
		status = StatusArchived
	case finalWorking:
		status = StatusWorking
	}

	return Output{Status: status, Tree: inst.Results(), State: inst.State()}, nil
}

// runOne calls inst.Run, recovering from a panic inside the module and
// converting it to an error — bot.py's execute_task wraps each run() call
// in a bare except, logging the exception and treating the server as
// empty rather than aborting the whole task.
func runOne(ctx context.Context, inst registry.Instance, c2 types.C2Server) (result types.BotResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return inst.Run(ctx, c2)
}
