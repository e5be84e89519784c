package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveguard/mtracker/executor"
	"github.com/hiveguard/mtracker/log"
	"github.com/hiveguard/mtracker/registry"
	"github.com/hiveguard/mtracker/resulttree"
	"github.com/hiveguard/mtracker/types"
)

type fakeInstance struct {
	root    *resulttree.Node
	state   map[string]any
	results []types.BotResult
	errs    []error
	calls   int
	panics  []bool
}

func (f *fakeInstance) Run(ctx context.Context, c2 types.C2Server) (types.BotResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.panics) && f.panics[i] {
		panic("boom")
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var result types.BotResult
	if i < len(f.results) {
		result = f.results[i]
	}
	return result, err
}
func (f *fakeInstance) Results() *resulttree.Node { return f.root }
func (f *fakeInstance) State() map[string]any     { return f.state }

type fakeFactory struct {
	family   string
	critical []string
	servers  []types.C2Server
	cncErr   error
	inst     *fakeInstance
}

func (f *fakeFactory) Family() string           { return f.family }
func (f *fakeFactory) CriticalParams() []string { return f.critical }
func (f *fakeFactory) ProxyWhitelist() []string { return nil }
func (f *fakeFactory) GetCNCServers(ctx context.Context, config, state map[string]any) ([]types.C2Server, error) {
	return f.servers, f.cncErr
}
func (f *fakeFactory) New(input types.ModuleInput) registry.Instance { return f.inst }

func newLogger() *log.Logger { return log.NewLogger(log.Context{Family: "demofam"}) }

func TestExecuteUnknownFamilyCrashes(t *testing.T) {
	reg := registry.New()
	out, err := executor.Execute(context.Background(), reg, newLogger(), executor.Input{Family: "nope"})
	require.NoError(t, err)
	assert.Equal(t, executor.StatusCrashed, out.Status)
}

func TestExecuteMissingCriticalParamsArchives(t *testing.T) {
	reg := registry.New()
	reg.Register(&fakeFactory{family: "demofam", critical: []string{"c2"}})
	out, err := executor.Execute(context.Background(), reg, newLogger(), executor.Input{
		Family: "demofam", Config: map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, executor.StatusArchived, out.Status)
}

func TestExecuteWorkingWhenAnyResultWorks(t *testing.T) {
	inst := &fakeInstance{root: resulttree.NewRoot(), state: map[string]any{"k": "v"}, results: []types.BotResult{types.ResultWorking}}
	reg := registry.New()
	reg.Register(&fakeFactory{
		family: "demofam", critical: []string{"c2"},
		servers: []types.C2Server{{Address: "1.2.3.4"}}, inst: inst,
	})
	out, err := executor.Execute(context.Background(), reg, newLogger(), executor.Input{
		Family: "demofam", Config: map[string]any{"c2": "1.2.3.4"},
	})
	require.NoError(t, err)
	assert.Equal(t, executor.StatusWorking, out.Status)
	assert.Equal(t, map[string]any{"k": "v"}, out.State)
}

func TestExecuteArchiveDominatesWorking(t *testing.T) {
	inst := &fakeInstance{root: resulttree.NewRoot(), results: []types.BotResult{types.ResultWorking | types.ResultArchive}}
	reg := registry.New()
	reg.Register(&fakeFactory{
		family: "demofam", critical: nil,
		servers: []types.C2Server{{Address: "x"}}, inst: inst,
	})
	out, _ := executor.Execute(context.Background(), reg, newLogger(), executor.Input{Family: "demofam", Config: map[string]any{}})
	assert.Equal(t, executor.StatusArchived, out.Status)
}

func TestExecuteNoWorkingResultsFails(t *testing.T) {
	inst := &fakeInstance{root: resulttree.NewRoot(), results: []types.BotResult{types.ResultEmpty}}
	reg := registry.New()
	reg.Register(&fakeFactory{
		family: "demofam", servers: []types.C2Server{{Address: "x"}}, inst: inst,
	})
	out, _ := executor.Execute(context.Background(), reg, newLogger(), executor.Input{Family: "demofam", Config: map[string]any{}})
	assert.Equal(t, executor.StatusFailing, out.Status)
}

func TestExecuteContinuesAcrossC2sUntilContinueUnset(t *testing.T) {
	inst := &fakeInstance{
		root:    resulttree.NewRoot(),
		results: []types.BotResult{types.ResultContinue, types.ResultWorking},
	}
	reg := registry.New()
	reg.Register(&fakeFactory{
		family:  "demofam",
		servers: []types.C2Server{{Address: "a"}, {Address: "b"}, {Address: "c"}},
		inst:    inst,
	})
	out, _ := executor.Execute(context.Background(), reg, newLogger(), executor.Input{Family: "demofam", Config: map[string]any{}})
	assert.Equal(t, 2, inst.calls, "must stop after the second server since it did not set CONTINUE")
	assert.Equal(t, executor.StatusWorking, out.Status)
}

func TestExecuteRunPanicIsTreatedAsEmptyResult(t *testing.T) {
	inst := &fakeInstance{root: resulttree.NewRoot(), panics: []bool{true}, results: []types.BotResult{}}
	reg := registry.New()
	reg.Register(&fakeFactory{family: "demofam", servers: []types.C2Server{{Address: "a"}}, inst: inst})
	out, err := executor.Execute(context.Background(), reg, newLogger(), executor.Input{Family: "demofam", Config: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, executor.StatusFailing, out.Status)
}

func TestExecuteGetCNCServersErrorFails(t *testing.T) {
	reg := registry.New()
	reg.Register(&fakeFactory{family: "demofam", cncErr: errors.New("dns failure")})
	out, err := executor.Execute(context.Background(), reg, newLogger(), executor.Input{Family: "demofam", Config: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, executor.StatusFailing, out.Status)
}
