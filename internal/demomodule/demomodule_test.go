package demomodule_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveguard/mtracker/internal/demomodule"
	"github.com/hiveguard/mtracker/registry"
	"github.com/hiveguard/mtracker/types"
)

func TestFactoryContract(t *testing.T) {
	var f registry.Factory = demomodule.Factory{}
	assert.Equal(t, "demofam", f.Family())
	assert.Equal(t, []string{"c2_domain"}, f.CriticalParams())
	assert.Nil(t, f.ProxyWhitelist())
}

func TestGetCNCServersRequiresDomain(t *testing.T) {
	f := demomodule.Factory{}
	_, err := f.GetCNCServers(context.Background(), map[string]any{}, nil)
	assert.Error(t, err)

	servers, err := f.GetCNCServers(context.Background(), map[string]any{"c2_domain": "evil.example"}, nil)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "evil.example", servers[0].Address)
}

func TestRunPushesConfigOnceThenGoesQuiet(t *testing.T) {
	f := demomodule.Factory{}
	inst := f.New(types.ModuleInput{Config: map[string]any{"c2_domain": "evil.example"}})

	result, err := inst.Run(context.Background(), types.C2Server{Address: "evil.example"})
	require.NoError(t, err)
	assert.True(t, result.Has(types.ResultWorking))

	tree := inst.Results().ToMapRecursive()
	children, _ := tree["children"].([]map[string]any)
	require.Len(t, children, 1)
	assert.Equal(t, "config", children[0]["object"])

	state := inst.State()
	assert.Equal(t, true, state["seen"])

	result, err = inst.Run(context.Background(), types.C2Server{Address: "evil.example"})
	require.NoError(t, err)
	assert.Equal(t, types.ResultEmpty, result)
}

func TestNewCarriesPriorState(t *testing.T) {
	f := demomodule.Factory{}
	inst := f.New(types.ModuleInput{
		Config: map[string]any{"c2_domain": "evil.example"},
		State:  map[string]any{"seen": true},
	})

	result, err := inst.Run(context.Background(), types.C2Server{Address: "evil.example"})
	require.NoError(t, err)
	assert.Equal(t, types.ResultEmpty, result)
}
