package ingest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveguard/mtracker/ingest"
	"github.com/hiveguard/mtracker/log"
	"github.com/hiveguard/mtracker/registry"
	"github.com/hiveguard/mtracker/resulttree"
	"github.com/hiveguard/mtracker/store"
	"github.com/hiveguard/mtracker/types"
)

type stubInstance struct{}

func (stubInstance) Run(ctx context.Context, c2 types.C2Server) (types.BotResult, error) {
	return types.ResultWorking, nil
}
func (stubInstance) Results() *resulttree.Node { return resulttree.NewRoot() }
func (stubInstance) State() map[string]any     { return nil }

type stubFactory struct {
	family    string
	whitelist []string
}

func (f *stubFactory) Family() string           { return f.family }
func (f *stubFactory) CriticalParams() []string { return nil }
func (f *stubFactory) ProxyWhitelist() []string { return f.whitelist }
func (f *stubFactory) GetCNCServers(ctx context.Context, config, state map[string]any) ([]types.C2Server, error) {
	return nil, nil
}
func (f *stubFactory) New(input types.ModuleInput) registry.Instance { return stubInstance{} }

func newLogger() *log.Logger { return log.NewLogger(log.Context{}) }

func TestTrackCreatesTrackerAndOneBotPerProxyCountry(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	_, err := s.InsertProxy(ctx, types.Proxy{Host: "p1", Port: 1, Country: "pl"})
	require.NoError(t, err)
	_, err = s.InsertProxy(ctx, types.Proxy{Host: "p2", Port: 2, Country: "us"})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(&stubFactory{family: "demofam"})

	ing := ingest.New(s, reg, newLogger())
	result, err := ing.Track(ctx, "demofam", map[string]any{"type": "demofam"})
	require.NoError(t, err)
	assert.True(t, result.NewTracker)
	assert.Len(t, result.BotIDs, 2)
}

func TestTrackReusesExistingTrackerAndSkipsTrackedCountries(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	_, err := s.InsertProxy(ctx, types.Proxy{Host: "p1", Port: 1, Country: "pl"})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(&stubFactory{family: "demofam"})
	ing := ingest.New(s, reg, newLogger())

	first, err := ing.Track(ctx, "demofam", map[string]any{"type": "demofam"})
	require.NoError(t, err)
	assert.True(t, first.NewTracker)

	_, err = s.InsertProxy(ctx, types.Proxy{Host: "p2", Port: 2, Country: "us"})
	require.NoError(t, err)

	second, err := ing.Track(ctx, "demofam", map[string]any{"type": "demofam"})
	require.NoError(t, err)
	assert.False(t, second.NewTracker)
	assert.Equal(t, first.TrackerID, second.TrackerID)
	assert.Len(t, second.BotIDs, 2, "existing pl bot plus one new us bot")
}

func TestTrackSkipsCountriesNotInModuleWhitelist(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	_, err := s.InsertProxy(ctx, types.Proxy{Host: "p1", Port: 1, Country: "pl"})
	require.NoError(t, err)
	_, err = s.InsertProxy(ctx, types.Proxy{Host: "p2", Port: 2, Country: "us"})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(&stubFactory{family: "demofam", whitelist: []string{"pl"}})
	ing := ingest.New(s, reg, newLogger())

	result, err := ing.Track(ctx, "demofam", map[string]any{"type": "demofam"})
	require.NoError(t, err)
	require.Len(t, result.BotIDs, 1)
}

func TestTrackRejectsEmptyProxyPool(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	reg := registry.New()
	reg.Register(&stubFactory{family: "demofam"})
	ing := ingest.New(s, reg, newLogger())

	_, err := ing.Track(ctx, "demofam", map[string]any{"type": "demofam"})
	require.ErrorIs(t, err, ingest.ErrNoProxies)
}

func TestTrackUnsupportedFamilyErrors(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	reg := registry.New()
	ing := ingest.New(s, reg, newLogger())

	_, err := ing.Track(ctx, "nope", map[string]any{})
	require.ErrorIs(t, err, ingest.ErrUnsupportedFamily)
}
