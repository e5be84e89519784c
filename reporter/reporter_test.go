package reporter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveguard/mtracker/artifactstore"
	"github.com/hiveguard/mtracker/broker"
	"github.com/hiveguard/mtracker/log"
	"github.com/hiveguard/mtracker/reporter"
	"github.com/hiveguard/mtracker/resulttree"
	"github.com/hiveguard/mtracker/store"
	"github.com/hiveguard/mtracker/types"
)

func newLogger() *log.Logger { return log.NewLogger(log.Context{}) }

func newFakeArtifactStore(t *testing.T) (*artifactstore.Client, func()) {
	t.Helper()
	counter := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter++
		_, _ = w.Write([]byte(`{"sha256":"hash` + string(rune('0'+counter)) + `","id":1}`))
	}))
	return artifactstore.New(srv.URL, ""), srv.Close
}

func setup(t *testing.T) (store.Store, int64, int64) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	trackerID, err := s.CreateTracker(ctx, "hash1", map[string]any{}, "demofam")
	require.NoError(t, err)
	botID, err := s.CreateBot(ctx, trackerID, "pl", "demofam")
	require.NoError(t, err)
	taskID, err := s.CreateTask(ctx, botID, types.StatusInProgress)
	require.NoError(t, err)
	return s, botID, taskID
}

func TestReportWorkingUploadsConfigAndPersistsResult(t *testing.T) {
	ctx := context.Background()
	s, botID, taskID := setup(t)
	client, closeFn := newFakeArtifactStore(t)
	defer closeFn()

	r := reporter.New(s, client, newLogger(), time.Minute)

	tree := resulttree.NewRoot()
	tree.PushConfig(map[string]any{"type": "demofam"}, "cnc", []string{"t1"}, nil, nil)

	err := r.Report(ctx, taskID, botID, "hash1", &reporter.Outcome{
		Status: types.StatusWorking, DynamicConfig: tree.ToMapRecursive(), SavedState: map[string]any{"seen": true},
	})
	require.NoError(t, err)

	view, err := s.GetTaskView(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWorking, view.Status)
	assert.Equal(t, 1, view.ResultCount)

	bot, err := s.GetBotByID(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWorking, bot.Status)
	assert.Equal(t, true, bot.State["seen"])
}

func TestReportFailingSkipsUploadButStillFinalizes(t *testing.T) {
	ctx := context.Background()
	s, botID, taskID := setup(t)
	client, closeFn := newFakeArtifactStore(t)
	defer closeFn()

	r := reporter.New(s, client, newLogger(), time.Minute)
	err := r.Report(ctx, taskID, botID, "hash1", &reporter.Outcome{Status: types.StatusFailing})
	require.NoError(t, err)

	view, err := s.GetTaskView(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailing, view.Status)
	assert.Equal(t, 0, view.ResultCount)

	bot, err := s.GetBotByID(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailing, bot.Status)
}

func TestReportNilOutcomeStillReachesTerminalStatus(t *testing.T) {
	ctx := context.Background()
	s, botID, taskID := setup(t)
	client, closeFn := newFakeArtifactStore(t)
	defer closeFn()

	r := reporter.New(s, client, newLogger(), time.Minute)
	err := r.Report(ctx, taskID, botID, "hash1", nil)
	require.NoError(t, err)

	view, err := s.GetTaskView(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCrashed, view.Status, "an empty execute result must still resolve to a terminal status")

	bot, err := s.GetBotByID(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCrashed, bot.Status)
}

func TestReportNestedTreeUploadsChildrenWithParentHash(t *testing.T) {
	ctx := context.Background()
	s, botID, taskID := setup(t)
	client, closeFn := newFakeArtifactStore(t)
	defer closeFn()

	r := reporter.New(s, client, newLogger(), time.Minute)

	tree := resulttree.NewRoot()
	cfg := tree.PushConfig(map[string]any{"type": "demofam"}, "cnc", nil, nil, nil)
	cfg.PushBinary([]byte("payload"), "dropper.exe", nil, nil, nil)

	err := r.Report(ctx, taskID, botID, "hash1", &reporter.Outcome{Status: types.StatusArchived, DynamicConfig: tree.ToMapRecursive()})
	require.NoError(t, err)

	results, err := s.ListResultsForTask(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

// TestReportAfterBrokerRoundTripUploadsNestedChildren guards against the
// broker's msgpack encoding reshaping the tree. Unlike the tests above,
// which hand uploadTree the in-process []map[string]any straight out of
// ToMapRecursive, this one sends the tree through CompleteExecute and
// reads it back via GetExecuteResult first, the same path worker.go's
// drainOneReport takes — msgpack decodes nested slices as []interface{}
// and nested maps as map[string]interface{}, not []map[string]any, so a
// tree that only survives the in-process shape would upload the root and
// silently stop.
func TestReportAfterBrokerRoundTripUploadsNestedChildren(t *testing.T) {
	ctx := context.Background()
	s, botID, taskID := setup(t)
	client, closeFn := newFakeArtifactStore(t)
	defer closeFn()

	mr := miniredis.RunT(t)
	b := broker.NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))

	tree := resulttree.NewRoot()
	cfg := tree.PushConfig(map[string]any{"type": "demofam"}, "cnc", []string{"t1"}, nil, nil)
	cfg.PushBinary([]byte("payload"), "dropper.exe", nil, nil, nil)

	require.NoError(t, b.CompleteExecute(ctx, "exec-job-1", broker.ExecuteResult{
		Status:        int(types.StatusArchived),
		DynamicConfig: tree.ToMapRecursive(),
		SavedState:    map[string]any{"seen": true},
	}))

	result, err := b.GetExecuteResult(ctx, "exec-job-1")
	require.NoError(t, err)
	require.NotNil(t, result)

	r := reporter.New(s, client, newLogger(), time.Minute)
	err = r.Report(ctx, taskID, botID, "hash1", &reporter.Outcome{
		Status:        types.Status(result.Status),
		DynamicConfig: result.DynamicConfig,
		SavedState:    result.SavedState,
	})
	require.NoError(t, err)

	results, err := s.ListResultsForTask(ctx, taskID)
	require.NoError(t, err)
	require.Len(t, results, 2, "both the config and its nested binary child must survive the broker round trip")

	bot, err := s.GetBotByID(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, true, bot.State["seen"])
}
