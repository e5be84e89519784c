package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveguard/mtracker/store"
	"github.com/hiveguard/mtracker/types"
)

func timeInFarFuture() time.Time {
	return time.Now().UTC().Add(24 * time.Hour)
}

func TestTrackerStatusIsMinOfBotStatuses(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)

	trackerID, err := s.CreateTracker(ctx, "hash1", map[string]any{}, "demofam")
	require.NoError(t, err)

	bot1, err := s.CreateBot(ctx, trackerID, "PL", "demofam")
	require.NoError(t, err)
	bot2, err := s.CreateBot(ctx, trackerID, "US", "demofam")
	require.NoError(t, err)

	require.NoError(t, s.SetBotStatuses(ctx, []int64{bot1}, types.StatusWorking))
	require.NoError(t, s.SetBotStatuses(ctx, []int64{bot2}, types.StatusCrashed))

	tracker, err := s.GetTrackerByID(ctx, trackerID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCrashed, tracker.Status, "tracker status must be the min of its bots")
}

func TestFailingSpreeEscalatesToArchivedOverThreshold(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(2)

	trackerID, err := s.CreateTracker(ctx, "hash2", map[string]any{}, "demofam")
	require.NoError(t, err)
	botID, err := s.CreateBot(ctx, trackerID, "PL", "demofam")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.UpdateBotAfterRun(ctx, botID, nil, types.StatusFailing, nil, "timeout"))
	}
	bot, err := s.GetBotByID(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailing, bot.Status)
	assert.Equal(t, 2, bot.FailingSpree)

	// third failure: spree becomes 3 > max(2) -> archived
	require.NoError(t, s.UpdateBotAfterRun(ctx, botID, nil, types.StatusFailing, nil, "timeout"))
	bot, err = s.GetBotByID(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusArchived, bot.Status)
}

func TestWorkingResetsFailingSpree(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	trackerID, _ := s.CreateTracker(ctx, "hash3", map[string]any{}, "demofam")
	botID, _ := s.CreateBot(ctx, trackerID, "PL", "demofam")

	require.NoError(t, s.UpdateBotAfterRun(ctx, botID, nil, types.StatusFailing, nil, "x"))
	require.NoError(t, s.UpdateBotAfterRun(ctx, botID, nil, types.StatusWorking, nil, ""))

	bot, err := s.GetBotByID(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, 0, bot.FailingSpree)
	assert.Equal(t, types.StatusWorking, bot.Status)
}

func TestCrashedLeavesFailingSpreeUntouched(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	trackerID, _ := s.CreateTracker(ctx, "hash4", map[string]any{}, "demofam")
	botID, _ := s.CreateBot(ctx, trackerID, "PL", "demofam")

	require.NoError(t, s.UpdateBotAfterRun(ctx, botID, nil, types.StatusFailing, nil, "x"))
	require.NoError(t, s.SetBotCrashed(ctx, botID, "panic"))

	bot, err := s.GetBotByID(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, 1, bot.FailingSpree, "crash must not touch the failing spree")
	assert.Equal(t, types.StatusCrashed, bot.Status)
}

func TestFetchPendingBotsFiltersByStatusAndDueTime(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	trackerID, _ := s.CreateTracker(ctx, "hash5", map[string]any{}, "demofam")
	botID, _ := s.CreateBot(ctx, trackerID, "PL", "demofam")

	pending, err := s.FetchPendingBots(ctx, timeInFarFuture())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, botID, pending[0].BotID)

	require.NoError(t, s.SetBotStatuses(ctx, []int64{botID}, types.StatusArchived))
	pending, err = s.FetchPendingBots(ctx, timeInFarFuture())
	require.NoError(t, err)
	assert.Empty(t, pending, "archived bots are never pending")
}

func TestCreateTaskInProgressFlipsBotInOneCall(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)

	trackerID, err := s.CreateTracker(ctx, "hash-tip", map[string]any{}, "demofam")
	require.NoError(t, err)
	botID, err := s.CreateBot(ctx, trackerID, "pl", "demofam")
	require.NoError(t, err)

	taskID, err := s.CreateTaskInProgress(ctx, botID)
	require.NoError(t, err)
	assert.NotZero(t, taskID)

	bot, err := s.GetBotByID(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, bot.Status)

	view, err := s.GetTaskView(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, view.Status)
}

func TestCreateTrackerWithBotsCreatesOneBotPerCountry(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)

	trackerID, botIDs, err := s.CreateTrackerWithBots(ctx, "hash-ctwb", map[string]any{}, "demofam", []string{"pl", "us"})
	require.NoError(t, err)
	require.Len(t, botIDs, 2)

	bots, err := s.ListBotsForTracker(ctx, trackerID)
	require.NoError(t, err)
	assert.Len(t, bots, 2)
}

func TestCreateBotsForTrackerRejectsUnknownTracker(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	_, err := s.CreateBotsForTracker(ctx, 999, "demofam", []string{"pl"})
	assert.ErrorIs(t, err, store.ErrTrackerMissing)
}

func TestCreateBotRequiresExistingTracker(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	_, err := s.CreateBot(ctx, 999, "PL", "demofam")
	require.ErrorIs(t, err, store.ErrTrackerMissing)
}
