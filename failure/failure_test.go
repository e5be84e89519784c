package failure_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveguard/mtracker/failure"
	"github.com/hiveguard/mtracker/log"
	"github.com/hiveguard/mtracker/store"
	"github.com/hiveguard/mtracker/types"
)

func newLogger() *log.Logger { return log.NewLogger(log.Context{}) }

func TestReportCrashedWritesLogAndMarksBotAndTaskCrashed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	trackerID, err := s.CreateTracker(ctx, "hash1", map[string]any{}, "demofam")
	require.NoError(t, err)
	botID, err := s.CreateBot(ctx, trackerID, "pl", "demofam")
	require.NoError(t, err)
	taskID, err := s.CreateTask(ctx, botID, types.StatusInProgress)
	require.NoError(t, err)

	dir := t.TempDir()
	h := failure.New(s, newLogger(), dir)

	require.NoError(t, h.ReportCrashed(ctx, taskID, botID, "RuntimeError: boom\nstack trace line"))

	bot, err := s.GetBotByID(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCrashed, bot.Status)
	assert.Equal(t, "RuntimeError: boom", bot.LastError)
	assert.Equal(t, 0, bot.FailingSpree, "crash must not touch the failing spree")

	view, err := s.GetTaskView(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCrashed, view.Status)

	data, err := os.ReadFile(filepath.Join(dir, "1.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "RuntimeError: boom")
}

func TestReportCrashedCreatesLogDirOnFirstUse(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(5)
	trackerID, _ := s.CreateTracker(ctx, "hash2", map[string]any{}, "demofam")
	botID, _ := s.CreateBot(ctx, trackerID, "pl", "demofam")
	taskID, _ := s.CreateTask(ctx, botID, types.StatusInProgress)

	dir := filepath.Join(t.TempDir(), "nested", "logs")
	h := failure.New(s, newLogger(), dir)
	require.NoError(t, h.ReportCrashed(ctx, taskID, botID, "boom"))

	_, err := os.Stat(dir)
	require.NoError(t, err)
}
