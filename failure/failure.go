// Package failure is the Failure Handler (component H): captures an
// executor crash, appends the trace to the task's log file, and marks
// both bot and task CRASHED.
//
// Grounded on error_handler.py's report_crashed: the log write happens
// before the database update, and a CRASHED task/bot carries a
// last_error string but does not touch the failing spree (only FAILING
// does — see store.UpdateBotAfterRun).
package failure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hiveguard/mtracker/log"
	"github.com/hiveguard/mtracker/store"
	"github.com/hiveguard/mtracker/types"
)

// Handler writes crash logs and records a crash against a task/bot pair.
type Handler struct {
	store  store.Store
	logger *log.Logger
	logDir string
}

// New builds a Handler. logDir is created lazily on first write.
func New(s store.Store, logger *log.Logger, logDir string) *Handler {
	return &Handler{store: s, logger: logger, logDir: logDir}
}

// ReportCrashed appends trace to the task's per-task log file and marks
// the bot and task CRASHED with a one-line reason derived from trace.
func (h *Handler) ReportCrashed(ctx context.Context, taskID, botID int64, trace string) error {
	if err := h.appendLog(taskID, trace); err != nil {
		// A log write failure must not prevent the status update —
		// losing the human-readable trace is recoverable, an
		// indefinitely INPROGRESS bot is not.
		h.logger.Error("failed to write crash log", map[string]any{"task_id": taskID, "error": err.Error()})
	}

	reason := firstLine(trace)
	if err := h.store.SetBotCrashed(ctx, botID, reason); err != nil {
		return fmt.Errorf("failure: set bot crashed: %w", err)
	}
	if err := h.store.UpdateTaskAfterRun(ctx, taskID, types.StatusCrashed); err != nil {
		return fmt.Errorf("failure: set task crashed: %w", err)
	}
	h.logger.Error("task crashed", map[string]any{"task_id": taskID, "bot_id": botID, "reason": reason})
	return nil
}

func (h *Handler) appendLog(taskID int64, trace string) error {
	if err := os.MkdirAll(h.logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(h.logDir, fmt.Sprintf("%d.log", taskID))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	timestamp := time.Now().UTC().Format(time.RFC3339)
	if _, err := fmt.Fprintf(f, "[%s] %s\n", timestamp, trace); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func firstLine(trace string) string {
	for i, r := range trace {
		if r == '\n' {
			return trace[:i]
		}
	}
	return trace
}
