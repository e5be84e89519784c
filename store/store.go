// Package store is the Persistence Layer (component D): the relational
// schema and transactional operations the scheduler, executor, reporter,
// failure handler, and ingest path all read and write through.
//
// Grounded on model.py's Tracker/Bot/Task/Result/Proxy classes: the
// Store interface specifies the same operations at the same transaction
// boundaries (one call = one unit of work), so a caller never needs to
// thread a transaction handle across package boundaries.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hiveguard/mtracker/types"
)

// ErrNotFound is returned when a lookup by ID or hash finds nothing.
var ErrNotFound = errors.New("not found")

// ErrTrackerMissing is a database-invariant violation: a bot referencing
// a tracker_id with no matching row. This propagates as a
// plain error with no silent recovery.
var ErrTrackerMissing = errors.New("bot references a tracker that does not exist")

// Store is the full persistence contract. Every method is its own
// transaction unless documented otherwise.
type Store interface {
	// --- Tracker ---

	GetTrackerByHash(ctx context.Context, configHash string) (*types.Tracker, error)
	GetTrackerByID(ctx context.Context, trackerID int64) (*types.Tracker, error)
	CreateTracker(ctx context.Context, configHash string, config map[string]any, family string) (int64, error)
	ListTrackers(ctx context.Context, family string, status *types.Status, limit, offset int) ([]types.Tracker, error)
	CountTrackers(ctx context.Context, status *types.Status) (int64, error)

	// CreateTrackerWithBots creates a new tracker row plus one bot per
	// country in countries, all as a single unit of work — track_config's
	// "new tracker" branch must never commit a tracker with no initial
	// bots, nor bots against a tracker row that a concurrent caller's
	// rollback then erased.
	CreateTrackerWithBots(ctx context.Context, configHash string, config map[string]any, family string, countries []string) (trackerID int64, botIDs []int64, err error)

	// RecomputeTrackerStatuses sets each tracker's status to the minimum
	// status of its bots (I1), matching Tracker.update_statuses's
	// MIN-aggregation SQL.
	RecomputeTrackerStatuses(ctx context.Context, trackerIDs []int64) error

	// --- Bot ---

	GetBotByID(ctx context.Context, botID int64) (*types.Bot, error)
	CreateBot(ctx context.Context, trackerID int64, country, family string) (int64, error)

	// CreateBotsForTracker creates one bot per country in countries
	// against an already-existing trackerID as a single unit of work,
	// recomputing the tracker's status once after every bot lands —
	// track_config's fan-out over an existing tracker's uncovered
	// countries must not leave a tracker mid-recompute if it fails
	// partway through a multi-country fan-out.
	CreateBotsForTracker(ctx context.Context, trackerID int64, family string, countries []string) ([]int64, error)

	ListBotCountriesForTracker(ctx context.Context, trackerID int64) ([]string, error)
	ListBotsForTracker(ctx context.Context, trackerID int64) ([]types.Bot, error)

	// FetchPendingBots returns bots due for scheduling: next_execution <=
	// before (or unset) and status in {WORKING, FAILING, NEW}, ordered by
	// next_execution ascending — the exact predicate and ordering of
	// Bot.fetch_pending.
	FetchPendingBots(ctx context.Context, before time.Time) ([]types.Bot, error)

	// SetBotStatuses bulk-assigns status to botIDs, then recomputes the
	// status of every tracker any of those bots belongs to (Bot.set_statuses).
	SetBotStatuses(ctx context.Context, botIDs []int64, status types.Status) error

	// UpdateBotAfterRun dispatches on status (WORKING/FAILING/ARCHIVED/
	// CRASHED) per Bot.update_after_run, then unconditionally updates
	// state (when non-nil) and next_execution, then recomputes the owning
	// tracker's status.
	UpdateBotAfterRun(ctx context.Context, botID int64, state map[string]any, status types.Status, nextExecution *time.Time, lastError string) error

	// SetBotCrashed marks a bot CRASHED with reason, used only by the
	// failure handler (Bot.set_crashed).
	SetBotCrashed(ctx context.Context, botID int64, reason string) error

	// ClearFailingSprees resets failing_spree to 0 for botIDs.
	ClearFailingSprees(ctx context.Context, botIDs []int64) error

	// ReviveBots clears each bot's failing spree and sets it to WORKING —
	// an operator affordance from model.py's Bot.revive.
	ReviveBots(ctx context.Context, botIDs []int64) error

	CountBotsByStatus(ctx context.Context, family string) (types.StatusCounts, error)

	// --- Task ---

	CreateTask(ctx context.Context, botID int64, status types.Status) (int64, error)

	// CreateTaskInProgress creates a task row for botID with status
	// IN_PROGRESS and flips the bot itself to IN_PROGRESS (recomputing
	// the owning tracker's status) as a single unit of work —
	// run_bot_task's task-creation-and-status-flip run on one
	// connection, so a second scheduler process can never observe the
	// bot as still due and create a second task for it before this
	// commits.
	CreateTaskInProgress(ctx context.Context, botID int64) (int64, error)

	UpdateTaskAfterRun(ctx context.Context, taskID int64, status types.Status) error
	GetTaskView(ctx context.Context, taskID int64) (*types.TaskView, error)
	ListTaskViewsForBot(ctx context.Context, botID int64, limit, offset int) ([]types.TaskView, error)
	CountTasksByStatus(ctx context.Context) (types.StatusCounts, error)

	// --- Result ---

	CreateResult(ctx context.Context, taskID int64, resultType, name, sha256 string, tags []string) (int64, error)
	ListResultsForTask(ctx context.Context, taskID int64) ([]types.ResultRecord, error)

	// --- Proxy ---

	ListProxies(ctx context.Context) ([]types.Proxy, error)
	InsertProxy(ctx context.Context, p types.Proxy) (int64, error)
	DeleteProxy(ctx context.Context, host string, port int, country string) error

	Close() error
}
