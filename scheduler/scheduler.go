// Package scheduler is the Scheduler (component E's scheduling half): a
// periodic loop that turns due bots into enqueued execute+report job
// pairs.
//
// Grounded on scheduler.py's run_tasks/run_bot_task: one transaction per
// bot (task creation + bot status flip happen together via the store's
// CreateTaskInProgress), proxy selection uniformly at random per
// country, and the no-proxy fallback that fails the bot forward 24h
// rather than leaving it stuck.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hiveguard/mtracker/broker"
	"github.com/hiveguard/mtracker/dhash"
	"github.com/hiveguard/mtracker/log"
	"github.com/hiveguard/mtracker/metrics"
	"github.com/hiveguard/mtracker/proxy"
	"github.com/hiveguard/mtracker/store"
	"github.com/hiveguard/mtracker/types"
)

// Config parameterizes the periodic loop and the jobs it enqueues.
type Config struct {
	// Period is how often Tick's caller should be invoked (the loop
	// itself lives in Run; Tick is exposed standalone for tests).
	Period time.Duration
	// TaskTimeout is the execute job's declared timeout, handed to the
	// broker as metadata for operators; the broker itself does not
	// enforce it (the executor's own context deadline does).
	TaskTimeout time.Duration
	// NoProxyBackoff is how far next_execution is pushed out when a
	// bot's country has no matching proxy (default 24h).
	NoProxyBackoff time.Duration
}

// DefaultConfig matches scheduler.py's defaults.
func DefaultConfig() Config {
	return Config{
		Period:         60 * time.Second,
		TaskTimeout:    15 * time.Minute,
		NoProxyBackoff: 24 * time.Hour,
	}
}

// Scheduler ties the store, proxy pool, and broker together.
type Scheduler struct {
	store   store.Store
	broker  *broker.Broker
	logger  *log.Logger
	cfg     Config
	metrics *metrics.Collector
}

func New(s store.Store, b *broker.Broker, logger *log.Logger, cfg Config) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultConfig().Period
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if cfg.NoProxyBackoff <= 0 {
		cfg.NoProxyBackoff = DefaultConfig().NoProxyBackoff
	}
	return &Scheduler{store: s, broker: b, logger: logger, cfg: cfg, metrics: metrics.NewCollector("scheduler")}
}

// WithMetrics swaps in a caller-supplied collector, e.g. one shared with
// the worker process's reporter for a single status snapshot.
func (s *Scheduler) WithMetrics(c *metrics.Collector) *Scheduler {
	s.metrics = c
	return s
}

// Metrics returns this scheduler's counters.
func (s *Scheduler) Metrics() metrics.Snapshot { return s.metrics.Snapshot() }

// Run blocks, ticking every cfg.Period until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx, time.Now().UTC()); err != nil {
			s.logger.Error("scheduler tick failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick fetches every bot due at or before now and schedules each in turn.
// A single bot's failure does not abort the tick; it is logged and the
// loop continues to the next bot, matching run_tasks iterating its
// fetch_pending result unconditionally.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	pending, err := s.store.FetchPendingBots(ctx, now)
	if err != nil {
		return fmt.Errorf("scheduler: fetch pending bots: %w", err)
	}

	for _, bot := range pending {
		if err := s.runBotTask(ctx, bot, now); err != nil {
			s.logger.Error("run_bot_task failed", map[string]any{
				"bot_id": bot.BotID, "error": err.Error(),
			})
		}
	}
	return nil
}

// runBotTask implements scheduler.py's run_bot_task for a single bot
// already in hand (the caller fetched it via FetchPendingBots).
func (s *Scheduler) runBotTask(ctx context.Context, bot types.Bot, now time.Time) error {
	tracker, err := s.store.GetTrackerByID(ctx, bot.TrackerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("scheduler: %w", store.ErrTrackerMissing)
		}
		return fmt.Errorf("scheduler: load tracker: %w", err)
	}

	proxies, err := s.store.ListProxies(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list proxies: %w", err)
	}
	pool := proxy.NewPool(proxies)

	selected, err := pool.PickRandom(bot.Country)
	if err != nil {
		if errors.Is(err, proxy.ErrNoProxyForCountry) {
			return s.failNoProxy(ctx, bot, now)
		}
		return fmt.Errorf("scheduler: pick proxy: %w", err)
	}

	config := stampedConfig(tracker.Config, tracker.ConfigHash)

	// CreateTaskInProgress creates the task and flips the bot to
	// IN_PROGRESS as a single unit of work, so a second scheduler
	// process can never observe this bot as still due in the window
	// between the two.
	taskID, err := s.store.CreateTaskInProgress(ctx, bot.BotID)
	if err != nil {
		return fmt.Errorf("scheduler: create task: %w", err)
	}

	execJobID, err := s.broker.EnqueueExecute(ctx, broker.ExecutePayload{
		StaticConfig: config,
		SavedState:   bot.State,
		Proxy:        selected.ConnectionString(),
		BotID:        bot.BotID,
		TaskID:       taskID,
		Family:       bot.Family,
		Timeout:      s.cfg.TaskTimeout,
	})
	if err != nil {
		return fmt.Errorf("scheduler: enqueue execute job: %w", err)
	}

	if _, err := s.broker.EnqueueReportAfter(ctx, execJobID, broker.ReportPayload{
		BotID:      bot.BotID,
		TaskID:     taskID,
		ConfigHash: tracker.ConfigHash,
	}); err != nil {
		return fmt.Errorf("scheduler: enqueue report job: %w", err)
	}

	s.metrics.IncTaskScheduled()
	s.logger.Info("scheduled task", map[string]any{
		"bot_id": bot.BotID, "task_id": taskID, "family": bot.Family, "country": bot.Country,
	})
	return nil
}

func (s *Scheduler) failNoProxy(ctx context.Context, bot types.Bot, now time.Time) error {
	next := now.Add(s.cfg.NoProxyBackoff)
	if err := s.store.UpdateBotAfterRun(ctx, bot.BotID, nil, types.StatusFailing, &next, "No matching proxy found"); err != nil {
		return fmt.Errorf("scheduler: fail bot for no proxy: %w", err)
	}
	s.metrics.IncNoProxyForCountry()
	s.logger.Warn("no proxy for country", map[string]any{"bot_id": bot.BotID, "country": bot.Country})
	return nil
}

// stampedConfig returns a shallow copy of config with "_id" set to
// configHash, matching scheduler.py's mutation before enqueue — a
// documented pass-through convenience field modules may ignore freely.
func stampedConfig(config map[string]any, configHash string) map[string]any {
	stamped := make(map[string]any, len(config)+1)
	for k, v := range config {
		stamped[k] = v
	}
	stamped["_id"] = configHash
	return stamped
}

// ConfigHash exposes dhash.Hash from the scheduler package, so a caller
// that already imports scheduler can hash a static config without
// importing dhash.
func ConfigHash(config map[string]any) string { return dhash.Hash(config) }
