package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hiveguard/mtracker/types"
)

// PostgresStore is the Store implementation backed by database/sql and
// github.com/lib/pq. Schema ownership (migrations) is out of scope here;
// this type assumes trackers/bots/tasks/results/proxies tables already
// exist with the logical schema this package describes.
type PostgresStore struct {
	db              *sql.DB
	maxFailingSpree int
}

// Open connects to the Postgres database at dsn. maxFailingSpree is the
// mtracker.max_failing_spree config value: a bot's failing_spree crossing
// it promotes the bot to ARCHIVED instead of FAILING (I2).
func Open(dsn string, maxFailingSpree int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return &PostgresStore{db: db, maxFailingSpree: maxFailingSpree}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// --- Tracker ---

func (s *PostgresStore) GetTrackerByHash(ctx context.Context, configHash string) (*types.Tracker, error) {
	return s.scanTracker(s.db.QueryRowContext(ctx,
		`SELECT tracker_id, config_hash, config, family, status FROM trackers WHERE config_hash = $1`, configHash))
}

func (s *PostgresStore) GetTrackerByID(ctx context.Context, trackerID int64) (*types.Tracker, error) {
	return s.scanTracker(s.db.QueryRowContext(ctx,
		`SELECT tracker_id, config_hash, config, family, status FROM trackers WHERE tracker_id = $1`, trackerID))
}

func (s *PostgresStore) scanTracker(row *sql.Row) (*types.Tracker, error) {
	var t types.Tracker
	var configRaw []byte
	var statusStr string
	err := row.Scan(&t.TrackerID, &t.ConfigHash, &configRaw, &t.Family, &statusStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan tracker: %w", err)
	}
	if err := json.Unmarshal(configRaw, &t.Config); err != nil {
		return nil, fmt.Errorf("store: decode tracker config: %w", err)
	}
	t.Status, err = types.ParseStatus(statusStr)
	if err != nil {
		return nil, fmt.Errorf("store: decode tracker status: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) CreateTracker(ctx context.Context, configHash string, config map[string]any, family string) (int64, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return 0, fmt.Errorf("store: encode tracker config: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO trackers (config_hash, config, family, status) VALUES ($1, $2, $3, $4) RETURNING tracker_id`,
		configHash, raw, family, types.StatusNew.String(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: create tracker: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CreateTrackerWithBots(ctx context.Context, configHash string, config map[string]any, family string, countries []string) (int64, []int64, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return 0, nil, fmt.Errorf("store: encode tracker config: %w", err)
	}

	var trackerID int64
	var botIDs []int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO trackers (config_hash, config, family, status) VALUES ($1, $2, $3, $4) RETURNING tracker_id`,
			configHash, raw, family, types.StatusNew.String(),
		).Scan(&trackerID); err != nil {
			return fmt.Errorf("store: create tracker: %w", err)
		}

		ids, err := insertBotsInTx(ctx, tx, trackerID, family, countries)
		if err != nil {
			return err
		}
		botIDs = ids
		return recomputeInTx(ctx, tx, []int64{trackerID})
	})
	if err != nil {
		return 0, nil, err
	}
	return trackerID, botIDs, nil
}

func insertBotsInTx(ctx context.Context, tx *sql.Tx, trackerID int64, family string, countries []string) ([]int64, error) {
	now := time.Now().UTC()
	ids := make([]int64, 0, len(countries))
	for _, country := range countries {
		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO bots (tracker_id, country, family, status, state, failing_spree, next_execution)
			 VALUES ($1, $2, $3, $4, '{}', 0, $5) RETURNING bot_id`,
			trackerID, country, family, types.StatusNew.String(), now,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("store: create bot for %s: %w", country, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *PostgresStore) CreateBotsForTracker(ctx context.Context, trackerID int64, family string, countries []string) ([]int64, error) {
	if len(countries) == 0 {
		return nil, nil
	}
	var botIDs []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := insertBotsInTx(ctx, tx, trackerID, family, countries)
		if err != nil {
			return err
		}
		botIDs = ids
		return recomputeInTx(ctx, tx, []int64{trackerID})
	})
	if err != nil {
		return nil, err
	}
	return botIDs, nil
}

func (s *PostgresStore) ListTrackers(ctx context.Context, family string, status *types.Status, limit, offset int) ([]types.Tracker, error) {
	query := `SELECT tracker_id, config_hash, config, family, status FROM trackers WHERE ($1 = '' OR family = $1) AND ($2::text IS NULL OR status = $2) ORDER BY tracker_id DESC LIMIT $3 OFFSET $4`
	var statusArg any
	if status != nil {
		statusArg = status.String()
	}
	rows, err := s.db.QueryContext(ctx, query, family, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list trackers: %w", err)
	}
	defer rows.Close()

	var out []types.Tracker
	for rows.Next() {
		var t types.Tracker
		var raw []byte
		var statusStr string
		if err := rows.Scan(&t.TrackerID, &t.ConfigHash, &raw, &t.Family, &statusStr); err != nil {
			return nil, fmt.Errorf("store: scan tracker row: %w", err)
		}
		if err := json.Unmarshal(raw, &t.Config); err != nil {
			return nil, fmt.Errorf("store: decode tracker config: %w", err)
		}
		t.Status, _ = types.ParseStatus(statusStr)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountTrackers(ctx context.Context, status *types.Status) (int64, error) {
	var statusArg any
	if status != nil {
		statusArg = status.String()
	}
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM trackers WHERE ($1::text IS NULL OR status = $1)`, statusArg).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count trackers: %w", err)
	}
	return count, nil
}

// RecomputeTrackerStatuses mirrors Tracker.update_statuses's single
// MIN-aggregation UPDATE ... FROM statement.
func (s *PostgresStore) RecomputeTrackerStatuses(ctx context.Context, trackerIDs []int64) error {
	if len(trackerIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE trackers t_
		SET status = x.new_status
		FROM (
			SELECT t.tracker_id, MIN(b.status) AS new_status
			FROM trackers t
			LEFT JOIN bots b ON t.tracker_id = b.tracker_id
			GROUP BY t.tracker_id
			HAVING t.tracker_id = ANY($1)
		) x
		WHERE t_.tracker_id = x.tracker_id`, pq.Array(trackerIDs))
	if err != nil {
		return fmt.Errorf("store: recompute tracker statuses: %w", err)
	}
	return nil
}

// --- Bot ---

func (s *PostgresStore) GetBotByID(ctx context.Context, botID int64) (*types.Bot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bot_id, tracker_id, status, state, failing_spree, next_execution, country, last_error, family
		 FROM bots WHERE bot_id = $1`, botID)
	return s.scanBot(row)
}

func (s *PostgresStore) scanBot(row *sql.Row) (*types.Bot, error) {
	var b types.Bot
	var stateRaw []byte
	var statusStr string
	var nextExec sql.NullTime
	err := row.Scan(&b.BotID, &b.TrackerID, &statusStr, &stateRaw, &b.FailingSpree, &nextExec, &b.Country, &b.LastError, &b.Family)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan bot: %w", err)
	}
	if nextExec.Valid {
		b.NextExecution = &nextExec.Time
	}
	if len(stateRaw) > 0 {
		if err := json.Unmarshal(stateRaw, &b.State); err != nil {
			return nil, fmt.Errorf("store: decode bot state: %w", err)
		}
	}
	b.Status, err = types.ParseStatus(statusStr)
	if err != nil {
		return nil, fmt.Errorf("store: decode bot status: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) CreateBot(ctx context.Context, trackerID int64, country, family string) (int64, error) {
	var id int64
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO bots (tracker_id, country, family, status, state, failing_spree, next_execution)
		 VALUES ($1, $2, $3, $4, '{}', 0, $5) RETURNING bot_id`,
		trackerID, country, family, types.StatusNew.String(), now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: create bot: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListBotCountriesForTracker(ctx context.Context, trackerID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT country FROM bots WHERE tracker_id = $1`, trackerID)
	if err != nil {
		return nil, fmt.Errorf("store: list bot countries: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("store: scan bot country: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListBotsForTracker(ctx context.Context, trackerID int64) ([]types.Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bot_id, tracker_id, status, state, failing_spree, next_execution, country, last_error, family
		 FROM bots WHERE tracker_id = $1 ORDER BY bot_id`, trackerID)
	if err != nil {
		return nil, fmt.Errorf("store: list bots for tracker: %w", err)
	}
	defer rows.Close()
	return s.scanBotRows(rows)
}

// FetchPendingBots mirrors Bot.fetch_pending exactly: due for scheduling
// and currently in one of the schedulable statuses, earliest first.
func (s *PostgresStore) FetchPendingBots(ctx context.Context, before time.Time) ([]types.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bot_id, tracker_id, status, state, failing_spree, next_execution, country, last_error, family
		FROM bots
		WHERE (next_execution <= $1 OR next_execution IS NULL)
		  AND status IN ($2, $3, $4)
		ORDER BY next_execution ASC`,
		before, types.StatusWorking.String(), types.StatusFailing.String(), types.StatusNew.String())
	if err != nil {
		return nil, fmt.Errorf("store: fetch pending bots: %w", err)
	}
	defer rows.Close()
	return s.scanBotRows(rows)
}

func (s *PostgresStore) scanBotRows(rows *sql.Rows) ([]types.Bot, error) {
	var out []types.Bot
	for rows.Next() {
		var b types.Bot
		var stateRaw []byte
		var statusStr string
		var nextExec sql.NullTime
		if err := rows.Scan(&b.BotID, &b.TrackerID, &statusStr, &stateRaw, &b.FailingSpree, &nextExec, &b.Country, &b.LastError, &b.Family); err != nil {
			return nil, fmt.Errorf("store: scan bot row: %w", err)
		}
		if nextExec.Valid {
			b.NextExecution = &nextExec.Time
		}
		if len(stateRaw) > 0 {
			_ = json.Unmarshal(stateRaw, &b.State)
		}
		b.Status, _ = types.ParseStatus(statusStr)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetBotStatuses(ctx context.Context, botIDs []int64, status types.Status) error {
	if len(botIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE bots SET status = $1 WHERE bot_id = ANY($2)`, status.String(), pq.Array(botIDs)); err != nil {
			return fmt.Errorf("store: set bot statuses: %w", err)
		}
		trackerIDs, err := distinctTrackerIDs(ctx, tx, botIDs)
		if err != nil {
			return err
		}
		return recomputeInTx(ctx, tx, trackerIDs)
	})
}

func distinctTrackerIDs(ctx context.Context, tx *sql.Tx, botIDs []int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT tracker_id FROM bots WHERE bot_id = ANY($1)`, pq.Array(botIDs))
	if err != nil {
		return nil, fmt.Errorf("store: distinct tracker ids: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan tracker id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func recomputeInTx(ctx context.Context, tx *sql.Tx, trackerIDs []int64) error {
	if len(trackerIDs) == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE trackers t_
		SET status = x.new_status
		FROM (
			SELECT t.tracker_id, MIN(b.status) AS new_status
			FROM trackers t
			LEFT JOIN bots b ON t.tracker_id = b.tracker_id
			GROUP BY t.tracker_id
			HAVING t.tracker_id = ANY($1)
		) x
		WHERE t_.tracker_id = x.tracker_id`, pq.Array(trackerIDs))
	if err != nil {
		return fmt.Errorf("store: recompute tracker statuses: %w", err)
	}
	return nil
}

// UpdateBotAfterRun mirrors Bot.update_after_run's status dispatch
// followed by the unconditional state/next_execution update.
func (s *PostgresStore) UpdateBotAfterRun(ctx context.Context, botID int64, state map[string]any, status types.Status, nextExecution *time.Time, lastError string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var trackerID int64
		var err error
		switch status {
		case types.StatusWorking:
			trackerID, err = setWorked(ctx, tx, botID)
		case types.StatusFailing:
			reason := lastError
			if reason == "" {
				reason = "Failed to get config"
			}
			trackerID, err = setFailed(ctx, tx, botID, reason, s.maxFailingSpree)
		case types.StatusArchived:
			trackerID, err = setArchived(ctx, tx, botID)
		case types.StatusCrashed:
			// Already marked CRASHED by the failure handler; no-op here.
			return updateStateAndNextExecution(ctx, tx, botID, state, nextExecution)
		default:
			return fmt.Errorf("store: update bot after run: unexpected status %s", status)
		}
		if err != nil {
			return err
		}
		if err := updateStateAndNextExecution(ctx, tx, botID, state, nextExecution); err != nil {
			return err
		}
		return recomputeInTx(ctx, tx, []int64{trackerID})
	})
}

func updateStateAndNextExecution(ctx context.Context, tx *sql.Tx, botID int64, state map[string]any, nextExecution *time.Time) error {
	var stateArg any
	if state != nil {
		raw, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("store: encode bot state: %w", err)
		}
		stateArg = raw
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE bots SET state = COALESCE($1, state), next_execution = $2 WHERE bot_id = $3`,
		stateArg, nextExecution, botID)
	if err != nil {
		return fmt.Errorf("store: update bot state: %w", err)
	}
	return nil
}

func setWorked(ctx context.Context, tx *sql.Tx, botID int64) (int64, error) {
	var trackerID int64
	err := tx.QueryRowContext(ctx,
		`UPDATE bots SET status = $1, last_error = '', failing_spree = 0 WHERE bot_id = $2 RETURNING tracker_id`,
		types.StatusWorking.String(), botID).Scan(&trackerID)
	if err != nil {
		return 0, fmt.Errorf("store: set worked: %w", err)
	}
	return trackerID, nil
}

// setFailed mirrors model.py's Bot.set_failed: increment failing_spree,
// then promote to ARCHIVED when the new spree exceeds maxFailingSpree
// (I2), otherwise stay FAILING.
func setFailed(ctx context.Context, tx *sql.Tx, botID int64, reason string, maxFailingSpree int) (int64, error) {
	var spree int
	if err := tx.QueryRowContext(ctx, `SELECT failing_spree FROM bots WHERE bot_id = $1`, botID).Scan(&spree); err != nil {
		return 0, fmt.Errorf("store: read failing spree: %w", err)
	}
	spree++

	status := types.StatusFailing
	if spree > maxFailingSpree {
		status = types.StatusArchived
	}

	var trackerID int64
	err := tx.QueryRowContext(ctx,
		`UPDATE bots SET status = $1, last_error = $2, failing_spree = $3 WHERE bot_id = $4 RETURNING tracker_id`,
		status.String(), reason, spree, botID).Scan(&trackerID)
	if err != nil {
		return 0, fmt.Errorf("store: set failed: %w", err)
	}
	return trackerID, nil
}

func setArchived(ctx context.Context, tx *sql.Tx, botID int64) (int64, error) {
	var trackerID int64
	err := tx.QueryRowContext(ctx,
		`UPDATE bots SET status = $1, last_error = '', failing_spree = 0 WHERE bot_id = $2 RETURNING tracker_id`,
		types.StatusArchived.String(), botID).Scan(&trackerID)
	if err != nil {
		return 0, fmt.Errorf("store: set archived: %w", err)
	}
	return trackerID, nil
}

func (s *PostgresStore) SetBotCrashed(ctx context.Context, botID int64, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var trackerID int64
		err := tx.QueryRowContext(ctx,
			`UPDATE bots SET status = $1, last_error = $2 WHERE bot_id = $3 RETURNING tracker_id`,
			types.StatusCrashed.String(), reason, botID).Scan(&trackerID)
		if err != nil {
			return fmt.Errorf("store: set bot crashed: %w", err)
		}
		return recomputeInTx(ctx, tx, []int64{trackerID})
	})
}

func (s *PostgresStore) ClearFailingSprees(ctx context.Context, botIDs []int64) error {
	if len(botIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE bots SET failing_spree = 0 WHERE bot_id = ANY($1)`, pq.Array(botIDs))
	if err != nil {
		return fmt.Errorf("store: clear failing sprees: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReviveBots(ctx context.Context, botIDs []int64) error {
	if err := s.ClearFailingSprees(ctx, botIDs); err != nil {
		return err
	}
	return s.SetBotStatuses(ctx, botIDs, types.StatusWorking)
}

func (s *PostgresStore) CountBotsByStatus(ctx context.Context, family string) (types.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*) FROM bots WHERE ($1 = '' OR family = $1) GROUP BY status`, family)
	if err != nil {
		return nil, fmt.Errorf("store: count bots by status: %w", err)
	}
	defer rows.Close()
	counts := make(types.StatusCounts)
	for rows.Next() {
		var statusStr string
		var n int64
		if err := rows.Scan(&statusStr, &n); err != nil {
			return nil, fmt.Errorf("store: scan bot status count: %w", err)
		}
		status, err := types.ParseStatus(statusStr)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- Task ---

func (s *PostgresStore) CreateTask(ctx context.Context, botID int64, status types.Status) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tasks (bot_id, status, report_time) VALUES ($1, $2, $3) RETURNING task_id`,
		botID, status.String(), time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: create task: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CreateTaskInProgress(ctx context.Context, botID int64) (int64, error) {
	var taskID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO tasks (bot_id, status, report_time) VALUES ($1, $2, $3) RETURNING task_id`,
			botID, types.StatusInProgress.String(), time.Now().UTC()).Scan(&taskID); err != nil {
			return fmt.Errorf("store: create task: %w", err)
		}

		var trackerID int64
		if err := tx.QueryRowContext(ctx,
			`UPDATE bots SET status = $1 WHERE bot_id = $2 RETURNING tracker_id`,
			types.StatusInProgress.String(), botID).Scan(&trackerID); err != nil {
			return fmt.Errorf("store: set bot in_progress: %w", err)
		}
		return recomputeInTx(ctx, tx, []int64{trackerID})
	})
	if err != nil {
		return 0, err
	}
	return taskID, nil
}

func (s *PostgresStore) UpdateTaskAfterRun(ctx context.Context, taskID int64, status types.Status) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = $1 WHERE task_id = $2`, status.String(), taskID)
	if err != nil {
		return fmt.Errorf("store: update task after run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTaskView(ctx context.Context, taskID int64) (*types.TaskView, error) {
	row := s.db.QueryRowContext(ctx, taskViewQuery+` WHERE t.task_id = $1`, taskID)
	return scanTaskView(row)
}

func (s *PostgresStore) ListTaskViewsForBot(ctx context.Context, botID int64, limit, offset int) ([]types.TaskView, error) {
	rows, err := s.db.QueryContext(ctx,
		taskViewQuery+` WHERE t.bot_id = $1 ORDER BY t.task_id DESC LIMIT $2 OFFSET $3`, botID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list task views: %w", err)
	}
	defer rows.Close()
	var out []types.TaskView
	for rows.Next() {
		tv, err := scanTaskViewRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tv)
	}
	return out, rows.Err()
}

// taskViewQuery is the tasks ⋈ bots join with a results count, the Go
// analogue of model.py's TaskView.QUERY.
const taskViewQuery = `
	SELECT t.task_id, t.bot_id, t.status, t.report_time,
	       b.family, b.country, b.last_error,
	       (SELECT count(*) FROM results r WHERE r.task_id = t.task_id) AS result_count
	FROM tasks t
	JOIN bots b ON t.bot_id = b.bot_id`

func scanTaskView(row *sql.Row) (*types.TaskView, error) {
	var tv types.TaskView
	var statusStr string
	err := row.Scan(&tv.TaskID, &tv.BotID, &statusStr, &tv.ReportTime, &tv.Family, &tv.BotCountry, &tv.LastError, &tv.ResultCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan task view: %w", err)
	}
	tv.Status, _ = types.ParseStatus(statusStr)
	return &tv, nil
}

func scanTaskViewRows(rows *sql.Rows) (*types.TaskView, error) {
	var tv types.TaskView
	var statusStr string
	if err := rows.Scan(&tv.TaskID, &tv.BotID, &statusStr, &tv.ReportTime, &tv.Family, &tv.BotCountry, &tv.LastError, &tv.ResultCount); err != nil {
		return nil, fmt.Errorf("store: scan task view row: %w", err)
	}
	tv.Status, _ = types.ParseStatus(statusStr)
	return &tv, nil
}

func (s *PostgresStore) CountTasksByStatus(ctx context.Context) (types.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count tasks by status: %w", err)
	}
	defer rows.Close()
	counts := make(types.StatusCounts)
	for rows.Next() {
		var statusStr string
		var n int64
		if err := rows.Scan(&statusStr, &n); err != nil {
			return nil, fmt.Errorf("store: scan task status count: %w", err)
		}
		status, err := types.ParseStatus(statusStr)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// --- Result ---

func (s *PostgresStore) CreateResult(ctx context.Context, taskID int64, resultType, name, sha256 string, tags []string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO results (task_id, result_type, name, sha256, tags, upload_time) VALUES ($1, $2, $3, $4, $5, $6) RETURNING result_id`,
		taskID, resultType, name, sha256, pq.Array(tags), time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: create result: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListResultsForTask(ctx context.Context, taskID int64) ([]types.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result_id, task_id, result_type, name, sha256, tags, upload_time FROM results WHERE task_id = $1`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: list results for task: %w", err)
	}
	defer rows.Close()
	var out []types.ResultRecord
	for rows.Next() {
		var r types.ResultRecord
		if err := rows.Scan(&r.ResultID, &r.TaskID, &r.ResultType, &r.Name, &r.SHA256, pq.Array(&r.Tags), &r.UploadTime); err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Proxy ---

func (s *PostgresStore) ListProxies(ctx context.Context) ([]types.Proxy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT proxy_id, host, port, country, username, password FROM proxies ORDER BY country`)
	if err != nil {
		return nil, fmt.Errorf("store: list proxies: %w", err)
	}
	defer rows.Close()
	var out []types.Proxy
	for rows.Next() {
		var p types.Proxy
		if err := rows.Scan(&p.ProxyID, &p.Host, &p.Port, &p.Country, &p.Username, &p.Password); err != nil {
			return nil, fmt.Errorf("store: scan proxy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertProxy(ctx context.Context, p types.Proxy) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO proxies (host, port, country, username, password) VALUES ($1, $2, $3, $4, $5) RETURNING proxy_id`,
		p.Host, p.Port, p.Country, p.Username, p.Password).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert proxy: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) DeleteProxy(ctx context.Context, host string, port int, country string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM proxies WHERE host = $1 AND port = $2 AND country = $3`, host, port, country)
	if err != nil {
		return fmt.Errorf("store: delete proxy: %w", err)
	}
	return nil
}
