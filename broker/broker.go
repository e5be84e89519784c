// Package broker is the Job Broker (component E): two named Redis
// queues, "track" and "report", with execute→report dependency linking.
//
// Grounded on adapter/redis/redis.go's connection-handling pattern
// (ParseURL, exponential backoff on enqueue) adapted from a pub/sub
// publisher into a list-backed work queue, since no job-queue library in
// the retrieval pack has usable source to ground a richer implementation
// on (only go.mod-only manifest stubs for queue libraries were found).
//
// The dependency link is "runs after completion, not on success":
// CompleteExecute is called whichever terminal status the execute stage
// reaches (including StatusCrashed), and only then is the dependent
// report job made visible to report workers. This guarantees every task
// reaches a terminal status even when the module crashes.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	trackQueueKey  = "mtracker:queue:track"
	reportQueueKey = "mtracker:queue:report"
	resultKeyFmt   = "mtracker:result:%s"
	pendingKeyFmt  = "mtracker:pending_report:%s"

	// ResultTTL bounds how long a completed execute job's result is kept
	// around for its dependent report job to pick up.
	ResultTTL = 24 * time.Hour
)

// DefaultTimeout is the default per-operation timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of enqueue retry attempts.
const DefaultRetries = 3

// Config configures the broker's Redis connection.
type Config struct {
	// URL is the Redis connection URL. Format: redis://[:password@]host:port[/db]
	URL string
	// Timeout is the per-operation timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on enqueue failure (default 3).
	Retries int
}

// ExecutePayload is the kwargs the scheduler hands the execute job,
// mirroring scheduler.py's track_queue.enqueue kwargs.
type ExecutePayload struct {
	StaticConfig map[string]any `msgpack:"static_config"`
	SavedState   map[string]any `msgpack:"saved_state"`
	Proxy        string         `msgpack:"proxy"`
	BotID        int64          `msgpack:"bot_id"`
	TaskID       int64          `msgpack:"task_id"`
	Family       string         `msgpack:"family"`
	Timeout      time.Duration  `msgpack:"timeout"`
}

// ReportPayload is the kwargs the scheduler hands the report job,
// mirroring scheduler.py's report_queue.enqueue kwargs.
type ReportPayload struct {
	BotID         int64  `msgpack:"bot_id"`
	TaskID        int64  `msgpack:"task_id"`
	ConfigHash    string `msgpack:"config_hash"`
	ExecuteJobID  string `msgpack:"execute_job_id"`
}

// ExecuteResult is what the execute stage stores for its dependent report
// job to read, the Go analogue of rq's tracker_job.result.
type ExecuteResult struct {
	Status         int            `msgpack:"status"`
	DynamicConfig  map[string]any `msgpack:"dynamic_config"`
	SavedState     map[string]any `msgpack:"saved_state"`
}

// Job wraps a payload with the job ID the broker assigned it.
type Job[T any] struct {
	JobID   string
	Payload T
}

// Broker is a Redis-backed job queue pairing an execute queue with a
// report queue linked by dependency.
type Broker struct {
	client  *goredis.Client
	timeout time.Duration
	retries int
}

// New connects to Redis per cfg.
func New(cfg Config) (*Broker, error) {
	if cfg.URL == "" {
		return nil, errors.New("broker: requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker: invalid URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("broker: retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	return &Broker{client: goredis.NewClient(opts), timeout: cfg.Timeout, retries: cfg.Retries}, nil
}

// NewWithClient wraps an existing *goredis.Client (used by tests against
// miniredis).
func NewWithClient(client *goredis.Client) *Broker {
	return &Broker{client: client, timeout: DefaultTimeout, retries: 0}
}

func (b *Broker) Close() error { return b.client.Close() }

// EnqueueExecute pushes an execute job onto the track queue and returns
// its assigned job ID.
func (b *Broker) EnqueueExecute(ctx context.Context, payload ExecutePayload) (string, error) {
	jobID := uuid.NewString()
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("broker: encode execute payload: %w", err)
	}
	envelope, err := msgpack.Marshal(rawJob{JobID: jobID, Payload: body})
	if err != nil {
		return "", fmt.Errorf("broker: encode execute envelope: %w", err)
	}
	if err := b.pushWithRetry(ctx, trackQueueKey, envelope); err != nil {
		return "", err
	}
	return jobID, nil
}

// EnqueueReportAfter registers a report job to run once execJobID
// completes. It is not visible to report workers until CompleteExecute is
// called for execJobID.
func (b *Broker) EnqueueReportAfter(ctx context.Context, execJobID string, payload ReportPayload) (string, error) {
	jobID := uuid.NewString()
	payload.ExecuteJobID = execJobID
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("broker: encode report payload: %w", err)
	}
	envelope, err := msgpack.Marshal(rawJob{JobID: jobID, Payload: body})
	if err != nil {
		return "", fmt.Errorf("broker: encode report envelope: %w", err)
	}

	key := fmt.Sprintf(pendingKeyFmt, execJobID)
	opCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.client.Set(opCtx, key, envelope, ResultTTL).Err(); err != nil {
		return "", fmt.Errorf("broker: register pending report: %w", err)
	}
	return jobID, nil
}

// CompleteExecute stores result for execJobID and, if a report job is
// waiting on it, enqueues it onto the report queue. Called exactly once
// per execute job regardless of whether it crashed.
func (b *Broker) CompleteExecute(ctx context.Context, execJobID string, result ExecuteResult) error {
	body, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("broker: encode execute result: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	resultKey := fmt.Sprintf(resultKeyFmt, execJobID)
	if err := b.client.Set(opCtx, resultKey, body, ResultTTL).Err(); err != nil {
		return fmt.Errorf("broker: store execute result: %w", err)
	}

	pendingKey := fmt.Sprintf(pendingKeyFmt, execJobID)
	envelope, err := b.client.GetDel(opCtx, pendingKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil // no report job was registered for this execute job
	}
	if err != nil {
		return fmt.Errorf("broker: fetch pending report: %w", err)
	}
	return b.pushWithRetry(ctx, reportQueueKey, envelope)
}

// GetExecuteResult fetches the stored result for an execute job, the Go
// analogue of rq's Job(tracker_job_id, redis_conn).result.
func (b *Broker) GetExecuteResult(ctx context.Context, execJobID string) (*ExecuteResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	body, err := b.client.Get(opCtx, fmt.Sprintf(resultKeyFmt, execJobID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("broker: get execute result: %w", err)
	}
	var result ExecuteResult
	if err := msgpack.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("broker: decode execute result: %w", err)
	}
	return &result, nil
}

// DequeueExecute blocks (up to timeout) for the next execute job.
// Returns (nil, nil) on timeout with no job available.
func (b *Broker) DequeueExecute(ctx context.Context, timeout time.Duration) (*Job[ExecutePayload], error) {
	envelope, err := b.popBlocking(ctx, trackQueueKey, timeout)
	if err != nil || envelope == nil {
		return nil, err
	}
	var raw rawJob
	if err := msgpack.Unmarshal(envelope, &raw); err != nil {
		return nil, fmt.Errorf("broker: decode execute envelope: %w", err)
	}
	var payload ExecutePayload
	if err := msgpack.Unmarshal(raw.Payload, &payload); err != nil {
		return nil, fmt.Errorf("broker: decode execute payload: %w", err)
	}
	return &Job[ExecutePayload]{JobID: raw.JobID, Payload: payload}, nil
}

// DequeueReport blocks (up to timeout) for the next report job.
func (b *Broker) DequeueReport(ctx context.Context, timeout time.Duration) (*Job[ReportPayload], error) {
	envelope, err := b.popBlocking(ctx, reportQueueKey, timeout)
	if err != nil || envelope == nil {
		return nil, err
	}
	var raw rawJob
	if err := msgpack.Unmarshal(envelope, &raw); err != nil {
		return nil, fmt.Errorf("broker: decode report envelope: %w", err)
	}
	var payload ReportPayload
	if err := msgpack.Unmarshal(raw.Payload, &payload); err != nil {
		return nil, fmt.Errorf("broker: decode report payload: %w", err)
	}
	return &Job[ReportPayload]{JobID: raw.JobID, Payload: payload}, nil
}

type rawJob struct {
	JobID   string `msgpack:"job_id"`
	Payload []byte `msgpack:"payload"`
}

func (b *Broker) popBlocking(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("broker: dequeue %s: %w", key, err)
	}
	// BLPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("broker: unexpected BLPOP reply for %s", key)
	}
	return []byte(res[1]), nil
}

// pushWithRetry pushes body onto key with exponential backoff, matching
// the retry posture of adapter/redis/redis.go's Publish.
func (b *Broker) pushWithRetry(ctx context.Context, key string, body []byte) error {
	var lastErr error
	attempts := 1 + b.retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("broker: context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("broker: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		opCtx, cancel := context.WithTimeout(ctx, b.timeout)
		lastErr = b.client.RPush(opCtx, key, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("broker: failed after %d attempts: %w", attempts, lastErr)
}
