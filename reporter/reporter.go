// Package reporter is the Reporter (component G): consumes the broker's
// result for a completed execute job, walks the result tree into the
// artifact store, persists Result rows, and updates bot/task status.
//
// Grounded on reporter.py's report_results/finalize_task/update_bot and
// utils.py's report_mwdb_tree. The depth-limited recursive walk and the
// per-kind dispatch (object/config/binary/blob) follow report_mwdb_tree
// exactly, operating on the tree's map[string]any wire form (the same
// shape resulttree.Node.ToMapRecursive produces and the broker carries
// across process boundaries) rather than the live *resulttree.Node —
// the reporter may run in a separate worker process from the executor
// that built the tree, so only the serialized form is ever in hand.
package reporter

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/hiveguard/mtracker/artifactstore"
	"github.com/hiveguard/mtracker/log"
	"github.com/hiveguard/mtracker/metrics"
	"github.com/hiveguard/mtracker/store"
	"github.com/hiveguard/mtracker/types"
)

// maxDepth mirrors report_mwdb_tree's depth>10 guard against cyclic
// result trees.
const maxDepth = 10

// uploadedResult is one artifact pushed while walking a result tree.
type uploadedResult struct {
	resultType string
	name       string
	sha256     string
	tags       []string
}

// Reporter ties the artifact store and persistence layer together.
type Reporter struct {
	store   store.Store
	client  *artifactstore.Client
	logger  *log.Logger
	period  time.Duration
	metrics *metrics.Collector
}

// New builds a Reporter. period is how far next_execution is pushed out
// on every report cycle (scheduler.py/reporter.py's task_period).
func New(s store.Store, client *artifactstore.Client, logger *log.Logger, period time.Duration) *Reporter {
	if period <= 0 {
		period = 5 * time.Minute
	}
	return &Reporter{store: s, client: client, logger: logger, period: period, metrics: metrics.NewCollector("reporter")}
}

// WithMetrics swaps in a caller-supplied collector.
func (r *Reporter) WithMetrics(c *metrics.Collector) *Reporter {
	r.metrics = c
	return r
}

// Metrics returns this reporter's counters.
func (r *Reporter) Metrics() metrics.Snapshot { return r.metrics.Snapshot() }

// Outcome is what a completed execute job handed the broker, the Go
// analogue of rq's tracker_job.result tuple. DynamicConfig is the
// result tree's serialized map form (resulttree.Node.ToMapRecursive).
type Outcome struct {
	Status        types.Status
	DynamicConfig map[string]any
	SavedState    map[string]any
}

// Report runs one report cycle for a task. A nil outcome models the
// "tracker result is empty" case (execute job timed out or the link was
// lost before a result was ever stored) — it still must bring the task
// and bot to a terminal state rather than leaving them stuck, which is
// why Report (unlike reporter.py's early return) always calls
// finalizeTask/updateBot.
func (r *Reporter) Report(ctx context.Context, taskID, botID int64, configHash string, outcome *Outcome) error {
	if outcome == nil {
		r.logger.Error("report cycle observed no execute result", map[string]any{"task_id": taskID, "bot_id": botID})
		if err := r.store.SetBotCrashed(ctx, botID, "no execute result"); err != nil {
			return fmt.Errorf("reporter: mark bot crashed: %w", err)
		}
		return r.finalize(ctx, taskID, botID, nil, types.StatusCrashed, nil)
	}

	var uploaded []uploadedResult
	switch outcome.Status {
	case types.StatusWorking, types.StatusArchived:
		r.logger.Info("module produced a terminal result", map[string]any{
			"task_id": taskID, "status": outcome.Status.String(),
		})
		if outcome.DynamicConfig != nil {
			var err error
			uploaded, err = r.uploadTree(ctx, outcome.DynamicConfig, configHash, 0)
			if err != nil {
				// Upload failure still surfaces, but the
				// task/bot update step is still attempted: any Result
				// rows created before the failing upload stay (content
				// addressing makes re-upload safe, no cleanup needed).
				r.logger.Error("artifact upload failed mid-tree", map[string]any{"task_id": taskID, "error": err.Error()})
				finalizeErr := r.finalize(ctx, taskID, botID, uploaded, outcome.Status, outcome.SavedState)
				if finalizeErr != nil {
					return fmt.Errorf("reporter: finalize after partial upload: %w", finalizeErr)
				}
				return fmt.Errorf("reporter: upload result tree: %w", err)
			}
		}
	case types.StatusFailing:
		r.logger.Warn("module could not fetch config", map[string]any{"task_id": taskID})
	case types.StatusCrashed:
		r.logger.Error("module crashed", map[string]any{"task_id": taskID})
	}

	return r.finalize(ctx, taskID, botID, uploaded, outcome.Status, outcome.SavedState)
}

func (r *Reporter) finalize(ctx context.Context, taskID, botID int64, uploaded []uploadedResult, status types.Status, savedState map[string]any) error {
	if err := r.finalizeTask(ctx, taskID, uploaded, status); err != nil {
		return fmt.Errorf("reporter: finalize task: %w", err)
	}
	if err := r.updateBot(ctx, botID, status, savedState); err != nil {
		return fmt.Errorf("reporter: update bot: %w", err)
	}
	r.metrics.IncTaskStatus(status.String())
	return nil
}

// finalizeTask sets the task's terminal status and persists one Result
// row per uploaded artifact, matching finalize_task.
func (r *Reporter) finalizeTask(ctx context.Context, taskID int64, uploaded []uploadedResult, status types.Status) error {
	if err := r.store.UpdateTaskAfterRun(ctx, taskID, status); err != nil {
		return err
	}
	for _, u := range uploaded {
		if _, err := r.store.CreateResult(ctx, taskID, u.resultType, u.name, u.sha256, u.tags); err != nil {
			return fmt.Errorf("create result row for %s: %w", u.sha256, err)
		}
	}
	return nil
}

// updateBot persists the module's saved state and advances next_execution
// by the configured task period, matching update_bot.
func (r *Reporter) updateBot(ctx context.Context, botID int64, status types.Status, savedState map[string]any) error {
	next := time.Now().UTC().Add(r.period)
	return r.store.UpdateBotAfterRun(ctx, botID, savedState, status, &next, "")
}

// uploadTree walks node and its subtree, uploading each config/binary/
// blob child to the artifact store and attaching tags/comments,
// returning a flat list of every artifact reported — report_mwdb_tree's
// exact recursion shape, parent-hash threading included. node is one
// level of resulttree.Node.ToMapRecursive's output.
func (r *Reporter) uploadTree(ctx context.Context, node map[string]any, parent string, depth int) ([]uploadedResult, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("reporter: maximum reporting depth reached, result tree may contain a cycle")
	}

	var results []uploadedResult
	var thisHash string

	kind, _ := node["object"].(string)
	tags := stringSlice(node["tags"])
	attrs, _ := node["attributes"].(map[string]any)
	comments := stringSlice(node["comments"])

	switch kind {
	case "object":
		thisHash = parent
	case "config":
		cfg, _ := node["config"].(map[string]any)
		configType, _ := node["config_type"].(string)
		family, _ := cfg["type"].(string)
		obj, err := r.client.UploadConfig(ctx, family, cfg, configType, attrs, parent)
		r.metrics.IncArtifactUpload(err == nil)
		if err != nil {
			return nil, fmt.Errorf("upload config: %w", err)
		}
		thisHash = obj.SHA256
		results = append(results, uploadedResult{resultType: "config", name: configType, sha256: obj.SHA256, tags: tags})
		if err := r.attach(ctx, obj.SHA256, tags, comments); err != nil {
			return nil, err
		}
	case "binary":
		name, _ := node["name"].(string)
		encoded, _ := node["data"].(string)
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode binary payload: %w", err)
		}
		obj, err := r.client.UploadFile(ctx, name, data, attrs, parent)
		r.metrics.IncArtifactUpload(err == nil)
		if err != nil {
			return nil, fmt.Errorf("upload file: %w", err)
		}
		thisHash = obj.SHA256
		results = append(results, uploadedResult{resultType: "binary", name: name, sha256: obj.SHA256, tags: tags})
		if err := r.attach(ctx, obj.SHA256, tags, comments); err != nil {
			return nil, err
		}
	case "blob":
		name, _ := node["name"].(string)
		blobType, _ := node["blob_type"].(string)
		content, _ := node["content"].(string)
		obj, err := r.client.UploadBlob(ctx, name, blobType, content, attrs, parent)
		r.metrics.IncArtifactUpload(err == nil)
		if err != nil {
			return nil, fmt.Errorf("upload blob: %w", err)
		}
		thisHash = obj.SHA256
		results = append(results, uploadedResult{resultType: "blob", name: name + "_" + blobType, sha256: obj.SHA256, tags: tags})
		if err := r.attach(ctx, obj.SHA256, tags, comments); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("reporter: unknown result node kind %q", kind)
	}

	for _, child := range childMaps(node["children"]) {
		childResults, err := r.uploadTree(ctx, child, thisHash, depth+1)
		if err != nil {
			return append(results, childResults...), err
		}
		results = append(results, childResults...)
	}
	return results, nil
}

// childMaps normalizes node["children"] to []map[string]any. In-process
// callers (tests, the fetch CLI path) hand uploadTree the direct output
// of resulttree.Node.ToMapRecursive, where children is already
// []map[string]any. Once a tree crosses the broker, msgpack marshals it
// generically and unmarshals each child as map[string]interface{} inside
// a []interface{} slice, never as []map[string]any — so that assertion
// must be tried second, converting element by element.
func childMaps(v any) []map[string]any {
	if list, ok := v.([]map[string]any); ok {
		return list
	}
	anyList, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(anyList))
	for _, item := range anyList {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringSlice(v any) []string {
	list, ok := v.([]string)
	if ok {
		return list
	}
	anyList, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(anyList))
	for _, item := range anyList {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *Reporter) attach(ctx context.Context, sha256 string, tags, comments []string) error {
	for _, tag := range tags {
		if err := r.client.AddTag(ctx, sha256, tag); err != nil {
			return fmt.Errorf("add tag %q to %s: %w", tag, sha256, err)
		}
	}
	for _, comment := range comments {
		if err := r.client.AddComment(ctx, sha256, comment); err != nil {
			return fmt.Errorf("add comment to %s: %w", sha256, err)
		}
	}
	return nil
}
