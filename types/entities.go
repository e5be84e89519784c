package types

import "time"

// Tracker is a single static configuration being tracked, identified by
// the content hash of its canonicalized configuration (see package dhash).
type Tracker struct {
	TrackerID  int64
	ConfigHash string
	Config     map[string]any
	Family     string
	Status     Status
}

// ConfigURL is the artifact-store URL the tracker's static config was
// uploaded under, derived from the Mwdb base URL and the config hash.
func (t Tracker) ConfigURL(mwdbURL string) string {
	return mwdbURL + "/config/" + t.ConfigHash
}

// Bot is one (tracker, country) pairing: a single proxy-bound impersonation
// of a tracker's malware configuration against that country's C2 servers.
type Bot struct {
	BotID         int64
	TrackerID     int64
	Status        Status
	State         map[string]any
	FailingSpree  int
	NextExecution *time.Time
	Country       string
	LastError     string
	Family        string
}

// Task is a single execution attempt of a Bot.
type Task struct {
	TaskID     int64
	BotID      int64
	Status     Status
	ReportTime time.Time
}

// ResultRecord is a single artifact upload recorded against a task, after
// the reporter has walked the module's result tree and pushed it to the
// artifact store.
type ResultRecord struct {
	ResultID   int64
	TaskID     int64
	ResultType string // "config", "binary", or "blob"
	Name       string
	SHA256     string
	Tags       []string
	UploadTime time.Time
}

// MwdbURL returns the artifact-store URL path segment for this result's
// type ("file" for binaries, "config" for configs, "blob" for blobs).
func (r ResultRecord) MwdbURL(baseURL string) string {
	path := map[string]string{
		"binary": "file",
		"config": "config",
		"blob":   "blob",
	}[r.ResultType]
	if path == "" {
		path = r.ResultType
	}
	return baseURL + "/" + path + "/" + r.SHA256
}

// TaskView is a read-model join of a task against its owning bot and the
// count of results attached to it — the Go analogue of the original
// project's TaskView (tasks ⋈ bots, with a results count).
type TaskView struct {
	Task
	Family      string
	BotCountry  string
	LastError   string
	ResultCount int
}

// StatusCounts is an aggregate of entity counts grouped by status, used
// by the persistence layer's read-only aggregation queries.
type StatusCounts map[Status]int64
