// Package metrics provides in-process counters for the tracking pipeline.
//
// The Collector accumulates counters across the scheduler/executor/reporter
// path. It is a leaf package with no internal dependencies. There is no
// Prometheus wiring here: scraping endpoints are out of scope for this
// repository, which only needs counters an operator can snapshot on demand
// (e.g. from the fetch CLI or a future status command).
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters. Returned by
// Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Task lifecycle
	TasksScheduled int64
	TasksWorking   int64
	TasksFailing   int64
	TasksCrashed   int64
	TasksArchived  int64

	// Bot status transitions
	BotsArchivedBySpree int64
	BotsRevived         int64

	// Proxy pool
	ProxySyncInserted int64
	ProxySyncDeleted  int64
	NoProxyForCountry int64

	// Artifact store
	ArtifactUploadSuccess int64
	ArtifactUploadFailure int64

	// Dimensions (informational, set at construction)
	Component string
}

// Collector accumulates counters for a single component instance.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe,
// so a nil *Collector can be passed around as a no-op.
type Collector struct {
	mu sync.Mutex

	tasksScheduled int64
	tasksWorking   int64
	tasksFailing   int64
	tasksCrashed   int64
	tasksArchived  int64

	botsArchivedBySpree int64
	botsRevived         int64

	proxySyncInserted int64
	proxySyncDeleted  int64
	noProxyForCountry int64

	artifactUploadSuccess int64
	artifactUploadFailure int64

	component string
}

// NewCollector creates a Collector labeled with the owning component name
// (e.g. "scheduler", "reporter").
func NewCollector(component string) *Collector {
	return &Collector{component: component}
}

// IncTaskScheduled records a task being enqueued for execution.
func (c *Collector) IncTaskScheduled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tasksScheduled++
	c.mu.Unlock()
}

// IncTaskStatus records a task reaching a terminal status.
func (c *Collector) IncTaskStatus(status string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch status {
	case "working":
		c.tasksWorking++
	case "failing":
		c.tasksFailing++
	case "crashed":
		c.tasksCrashed++
	case "archived":
		c.tasksArchived++
	}
}

// IncBotArchivedBySpree records a bot crossing the failing-spree threshold.
func (c *Collector) IncBotArchivedBySpree() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.botsArchivedBySpree++
	c.mu.Unlock()
}

// IncBotRevived records an operator-triggered bot revival.
func (c *Collector) IncBotRevived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.botsRevived++
	c.mu.Unlock()
}

// AddProxySync records the result of a proxy pool synchronization.
func (c *Collector) AddProxySync(inserted, deleted int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.proxySyncInserted += int64(inserted)
	c.proxySyncDeleted += int64(deleted)
	c.mu.Unlock()
}

// IncNoProxyForCountry records a scheduling attempt with no matching proxy.
func (c *Collector) IncNoProxyForCountry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.noProxyForCountry++
	c.mu.Unlock()
}

// IncArtifactUpload records the outcome of an artifact store upload.
func (c *Collector) IncArtifactUpload(ok bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.artifactUploadSuccess++
	} else {
		c.artifactUploadFailure++
	}
}

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		TasksScheduled: c.tasksScheduled,
		TasksWorking:   c.tasksWorking,
		TasksFailing:   c.tasksFailing,
		TasksCrashed:   c.tasksCrashed,
		TasksArchived:  c.tasksArchived,

		BotsArchivedBySpree: c.botsArchivedBySpree,
		BotsRevived:         c.botsRevived,

		ProxySyncInserted: c.proxySyncInserted,
		ProxySyncDeleted:  c.proxySyncDeleted,
		NoProxyForCountry: c.noProxyForCountry,

		ArtifactUploadSuccess: c.artifactUploadSuccess,
		ArtifactUploadFailure: c.artifactUploadFailure,

		Component: c.component,
	}
}
