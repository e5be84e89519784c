package metrics_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hiveguard/mtracker/metrics"
)

func TestCollectorAccumulatesPerKind(t *testing.T) {
	c := metrics.NewCollector("scheduler")
	c.IncTaskScheduled()
	c.IncTaskScheduled()
	c.IncTaskStatus("working")
	c.IncTaskStatus("failing")
	c.IncTaskStatus("failing")
	c.IncBotArchivedBySpree()
	c.IncBotRevived()
	c.AddProxySync(3, 1)
	c.IncNoProxyForCountry()
	c.IncArtifactUpload(true)
	c.IncArtifactUpload(false)

	snap := c.Snapshot()
	assert.Equal(t, "scheduler", snap.Component)
	assert.Equal(t, int64(2), snap.TasksScheduled)
	assert.Equal(t, int64(1), snap.TasksWorking)
	assert.Equal(t, int64(2), snap.TasksFailing)
	assert.Equal(t, int64(1), snap.BotsArchivedBySpree)
	assert.Equal(t, int64(1), snap.BotsRevived)
	assert.Equal(t, int64(3), snap.ProxySyncInserted)
	assert.Equal(t, int64(1), snap.ProxySyncDeleted)
	assert.Equal(t, int64(1), snap.NoProxyForCountry)
	assert.Equal(t, int64(1), snap.ArtifactUploadSuccess)
	assert.Equal(t, int64(1), snap.ArtifactUploadFailure)
}

func TestCollectorIgnoresUnknownStatus(t *testing.T) {
	c := metrics.NewCollector("reporter")
	c.IncTaskStatus("crashed")
	c.IncTaskStatus("archived")
	c.IncTaskStatus("bogus")

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.TasksCrashed)
	assert.Equal(t, int64(1), snap.TasksArchived)
}

func TestNilCollectorIsANoOp(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.IncTaskScheduled()
		c.IncTaskStatus("working")
		c.IncBotArchivedBySpree()
		c.IncBotRevived()
		c.AddProxySync(1, 1)
		c.IncNoProxyForCountry()
		c.IncArtifactUpload(true)
	})
	assert.Equal(t, metrics.Snapshot{}, c.Snapshot())
}

func TestCollectorConcurrentIncrements(t *testing.T) {
	c := metrics.NewCollector("scheduler")
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncTaskScheduled()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), c.Snapshot().TasksScheduled)
}
