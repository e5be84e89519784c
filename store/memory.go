package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hiveguard/mtracker/types"
)

// MemoryStore is an in-memory Store used by tests across the scheduler,
// reporter, failure, and ingest packages. It implements the
// exact same transactional semantics as PostgresStore (guarded by a
// single mutex rather than real transactions) so tests can assert on the
// invariants (I1-I4) without a live database.
type MemoryStore struct {
	mu sync.Mutex

	maxFailingSpree int

	nextTrackerID int64
	nextBotID     int64
	nextTaskID    int64
	nextResultID  int64
	nextProxyID   int64

	trackers map[int64]*types.Tracker
	bots     map[int64]*types.Bot
	tasks    map[int64]*types.Task
	results  map[int64]*types.ResultRecord
	proxies  map[int64]*types.Proxy
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(maxFailingSpree int) *MemoryStore {
	return &MemoryStore{
		maxFailingSpree: maxFailingSpree,
		trackers:        make(map[int64]*types.Tracker),
		bots:            make(map[int64]*types.Bot),
		tasks:           make(map[int64]*types.Task),
		results:         make(map[int64]*types.ResultRecord),
		proxies:         make(map[int64]*types.Proxy),
	}
}

func (s *MemoryStore) Close() error { return nil }

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- Tracker ---

func (s *MemoryStore) GetTrackerByHash(ctx context.Context, configHash string) (*types.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trackers {
		if t.ConfigHash == configHash {
			cp := *t
			cp.Config = cloneMap(t.Config)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetTrackerByID(ctx context.Context, trackerID int64) (*types.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[trackerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	cp.Config = cloneMap(t.Config)
	return &cp, nil
}

func (s *MemoryStore) CreateTracker(ctx context.Context, configHash string, config map[string]any, family string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTrackerID++
	id := s.nextTrackerID
	s.trackers[id] = &types.Tracker{
		TrackerID:  id,
		ConfigHash: configHash,
		Config:     cloneMap(config),
		Family:     family,
		Status:     types.StatusNew,
	}
	return id, nil
}

func (s *MemoryStore) CreateTrackerWithBots(ctx context.Context, configHash string, config map[string]any, family string, countries []string) (int64, []int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTrackerID++
	trackerID := s.nextTrackerID
	s.trackers[trackerID] = &types.Tracker{
		TrackerID:  trackerID,
		ConfigHash: configHash,
		Config:     cloneMap(config),
		Family:     family,
		Status:     types.StatusNew,
	}
	botIDs := s.createBotsLocked(trackerID, family, countries)
	_ = s.recomputeLocked([]int64{trackerID})
	return trackerID, botIDs, nil
}

func (s *MemoryStore) CreateBotsForTracker(ctx context.Context, trackerID int64, family string, countries []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trackers[trackerID]; !ok {
		return nil, ErrTrackerMissing
	}
	botIDs := s.createBotsLocked(trackerID, family, countries)
	_ = s.recomputeLocked([]int64{trackerID})
	return botIDs, nil
}

func (s *MemoryStore) createBotsLocked(trackerID int64, family string, countries []string) []int64 {
	ids := make([]int64, 0, len(countries))
	for _, country := range countries {
		s.nextBotID++
		id := s.nextBotID
		now := time.Now().UTC()
		s.bots[id] = &types.Bot{
			BotID:         id,
			TrackerID:     trackerID,
			Status:        types.StatusNew,
			State:         map[string]any{},
			FailingSpree:  0,
			NextExecution: &now,
			Country:       country,
			Family:        family,
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *MemoryStore) ListTrackers(ctx context.Context, family string, status *types.Status, limit, offset int) ([]types.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Tracker
	for _, t := range s.trackers {
		if family != "" && t.Family != family {
			continue
		}
		if status != nil && t.Status != *status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackerID > out[j].TrackerID })
	return paginate(out, limit, offset), nil
}

func (s *MemoryStore) CountTrackers(ctx context.Context, status *types.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.trackers {
		if status == nil || t.Status == *status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) RecomputeTrackerStatuses(ctx context.Context, trackerIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recomputeLocked(trackerIDs)
}

func (s *MemoryStore) recomputeLocked(trackerIDs []int64) error {
	for _, trackerID := range trackerIDs {
		t, ok := s.trackers[trackerID]
		if !ok {
			continue
		}
		min := types.Status(-1)
		for _, b := range s.bots {
			if b.TrackerID != trackerID {
				continue
			}
			if min == -1 || b.Status < min {
				min = b.Status
			}
		}
		if min != -1 {
			t.Status = min
		}
	}
	return nil
}

// --- Bot ---

func (s *MemoryStore) GetBotByID(ctx context.Context, botID int64) (*types.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	cp.State = cloneMap(b.State)
	return &cp, nil
}

func (s *MemoryStore) CreateBot(ctx context.Context, trackerID int64, country, family string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trackers[trackerID]; !ok {
		return 0, ErrTrackerMissing
	}
	s.nextBotID++
	id := s.nextBotID
	now := time.Now().UTC()
	s.bots[id] = &types.Bot{
		BotID:         id,
		TrackerID:     trackerID,
		Status:        types.StatusNew,
		State:         map[string]any{},
		FailingSpree:  0,
		NextExecution: &now,
		Country:       country,
		Family:        family,
	}
	_ = s.recomputeLocked([]int64{trackerID})
	return id, nil
}

func (s *MemoryStore) ListBotCountriesForTracker(ctx context.Context, trackerID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.bots {
		if b.TrackerID == trackerID {
			out = append(out, b.Country)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListBotsForTracker(ctx context.Context, trackerID int64) ([]types.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Bot
	for _, b := range s.bots {
		if b.TrackerID == trackerID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out, nil
}

func (s *MemoryStore) FetchPendingBots(ctx context.Context, before time.Time) ([]types.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Bot
	for _, b := range s.bots {
		if b.NextExecution != nil && b.NextExecution.After(before) {
			continue
		}
		switch b.Status {
		case types.StatusWorking, types.StatusFailing, types.StatusNew:
		default:
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].NextExecution, out[j].NextExecution
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	return out, nil
}

func (s *MemoryStore) SetBotStatuses(ctx context.Context, botIDs []int64, status types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var trackerIDs []int64
	seen := map[int64]bool{}
	for _, id := range botIDs {
		b, ok := s.bots[id]
		if !ok {
			continue
		}
		b.Status = status
		if !seen[b.TrackerID] {
			seen[b.TrackerID] = true
			trackerIDs = append(trackerIDs, b.TrackerID)
		}
	}
	return s.recomputeLocked(trackerIDs)
}

func (s *MemoryStore) UpdateBotAfterRun(ctx context.Context, botID int64, state map[string]any, status types.Status, nextExecution *time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return ErrNotFound
	}

	switch status {
	case types.StatusWorking:
		b.Status = types.StatusWorking
		b.LastError = ""
		b.FailingSpree = 0
	case types.StatusFailing:
		reason := lastError
		if reason == "" {
			reason = "Failed to get config"
		}
		b.FailingSpree++
		if b.FailingSpree > s.maxFailingSpree {
			b.Status = types.StatusArchived
		} else {
			b.Status = types.StatusFailing
		}
		b.LastError = reason
	case types.StatusArchived:
		b.Status = types.StatusArchived
		b.LastError = ""
		b.FailingSpree = 0
	case types.StatusCrashed:
		// already marked CRASHED by the failure handler
	default:
		return fmt.Errorf("store: update bot after run: unexpected status %s", status)
	}

	if state != nil {
		b.State = cloneMap(state)
	}
	b.NextExecution = nextExecution

	return s.recomputeLocked([]int64{b.TrackerID})
}

func (s *MemoryStore) SetBotCrashed(ctx context.Context, botID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return ErrNotFound
	}
	b.Status = types.StatusCrashed
	b.LastError = reason
	return s.recomputeLocked([]int64{b.TrackerID})
}

func (s *MemoryStore) ClearFailingSprees(ctx context.Context, botIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range botIDs {
		if b, ok := s.bots[id]; ok {
			b.FailingSpree = 0
		}
	}
	return nil
}

func (s *MemoryStore) ReviveBots(ctx context.Context, botIDs []int64) error {
	if err := s.ClearFailingSprees(ctx, botIDs); err != nil {
		return err
	}
	return s.SetBotStatuses(ctx, botIDs, types.StatusWorking)
}

func (s *MemoryStore) CountBotsByStatus(ctx context.Context, family string) (types.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(types.StatusCounts)
	for _, b := range s.bots {
		if family != "" && b.Family != family {
			continue
		}
		counts[b.Status]++
	}
	return counts, nil
}

// --- Task ---

func (s *MemoryStore) CreateTask(ctx context.Context, botID int64, status types.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[botID]; !ok {
		return 0, ErrNotFound
	}
	s.nextTaskID++
	id := s.nextTaskID
	s.tasks[id] = &types.Task{TaskID: id, BotID: botID, Status: status, ReportTime: time.Now().UTC()}
	return id, nil
}

func (s *MemoryStore) CreateTaskInProgress(ctx context.Context, botID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[botID]
	if !ok {
		return 0, ErrNotFound
	}
	s.nextTaskID++
	taskID := s.nextTaskID
	s.tasks[taskID] = &types.Task{TaskID: taskID, BotID: botID, Status: types.StatusInProgress, ReportTime: time.Now().UTC()}
	b.Status = types.StatusInProgress
	_ = s.recomputeLocked([]int64{b.TrackerID})
	return taskID, nil
}

func (s *MemoryStore) UpdateTaskAfterRun(ctx context.Context, taskID int64, status types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

func (s *MemoryStore) GetTaskView(ctx context.Context, taskID int64) (*types.TaskView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskViewLocked(taskID)
}

func (s *MemoryStore) taskViewLocked(taskID int64) (*types.TaskView, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := s.bots[t.BotID]
	if !ok {
		return nil, ErrTrackerMissing
	}
	count := 0
	for _, r := range s.results {
		if r.TaskID == taskID {
			count++
		}
	}
	return &types.TaskView{
		Task:        *t,
		Family:      b.Family,
		BotCountry:  b.Country,
		LastError:   b.LastError,
		ResultCount: count,
	}, nil
}

func (s *MemoryStore) ListTaskViewsForBot(ctx context.Context, botID int64, limit, offset int) ([]types.TaskView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, t := range s.tasks {
		if t.BotID == botID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	var out []types.TaskView
	for _, id := range applyOffset(ids, limit, offset) {
		tv, err := s.taskViewLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *tv)
	}
	return out, nil
}

func (s *MemoryStore) CountTasksByStatus(ctx context.Context) (types.StatusCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(types.StatusCounts)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// --- Result ---

func (s *MemoryStore) CreateResult(ctx context.Context, taskID int64, resultType, name, sha256 string, tags []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return 0, ErrNotFound
	}
	s.nextResultID++
	id := s.nextResultID
	s.results[id] = &types.ResultRecord{
		ResultID:   id,
		TaskID:     taskID,
		ResultType: resultType,
		Name:       name,
		SHA256:     sha256,
		Tags:       append([]string(nil), tags...),
		UploadTime: time.Now().UTC(),
	}
	return id, nil
}

func (s *MemoryStore) ListResultsForTask(ctx context.Context, taskID int64) ([]types.ResultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.ResultRecord
	for _, r := range s.results {
		if r.TaskID == taskID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResultID < out[j].ResultID })
	return out, nil
}

// --- Proxy ---

func (s *MemoryStore) ListProxies(ctx context.Context) ([]types.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Proxy
	for _, p := range s.proxies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })
	return out, nil
}

func (s *MemoryStore) InsertProxy(ctx context.Context, p types.Proxy) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProxyID++
	id := s.nextProxyID
	p.ProxyID = id
	s.proxies[id] = &p
	return id, nil
}

func (s *MemoryStore) DeleteProxy(ctx context.Context, host string, port int, country string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.proxies {
		if p.Host == host && p.Port == port && p.Country == country {
			delete(s.proxies, id)
		}
	}
	return nil
}

func paginate(items []types.Tracker, limit, offset int) []types.Tracker {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func applyOffset(ids []int64, limit, offset int) []int64 {
	if offset >= len(ids) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
