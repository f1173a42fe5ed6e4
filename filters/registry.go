package filters

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// FilterType distinguishes how a tracked filter is consumed.
type FilterType string

const (
	// TypeFilter is a poll-style filter driven by FilterChanges calls.
	TypeFilter FilterType = "filter"
	// TypeListener is a filter driven by a background poll loop.
	TypeListener FilterType = "listener"
)

// Status is the lifecycle state of a tracked filter.
type Status int

const (
	// StatusActive means the filter is registered and servable.
	StatusActive Status = iota
	// StatusExpired means a lookup against the filter failed with a
	// "filter not found" class error and recreation is pending.
	StatusExpired
	// StatusRemoved is terminal; the entry has left the registry.
	StatusRemoved
)

// TrackedFilter is the registry's record of one filter or listener. The
// registry owns it exclusively; callers hold only its ID and read snapshot
// copies.
type TrackedFilter struct {
	ID    string
	Type  FilterType
	Query Query

	// LastSyncedBlock is the highest block whose logs have been delivered.
	// Nil until the first sync; monotonically non-decreasing afterwards.
	LastSyncedBlock *uint64

	CreatedAt     time.Time
	LastTouchedAt time.Time
	Status        Status
}

// Registry is the in-memory table of tracked filters, keyed by ID. It also
// owns the stale filter reaper, which evicts entries whose absolute age
// exceeds the configured timeout.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]*TrackedFilter

	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
	metrics  *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates a registry and starts its reaper goroutine.
func NewRegistry(timeout, interval time.Duration, logger *zap.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		filters:  make(map[string]*TrackedFilter),
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		metrics:  ensureMetrics(metrics),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go r.reapLoop()

	return r
}

// Create registers a new tracked filter and returns its ID. IDs are ULIDs,
// unique process-wide with no cross-process meaning.
func (r *Registry) Create(q Query, typ FilterType) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ulid.Make().String()
	r.insertLocked(id, q, typ)
	return id
}

// Restore reinstates an entry under an existing ID, typically after the
// reaper removed it out from under a live poll loop. No-op if the ID is
// still present.
func (r *Registry) Restore(id string, q Query, typ FilterType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.filters[id]; exists {
		return
	}
	r.insertLocked(id, q, typ)
}

func (r *Registry) insertLocked(id string, q Query, typ FilterType) {
	now := time.Now()
	r.filters[id] = &TrackedFilter{
		ID:            id,
		Type:          typ,
		Query:         q,
		CreatedAt:     now,
		LastTouchedAt: now,
		Status:        StatusActive,
	}
	r.metrics.ActiveFilters.Set(float64(len(r.filters)))
	r.metrics.FiltersByType.WithLabelValues(string(typ)).Inc()
	r.metrics.FiltersCreatedTotal.WithLabelValues(string(typ)).Inc()
}

// Get returns a snapshot of the entry and refreshes its touch time.
func (r *Registry) Get(id string) (TrackedFilter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, exists := r.filters[id]
	if !exists {
		return TrackedFilter{}, false
	}
	f.LastTouchedAt = time.Now()
	return *f, true
}

// Advance raises the filter's high-water-mark to block. The mark never
// moves backwards; a lower value is ignored.
func (r *Registry) Advance(id string, block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, exists := r.filters[id]
	if !exists {
		return
	}
	if f.LastSyncedBlock == nil || block > *f.LastSyncedBlock {
		b := block
		f.LastSyncedBlock = &b
	}
	f.LastTouchedAt = time.Now()
}

// MarkExpired flags the entry as awaiting recreation.
func (r *Registry) MarkExpired(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, exists := r.filters[id]; exists {
		f.Status = StatusExpired
	}
}

// Refresh returns an expired entry to active with a fresh creation time and
// the given high-water-mark, completing a recreation.
func (r *Registry) Refresh(id string, synced uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, exists := r.filters[id]
	if !exists {
		return
	}
	now := time.Now()
	b := synced
	if f.LastSyncedBlock == nil || synced > *f.LastSyncedBlock {
		f.LastSyncedBlock = &b
	}
	f.Status = StatusActive
	f.CreatedAt = now
	f.LastTouchedAt = now
	r.metrics.FiltersRecreatedTotal.Inc()
}

// Remove deletes the entry. Removing an unknown ID is a no-op, so removal
// is idempotent. Reports whether an entry was actually deleted.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) bool {
	f, exists := r.filters[id]
	if !exists {
		return false
	}
	f.Status = StatusRemoved
	delete(r.filters, id)
	r.metrics.ActiveFilters.Set(float64(len(r.filters)))
	r.metrics.FiltersByType.WithLabelValues(string(f.Type)).Dec()
	return true
}

// RemoveAll empties the registry.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.filters {
		r.removeLocked(id)
	}
}

// Count returns the number of tracked filters.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filters)
}

// Snapshot returns copies of all entries.
func (r *Registry) Snapshot() []TrackedFilter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TrackedFilter, 0, len(r.filters))
	for _, f := range r.filters {
		out = append(out, *f)
	}
	return out
}

// Close stops the reaper and waits for it to exit.
func (r *Registry) Close() {
	r.cancel()
	<-r.done
}

// reapLoop periodically evicts stale filters until Close.
func (r *Registry) reapLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

// reap removes every entry older than the timeout. Age is measured from
// creation, not last activity: an actively advancing filter is still torn
// down once its absolute age exceeds the timeout, and any attached poll
// loop is expected to transparently restore it.
func (r *Registry) reap() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, f := range r.filters {
		if now.Sub(f.CreatedAt) > r.timeout {
			r.logger.Debug("reaping stale filter",
				zap.String("id", id),
				zap.String("type", string(f.Type)),
				zap.Time("created_at", f.CreatedAt))
			r.removeLocked(id)
			r.metrics.FiltersReapedTotal.Inc()
		}
	}
}
