// Package filters delivers blockchain event logs without relying on
// server-side filter state. Some JSON-RPC providers silently expire
// persistent filters, so every lookup here is re-derived from block ranges:
// large ranges are chunked, transient failures retried, and each tracked
// filter carries its own high-water-mark of delivered blocks.
package filters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/soyaya/logwatch/client"
)

// Stats is a point-in-time snapshot of the manager's tracked filters.
type Stats struct {
	ActiveFilters int
	// OldestCreatedAt is the zero time when no filters are tracked.
	OldestCreatedAt time.Time
	CountsByType    map[FilterType]int
}

// Manager is the caller-facing facade. It owns the registry, the reaper and
// all listener poll loops.
type Manager struct {
	opts     Options
	fetcher  *Fetcher
	registry *Registry
	logger   *zap.Logger
	metrics  *Metrics

	mu        sync.Mutex
	listeners map[string]*listener
	closed    bool
}

// NewManager creates a manager on top of the given RPC caller. A nil
// metrics set records into a private throwaway registry.
func NewManager(caller Caller, opts Options, logger *zap.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	metrics = ensureMetrics(metrics)

	return &Manager{
		opts:      opts,
		fetcher:   NewFetcher(caller, opts.MaxBlockRange, opts.ChunkDelay, logger, metrics),
		registry:  NewRegistry(opts.FilterTimeout, opts.CleanupInterval, logger, metrics),
		logger:    logger,
		metrics:   metrics,
		listeners: make(map[string]*listener),
	}
}

// ErrClosed is returned for operations on a closed manager.
var ErrClosed = fmt.Errorf("filter manager is closed")

// CreateFilter registers a tracked filter and eagerly performs its first
// fetch, returning the new filter ID together with the initial logs. The
// filter's high-water-mark is set to the upper bound of that fetch.
func (m *Manager) CreateFilter(ctx context.Context, q Query) (string, []types.Log, error) {
	if m.isClosed() {
		return "", nil, ErrClosed
	}

	from, to, err := m.fetcher.resolveRange(ctx, q)
	if err != nil {
		return "", nil, err
	}
	logs, err := m.fetcher.FetchRange(ctx, q, from, to)
	if err != nil {
		return "", nil, err
	}

	id := m.registry.Create(q, TypeFilter)
	m.registry.Advance(id, to)

	m.logger.Debug("created filter",
		zap.String("id", id),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("logs", len(logs)))

	return id, logs, nil
}

// FilterChanges returns the logs that arrived since the filter's last sync.
// An unknown ID yields an empty result, not an error: from the caller's
// point of view an expired filter simply has no more changes.
func (m *Manager) FilterChanges(ctx context.Context, id string) ([]types.Log, error) {
	entry, ok := m.registry.Get(id)
	if !ok {
		return nil, nil
	}

	head, err := m.fetcher.head(ctx)
	if err != nil {
		return nil, err
	}

	var from uint64
	switch {
	case entry.LastSyncedBlock != nil:
		if head <= *entry.LastSyncedBlock {
			return nil, nil
		}
		from = *entry.LastSyncedBlock + 1
	case entry.Query.FromBlock != nil:
		from = entry.Query.FromBlock.Uint64()
	default:
		from = head
	}
	if from > head {
		return nil, nil
	}

	logs, err := m.fetcher.FetchRange(ctx, entry.Query, from, head)
	if err != nil {
		return m.recreate(ctx, entry, from, head, err)
	}

	m.registry.Advance(id, head)
	m.metrics.LogsDeliveredTotal.Add(float64(len(logs)))
	return logs, nil
}

// recreate handles the legacy "filter not found" path: re-fetch from the
// last synced block and return the filter to active with a fresh creation
// time. If recreation itself fails the filter is removed and an empty
// result returned rather than an error, so a live consumer degrades
// silently instead of dying on one failed refresh.
func (m *Manager) recreate(ctx context.Context, entry TrackedFilter, from, head uint64, cause error) ([]types.Log, error) {
	if !client.IsFilterNotFound(cause) {
		return nil, cause
	}

	m.registry.MarkExpired(entry.ID)
	m.logger.Warn("filter expired, recreating",
		zap.String("id", entry.ID),
		zap.Error(cause))

	logs, err := m.fetcher.FetchRange(ctx, entry.Query, from, head)
	if err != nil {
		m.logger.Warn("filter recreation failed, removing",
			zap.String("id", entry.ID),
			zap.Error(err))
		m.registry.Remove(entry.ID)
		return nil, nil
	}

	m.registry.Refresh(entry.ID, head)
	m.metrics.LogsDeliveredTotal.Add(float64(len(logs)))
	return logs, nil
}

// RemoveFilter deletes a tracked filter. Unknown IDs are a no-op.
func (m *Manager) RemoveFilter(id string) {
	m.registry.Remove(id)
}

// WatchLogs starts a background poll loop that invokes onLog for every
// matching log above the loop's high-water-mark. The first poll starts a
// bounded lookback behind the chain head rather than at q.FromBlock. The
// returned function cancels the loop; calling it more than once is safe.
//
// Errors inside the loop are logged and absorbed; the loop only ends on
// cancellation.
func (m *Manager) WatchLogs(q Query, onLog LogFunc) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	id := m.registry.Create(q, TypeListener)
	l := newListener(id, q, onLog, m.opts, m.registry, m.fetcher, m.logger, m.metrics)
	m.listeners[id] = l
	go l.run()

	m.logger.Debug("started listener", zap.String("id", id))

	cancel := func() {
		l.stop()
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
	return cancel, nil
}

// Logs performs a direct chunked fetch for q without creating a registry
// entry.
func (m *Manager) Logs(ctx context.Context, q Query) ([]types.Log, error) {
	logs, err := m.fetcher.FetchLogs(ctx, q)
	if err != nil {
		return nil, err
	}
	m.metrics.LogsDeliveredTotal.Add(float64(len(logs)))
	return logs, nil
}

// Stats reports the current tracked filter population.
func (m *Manager) Stats() Stats {
	snapshot := m.registry.Snapshot()

	stats := Stats{
		ActiveFilters: len(snapshot),
		CountsByType:  make(map[FilterType]int),
	}
	for _, f := range snapshot {
		stats.CountsByType[f.Type]++
		if stats.OldestCreatedAt.IsZero() || f.CreatedAt.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = f.CreatedAt
		}
	}
	return stats
}

// Close cancels the reaper and every listener, removes all registry entries
// and waits for the loops to settle. Teardown is best-effort: a listener
// that does not exit before ctx expires is logged and abandoned rather than
// blocking the rest.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	listeners := make([]*listener, 0, len(m.listeners))
	for id, l := range m.listeners {
		listeners = append(listeners, l)
		delete(m.listeners, id)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l.stop()
	}
	for _, l := range listeners {
		if err := l.wait(ctx); err != nil {
			m.logger.Warn("listener did not stop before deadline",
				zap.String("id", l.id),
				zap.Error(err))
		}
	}

	m.registry.Close()
	m.registry.RemoveAll()

	m.logger.Info("filter manager closed")
	return ctx.Err()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
