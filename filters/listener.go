package filters

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/soyaya/logwatch/client"
)

// LogFunc receives one event log. It is called sequentially, in log order,
// from the listener's own goroutine.
type LogFunc func(types.Log)

// listener is a per-subscription poll loop. Each cycle resolves the chain
// head, fetches the blocks above the filter's high-water-mark and delivers
// any logs to the callback. Cycles are strictly sequential; the next one is
// scheduled only after the current body completes.
type listener struct {
	id       string
	query    Query
	onLog    LogFunc
	interval time.Duration
	lookback uint64
	maxRange uint64

	registry *Registry
	fetcher  *Fetcher
	logger   *zap.Logger
	metrics  *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
}

func newListener(id string, q Query, onLog LogFunc, opts Options, registry *Registry, fetcher *Fetcher, logger *zap.Logger, metrics *Metrics) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &listener{
		id:       id,
		query:    q,
		onLog:    onLog,
		interval: opts.PollingInterval,
		lookback: opts.LookbackBlocks,
		maxRange: opts.MaxBlockRange,
		registry: registry,
		fetcher:  fetcher,
		logger:   logger.With(zap.String("listener_id", id)),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// run drives the poll loop until stop. A flat timer loop rather than
// timer-rescheduling recursion, so long-lived listeners cost constant stack.
func (l *listener) run() {
	defer close(l.done)

	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-timer.C:
		}

		next := l.cycle()
		if l.ctx.Err() != nil {
			return
		}
		timer.Reset(next)
	}
}

// stop cancels the loop. A cycle already in flight completes but its result
// is discarded and nothing is rescheduled.
func (l *listener) stop() {
	l.stopOnce.Do(l.cancel)
}

// wait blocks until the loop goroutine has exited or ctx expires.
func (l *listener) wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cycle performs one poll and returns the delay before the next one:
// the normal cadence, or double it after an unexpected error.
func (l *listener) cycle() time.Duration {
	head, err := l.fetcher.head(l.ctx)
	if err != nil {
		if l.ctx.Err() != nil {
			return l.interval
		}
		l.logger.Warn("failed to resolve chain head, backing off", zap.Error(err))
		l.metrics.ListenerErrorsTotal.Inc()
		return 2 * l.interval
	}

	entry, ok := l.registry.Get(l.id)
	if !ok {
		// The reaper removed the backing entry; restore it and start over
		// from the lookback window on the next pass through this cycle.
		l.registry.Restore(l.id, l.query, TypeListener)
		entry, ok = l.registry.Get(l.id)
		if !ok {
			return l.interval
		}
	}

	var from uint64
	if entry.LastSyncedBlock == nil {
		// First poll: start a bounded lookback behind the head instead of
		// the caller's original fromBlock, which could be an unbounded
		// backlog.
		if head > l.lookback {
			from = head - l.lookback
		}
	} else {
		if head <= *entry.LastSyncedBlock {
			return l.interval
		}
		from = *entry.LastSyncedBlock + 1
	}

	to := head
	// The fetcher chunks on its own; this clamp additionally bounds how far
	// a single cycle advances.
	if to-from+1 > l.maxRange {
		to = from + l.maxRange - 1
	}

	logs, err := l.fetcher.FetchRange(l.ctx, l.query, from, to)
	if err != nil {
		if l.ctx.Err() != nil {
			return l.interval
		}
		if client.IsFilterNotFound(err) {
			// No server-side filter exists on this path, so this is not
			// expected in steady state; treat it as recoverable.
			l.logger.Debug("filter not found during poll, will retry", zap.Error(err))
			return l.interval
		}
		l.logger.Warn("poll fetch failed, backing off",
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Error(err))
		l.metrics.ListenerErrorsTotal.Inc()
		return 2 * l.interval
	}

	if l.ctx.Err() != nil {
		// Cancelled while the fetch was in flight; discard the result.
		return l.interval
	}

	for i := range logs {
		l.deliver(logs[i])
	}
	l.metrics.LogsDeliveredTotal.Add(float64(len(logs)))

	// Advance regardless of what the callback did with the logs.
	l.registry.Advance(l.id, to)

	return l.interval
}

// deliver invokes the callback, containing any panic so one bad callback
// cannot stop the loop or block high-water-mark advancement.
func (l *listener) deliver(log types.Log) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("listener callback panicked",
				zap.Any("panic", rec),
				zap.Uint64("block", log.BlockNumber),
				zap.Uint("log_index", log.Index))
			l.metrics.ListenerErrorsTotal.Inc()
		}
	}()
	l.onLog(log)
}
