package filters

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/soyaya/logwatch/client"
)

// Caller is the RPC capability the filter core consumes. *client.Client
// satisfies it; tests substitute fakes.
type Caller interface {
	Execute(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Fetcher retrieves event logs over a block range, splitting ranges larger
// than maxBlockRange into consecutive bounded chunks. Chunks are fetched
// strictly in ascending order and never in parallel, which bounds RPC load.
type Fetcher struct {
	caller        Caller
	maxBlockRange uint64
	limiter       *rate.Limiter
	logger        *zap.Logger
	metrics       *Metrics
}

// NewFetcher creates a fetcher. chunkDelay paces consecutive chunk requests
// within one fetch to reduce burst load on the endpoint.
func NewFetcher(caller Caller, maxBlockRange uint64, chunkDelay time.Duration, logger *zap.Logger, metrics *Metrics) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBlockRange == 0 {
		maxBlockRange = DefaultMaxBlockRange
	}
	if chunkDelay <= 0 {
		chunkDelay = DefaultChunkDelay
	}
	return &Fetcher{
		caller:        caller,
		maxBlockRange: maxBlockRange,
		limiter:       rate.NewLimiter(rate.Every(chunkDelay), 1),
		logger:        logger,
		metrics:       metrics,
	}
}

// head returns the current chain head block number.
func (f *Fetcher) head(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := f.caller.Execute(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("failed to resolve chain head: %w", err)
	}
	return uint64(head), nil
}

// resolveRange normalizes the symbolic bounds of q to absolute block
// numbers. Resolution happens once per fetch; a long chunked fetch is not
// renormalized against a moving chain head.
func (f *Fetcher) resolveRange(ctx context.Context, q Query) (uint64, uint64, error) {
	var head uint64
	if q.FromBlock == nil || q.ToBlock == nil {
		h, err := f.head(ctx)
		if err != nil {
			return 0, 0, err
		}
		head = h
	}

	from := head
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	to := head
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}

	if from > to {
		return 0, 0, fmt.Errorf("invalid block range [%d, %d]", from, to)
	}
	return from, to, nil
}

// FetchLogs retrieves all logs matching q, resolving symbolic block bounds
// first. Results are ordered by block number then log index, as returned by
// the gateway; chunks are appended in range order so that ordering holds
// across chunk boundaries.
func (f *Fetcher) FetchLogs(ctx context.Context, q Query) ([]types.Log, error) {
	from, to, err := f.resolveRange(ctx, q)
	if err != nil {
		return nil, err
	}
	return f.FetchRange(ctx, q, from, to)
}

// FetchRange retrieves logs matching q's address and topic criteria over
// the absolute range [from, to], chunking as needed.
//
// Chunk failures classified as timeouts or rate limits are logged and
// skipped, trading a coverage gap for forward progress. Any other failure
// aborts the fetch and is returned to the caller.
func (f *Fetcher) FetchRange(ctx context.Context, q Query, from, to uint64) ([]types.Log, error) {
	start := time.Now()
	defer func() {
		f.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	}()

	if to-from+1 <= f.maxBlockRange {
		logs, err := f.getLogs(ctx, q, from, to)
		if err != nil && client.IsFilterNotFound(err) {
			// Nothing server-side to recreate for a range query, so an
			// identical retry is the only sensible response.
			logs, err = f.getLogs(ctx, q, from, to)
		}
		if err != nil {
			return nil, err
		}
		return logs, nil
	}

	var all []types.Log
	for chunkFrom := from; chunkFrom <= to; chunkFrom += f.maxBlockRange {
		chunkTo := chunkFrom + f.maxBlockRange - 1
		if chunkTo > to {
			chunkTo = to
		}

		if chunkFrom > from {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		logs, err := f.getLogs(ctx, q, chunkFrom, chunkTo)
		if err != nil {
			if client.IsRetryableChunkError(err) {
				f.logger.Warn("skipping chunk after tolerated error",
					zap.Uint64("from", chunkFrom),
					zap.Uint64("to", chunkTo),
					zap.String("kind", client.Classify(err).String()),
					zap.Error(err))
				f.metrics.ChunksSkippedTotal.WithLabelValues(client.Classify(err).String()).Inc()
				continue
			}
			return nil, fmt.Errorf("failed to fetch logs for range [%d, %d]: %w", chunkFrom, chunkTo, err)
		}
		all = append(all, logs...)
	}
	return all, nil
}

// getLogs issues a single eth_getLogs call for [from, to].
func (f *Fetcher) getLogs(ctx context.Context, q Query, from, to uint64) ([]types.Log, error) {
	var logs []types.Log
	if err := f.caller.Execute(ctx, &logs, "eth_getLogs", toFilterArg(q, from, to)); err != nil {
		return nil, err
	}
	f.metrics.ChunksTotal.Inc()
	return logs, nil
}
