package client

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CallFunc performs a single JSON-RPC call against the endpoint at the
// given index, decoding the response into result.
type CallFunc func(ctx context.Context, endpoint int, result interface{}, method string, args ...interface{}) error

// Executor wraps raw JSON-RPC calls with bounded retry and linear backoff.
//
// A call is attempted maxRetries+1 times. Within one attempt every
// configured endpoint is tried once, starting from a rotating offset, so
// that a healthy alternate endpoint is reached before any backoff delay is
// paid. The delay between attempt n and n+1 is retryDelay * (n+1).
type Executor struct {
	call       CallFunc
	endpoints  int
	maxRetries int
	retryDelay time.Duration
	rotation   atomic.Uint64
	logger     *zap.Logger
}

// NewExecutor creates an executor over the given number of endpoints.
func NewExecutor(call CallFunc, endpoints, maxRetries int, retryDelay time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if endpoints < 1 {
		endpoints = 1
	}
	return &Executor{
		call:       call,
		endpoints:  endpoints,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Execute performs the call, retrying on any error. The same method and
// params are used for every attempt; request mutation (such as narrowing a
// block range) is the caller's concern. It fails with the last underlying
// error once every endpoint has failed for every attempt.
func (e *Executor) Execute(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	var lastErr error

	offset := int(e.rotation.Add(1) - 1)

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.retryDelay * time.Duration(attempt)
			e.logger.Warn("retrying RPC call",
				zap.String("method", method),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}

		for i := 0; i < e.endpoints; i++ {
			endpoint := (offset + i) % e.endpoints
			err := e.call(ctx, endpoint, result, method, args...)
			if err == nil {
				return nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return lastErr
			}
		}
	}

	return lastErr
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
