package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeGateway records every call and fails a scripted number of times
// before succeeding.
type fakeGateway struct {
	mu        sync.Mutex
	failures  int
	calls     int
	endpoints []int
	err       error
}

func (g *fakeGateway) call(ctx context.Context, endpoint int, result interface{}, method string, args ...interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.endpoints = append(g.endpoints, endpoint)
	if g.calls <= g.failures {
		return g.err
	}
	if p, ok := result.(*string); ok {
		*p = "ok"
	}
	return nil
}

func TestExecutorSucceedsFirstAttempt(t *testing.T) {
	gw := &fakeGateway{}
	exec := NewExecutor(gw.call, 1, 3, time.Millisecond, zap.NewNop())

	var result string
	err := exec.Execute(context.Background(), &result, "eth_blockNumber")
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, gw.calls)
}

func TestExecutorRetriesThenSucceeds(t *testing.T) {
	// k failures with k <= maxRetries succeed on attempt k+1.
	gw := &fakeGateway{failures: 2, err: errors.New("connection reset")}
	exec := NewExecutor(gw.call, 1, 3, time.Millisecond, zap.NewNop())

	var result string
	err := exec.Execute(context.Background(), &result, "eth_getLogs")
	require.NoError(t, err)
	assert.Equal(t, 3, gw.calls)
}

func TestExecutorExhaustsRetries(t *testing.T) {
	wantErr := errors.New("boom")
	gw := &fakeGateway{failures: 100, err: wantErr}
	exec := NewExecutor(gw.call, 1, 3, time.Millisecond, zap.NewNop())

	err := exec.Execute(context.Background(), nil, "eth_getLogs")
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	// maxRetries+1 total attempts.
	assert.Equal(t, 4, gw.calls)
}

func TestExecutorLinearBackoff(t *testing.T) {
	gw := &fakeGateway{failures: 2, err: errors.New("boom")}
	exec := NewExecutor(gw.call, 1, 3, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	err := exec.Execute(context.Background(), nil, "eth_getLogs")
	require.NoError(t, err)
	// Delays are retryDelay*1 then retryDelay*2.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestExecutorTriesEveryEndpointBeforeBackoff(t *testing.T) {
	gw := &fakeGateway{failures: 2, err: errors.New("connection refused")}
	exec := NewExecutor(gw.call, 3, 3, time.Hour, zap.NewNop())

	// With three endpoints the first attempt covers all of them, so the
	// call must succeed without ever paying the one-hour backoff.
	done := make(chan error, 1)
	go func() {
		done <- exec.Execute(context.Background(), nil, "eth_getLogs")
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("executor waited for backoff instead of rotating endpoints")
	}
	assert.Equal(t, 3, gw.calls)
	assert.Equal(t, []int{0, 1, 2}, gw.endpoints)
}

func TestExecutorRotatesStartingEndpoint(t *testing.T) {
	gw := &fakeGateway{}
	exec := NewExecutor(gw.call, 3, 0, time.Millisecond, zap.NewNop())

	require.NoError(t, exec.Execute(context.Background(), nil, "eth_blockNumber"))
	require.NoError(t, exec.Execute(context.Background(), nil, "eth_blockNumber"))
	require.NoError(t, exec.Execute(context.Background(), nil, "eth_blockNumber"))
	require.NoError(t, exec.Execute(context.Background(), nil, "eth_blockNumber"))

	assert.Equal(t, []int{0, 1, 2, 0}, gw.endpoints)
}

func TestExecutorHonorsContextCancellation(t *testing.T) {
	gw := &fakeGateway{failures: 100, err: errors.New("boom")}
	exec := NewExecutor(gw.call, 1, 5, time.Hour, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := exec.Execute(ctx, nil, "eth_getLogs")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Minute)
}
