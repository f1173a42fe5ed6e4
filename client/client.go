package client

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single RPC request when the config does not set one.
const DefaultTimeout = 30 * time.Second

// Client is a JSON-RPC gateway over one or more endpoints. All requests go
// through the retrying Executor; when several endpoints are configured each
// attempt rotates through all of them before a backoff delay is paid.
type Client struct {
	endpoints []string
	conns     []*rpc.Client
	executor  *Executor
	timeout   time.Duration
	logger    *zap.Logger
}

// Config holds client configuration.
type Config struct {
	// Endpoints are the JSON-RPC endpoint URLs, tried in rotation.
	Endpoints []string

	// Timeout bounds a single request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the number of retry rounds after the first attempt.
	MaxRetries int

	// RetryDelay is the base backoff delay, scaled linearly per attempt.
	RetryDelay time.Duration

	Logger *zap.Logger
}

// NewClient dials every configured endpoint and verifies the connection.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conns := make([]*rpc.Client, 0, len(cfg.Endpoints))
	for _, endpoint := range cfg.Endpoints {
		conn, err := rpc.DialContext(ctx, endpoint)
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return nil, fmt.Errorf("failed to dial RPC endpoint %s: %w", endpoint, err)
		}
		conns = append(conns, conn)
	}

	c := &Client{
		endpoints: cfg.Endpoints,
		conns:     conns,
		timeout:   timeout,
		logger:    logger,
	}
	c.executor = NewExecutor(c.callEndpoint, len(conns), cfg.MaxRetries, cfg.RetryDelay, logger)

	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to ping RPC endpoint: %w", err)
	}

	logger.Info("connected to RPC",
		zap.Strings("endpoints", cfg.Endpoints))

	return c, nil
}

// callEndpoint issues one request against a single endpoint, bounded by the
// per-request timeout.
func (c *Client) callEndpoint(ctx context.Context, endpoint int, result interface{}, method string, args ...interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.conns[endpoint].CallContext(callCtx, result, method, args...); err != nil {
		return fmt.Errorf("rpc call %s against %s failed: %w", method, c.endpoints[endpoint], err)
	}
	return nil
}

// Execute performs a raw JSON-RPC call with retry and endpoint rotation.
func (c *Client) Execute(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.executor.Execute(ctx, result, method, args...)
}

// BlockNumber returns the current chain head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := c.Execute(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return uint64(head), nil
}

// Ping verifies the connection by asking for the chain ID.
func (c *Client) Ping(ctx context.Context) error {
	var id hexutil.Big
	return c.Execute(ctx, &id, "eth_chainId")
}

// Close closes every endpoint connection.
func (c *Client) Close() {
	for _, conn := range c.conns {
		conn.Close()
	}
}
