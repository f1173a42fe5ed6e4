package filters

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults for the manager configuration surface.
const (
	DefaultFilterTimeout   = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
	DefaultPollingInterval = 4 * time.Second
	DefaultMaxBlockRange   = 2000
	DefaultLookbackBlocks  = 10
	DefaultChunkDelay      = 100 * time.Millisecond
)

// Options configures a Manager. The zero value is usable; every field
// defaults as documented.
type Options struct {
	// FilterTimeout is the absolute age after which a tracked filter is
	// reaped, measured from creation rather than last activity.
	FilterTimeout time.Duration

	// CleanupInterval is the cadence of the stale filter reaper.
	CleanupInterval time.Duration

	// PollingInterval is the cadence of listener poll loops.
	PollingInterval time.Duration

	// MaxBlockRange caps the number of blocks covered by a single
	// eth_getLogs request; wider ranges are chunked.
	MaxBlockRange uint64

	// LookbackBlocks is how far behind the chain head a listener's first
	// poll starts, bounding the initial backlog fetch.
	LookbackBlocks uint64

	// ChunkDelay paces consecutive chunk requests within one fetch.
	ChunkDelay time.Duration
}

// withDefaults returns a copy of o with zero fields replaced by defaults.
func (o Options) withDefaults() Options {
	if o.FilterTimeout <= 0 {
		o.FilterTimeout = DefaultFilterTimeout
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.PollingInterval <= 0 {
		o.PollingInterval = DefaultPollingInterval
	}
	if o.MaxBlockRange == 0 {
		o.MaxBlockRange = DefaultMaxBlockRange
	}
	if o.LookbackBlocks == 0 {
		o.LookbackBlocks = DefaultLookbackBlocks
	}
	if o.ChunkDelay <= 0 {
		o.ChunkDelay = DefaultChunkDelay
	}
	return o
}

// ensureMetrics returns m, or a metrics set bound to a private registry so
// that instrumented code never has to nil-check.
func ensureMetrics(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return NewMetrics("", prometheus.NewRegistry())
}
