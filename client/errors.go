package client

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind classifies an RPC failure so that callers can branch on error
// category instead of matching message text themselves.
type Kind int

const (
	// KindUnknown is any error that fits no other category.
	KindUnknown Kind = iota

	// KindTransport is a network or HTTP level failure.
	KindTransport

	// KindTimeout is a request that ran out of time, either locally
	// (context deadline) or as reported by the server.
	KindTimeout

	// KindRateLimited is a server-side throttling response.
	KindRateLimited

	// KindFilterNotFound is the "filter not found" class of error some
	// providers return when a server-side filter has silently expired.
	KindFilterNotFound
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindFilterNotFound:
		return "filter_not_found"
	default:
		return "unknown"
	}
}

// Classify maps an RPC error to its Kind. Providers do not agree on error
// codes for these conditions, so classification falls back to message
// substrings; this is the only place in the module that inspects error text.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "filter not found"):
		return KindFilterNotFound
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return KindRateLimited
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}

	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "broken pipe"):
		return KindTransport
	}

	return KindUnknown
}

// IsFilterNotFound reports whether err is the "filter not found" class.
func IsFilterNotFound(err error) bool {
	return Classify(err) == KindFilterNotFound
}

// IsRetryableChunkError reports whether a chunked fetch should skip the
// failing sub-range and continue instead of aborting the whole fetch.
func IsRetryableChunkError(err error) bool {
	k := Classify(err)
	return k == KindTimeout || k == KindRateLimited
}
