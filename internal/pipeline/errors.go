package pipeline

import (
	"context"
	"errors"
	"net"
)

// Error taxonomy for fetch classification. Per-item errors never abort a
// collection; per-collection errors never abort the run.
var (
	// ErrProtocolRejection marks a server-side refusal (non-2xx status).
	ErrProtocolRejection = errors.New("protocol rejection")

	// ErrContentMismatch marks a 2xx response whose body is not the media it
	// claims to be (typically an HTML error page served with 200).
	ErrContentMismatch = errors.New("content mismatch")

	// ErrRenderFailed marks a fallback capture failure or timeout. Render
	// failures are terminal; the session cost is too high to retry blind.
	ErrRenderFailed = errors.New("render failed")

	// ErrNotRestartable is returned when a discovery loop is run twice.
	ErrNotRestartable = errors.New("discovery loop is not restartable")
)

// IsTransient reports whether a primary-path error is worth retrying and,
// once retries are exhausted, escalating to the fallback path. Protocol and
// content rejections are deliberate server decisions and are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProtocolRejection) || errors.Is(err, ErrContentMismatch) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}
