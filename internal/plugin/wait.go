package plugin

import (
	"context"
	"log/slog"
	"time"
)

// DefaultWaitInterval is the polling interval WaitUntil uses when given
// a non-positive one.
const DefaultWaitInterval = time.Second

// WaitUntil polls cond every interval until it returns true, the timeout
// elapses or ctx is done. It reports whether cond became true. A
// non-positive interval falls back to DefaultWaitInterval.
func WaitUntil(ctx context.Context, cond func() bool, interval, timeout time.Duration, logger *slog.Logger, what string) bool {
	if cond() {
		return true
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultWaitInterval
	}

	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Warn("wait interrupted", "for", what, "error", ctx.Err())
			return false
		case <-timer.C:
			if cond() {
				return true
			}
			logger.Warn("timed out waiting", "for", what, "timeout", timeout)
			return false
		case <-ticker.C:
			if cond() {
				return true
			}
			logger.Info("still waiting",
				"for", what,
				"remaining", time.Until(deadline).Round(time.Millisecond),
			)
		}
	}
}
