package access

import (
	"context"
	"log/slog"
	"time"

	"github.com/kavelund/accessgate/pkg/log"
)

// ExpirationMonitor deactivates rules whose validity window has passed and prunes
// stale rate-limit windows. It runs on its own schedule, decoupled from request
// handling, and holds no lock the evaluation path depends on.
type ExpirationMonitor struct {
	rules   *Rules
	limiter *WindowLimiter
}

func NewExpirationMonitor(rules *Rules, limiter *WindowLimiter) *ExpirationMonitor {
	return &ExpirationMonitor{rules: rules, limiter: limiter}
}

func (monitor *ExpirationMonitor) Update(ctx context.Context) {
	now := time.Now()

	if _, errCleanup := monitor.rules.CleanupExpired(ctx, now); errCleanup != nil {
		slog.Error("Failed to deactivate expired rules", log.ErrAttr(errCleanup))
	}

	if pruned := monitor.limiter.Prune(now); pruned > 0 {
		slog.Debug("Pruned elapsed rate windows", slog.Int("count", pruned))
	}
}
