package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/PoiScript/sagiri/internal/db"
)

// Refresher reloads the user registry.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// RunRefresher calls r.Refresh every interval until ctx is cancelled.
// Failures are logged; the loop keeps going.
func RunRefresher(ctx context.Context, r Refresher, every time.Duration, events *EventLog, processID *int64, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := r.Refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("registry refresh failed", zap.String("error", errorText(err)))
			continue
		}
		events.Log(processID, db.EventRegistryRefreshed, map[string]any{"users": n, "trigger": "timer"})
		logger.Info("registry refreshed", zap.Int("users", n))
	}
}
