package ingest

import (
	"context"
	"log/slog"
	"time"

	"authwatch/internal/metrics"
	"authwatch/internal/model"
)

// SendNonBlocking drops the line when out is full so that a slow engine never
// stalls a listener.
func SendNonBlocking(ctx context.Context, out chan<- model.RawLine, line model.RawLine, logger *slog.Logger) bool {
	select {
	case out <- line:
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.ObserveDropped(line.Source)
		if logger != nil {
			logger.Warn("line channel full, dropping line", "source", line.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
