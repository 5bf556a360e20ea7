package processor

import (
	"context"
	"fmt"
	"time"
)

// Watermark is the timestamp boundary below which all source events are
// considered fully processed. It is derived, not durably stored: bootstrapped
// from the processed index and advanced in memory by the single ingestion
// loop, so no locking is needed.
type Watermark struct {
	value time.Time
}

func NewWatermark(t time.Time) *Watermark {
	return &Watermark{value: t}
}

// BootstrapWatermark computes the initial watermark from the most recent
// processed timestamp. An empty or missing index falls back to now minus the
// lookback window. A crash between write and advance therefore reprocesses at
// most one batch, which the idempotent upsert-by-id absorbs.
func BootstrapWatermark(ctx context.Context, dest DestinationStore, index, field string, lookback time.Duration) (*Watermark, error) {
	latest, found, err := dest.LatestTimestamp(ctx, index, field)
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap watermark: %w", err)
	}
	if !found {
		latest = time.Now().UTC().Add(-lookback)
	}
	return NewWatermark(latest), nil
}

func (w *Watermark) Value() time.Time {
	return w.value
}

// Advance moves the watermark forward. Values at or before the current
// watermark are ignored so it never regresses.
func (w *Watermark) Advance(t time.Time) bool {
	if t.After(w.value) {
		w.value = t
		return true
	}
	return false
}
