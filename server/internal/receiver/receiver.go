package receiver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cyberpulse/cyberpulse/pkg/ingest"
	"github.com/cyberpulse/cyberpulse/pkg/types"
	"github.com/cyberpulse/cyberpulse/server/internal/metrics"
	"github.com/cyberpulse/cyberpulse/server/internal/store"
)

// ErrEmptyBatch is returned when a batch carries no rows at all.
var ErrEmptyBatch = errors.New("batch contains no events")

// Archiver persists accepted events.
type Archiver interface {
	Insert(ctx context.Context, batchID string, events []types.Event, receivedAt time.Time) error
}

// Detector is notified after every accepted batch.
type Detector interface {
	Trigger()
}

// Ack summarises an accepted batch.
type Ack struct {
	BatchID  string `json:"batch_id"`
	Accepted int    `json:"accepted"`
	Dropped  int    `json:"dropped"`
}

// Receiver validates event batches and writes them to the store.
type Receiver struct {
	store    *store.Store
	archive  Archiver         // may be nil
	detector Detector         // may be nil
	metrics  *metrics.Metrics // may be nil
	now      func() time.Time
}

// New creates a Receiver that writes accepted batches to st. arch, det and m
// may be nil.
func New(st *store.Store, arch Archiver, det Detector, m *metrics.Metrics) *Receiver {
	return &Receiver{store: st, archive: arch, detector: det, metrics: m, now: time.Now}
}

// Ingest stores b. A batch whose rows were all dropped is accepted with zero
// events; only a batch with no rows at all is rejected. Archive failures are
// logged and do not fail the batch.
func (r *Receiver) Ingest(ctx context.Context, b *ingest.Batch) (Ack, error) {
	if len(b.Events) == 0 && b.Dropped == 0 {
		return Ack{}, ErrEmptyBatch
	}

	now := r.now()
	r.store.AppendAt(b.Events, now)

	if r.archive != nil && len(b.Events) > 0 {
		if err := r.archive.Insert(ctx, b.ID, b.Events, now); err != nil {
			slog.Error("receiver: archive insert failed", "batch_id", b.ID, "err", err)
		}
	}

	if r.metrics != nil {
		r.metrics.BatchesReceived.Inc()
		r.metrics.EventsDropped.Add(float64(b.Dropped))
		for _, ev := range b.Events {
			r.metrics.EventsIngested.WithLabelValues(string(ev.Type)).Inc()
		}
		r.metrics.StoreEvents.Set(float64(r.store.Count()))
	}

	slog.Debug("receiver: batch stored",
		"batch_id", b.ID,
		"accepted", len(b.Events),
		"dropped", b.Dropped,
	)

	if r.detector != nil && len(b.Events) > 0 {
		r.detector.Trigger()
	}
	return Ack{BatchID: b.ID, Accepted: len(b.Events), Dropped: b.Dropped}, nil
}
