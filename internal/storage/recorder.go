package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/models"
	"github.com/your-org/neuraflow/internal/observability"
)

// Recorder buffers entries and writes them to an EntryStore in batches.
// A failed batch stays buffered and is retried on the next flush.
type Recorder struct {
	store      EntryStore
	batching   bool
	batchSize  int
	interval   time.Duration
	maxPending int
	clock      clock.Clock

	flushMu sync.Mutex // serialises writes
	mu      sync.Mutex
	pending []models.Entry
}

// NewRecorder creates a recorder for store. A nil clock means wall time.
func NewRecorder(store EntryStore, cfg config.StorageConfig, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	batchSize := max(cfg.BatchSize, 1)
	return &Recorder{
		store:      store,
		batching:   cfg.Batching(),
		batchSize:  batchSize,
		interval:   cfg.FlushInterval,
		maxPending: batchSize * 100,
		clock:      clk,
	}
}

// Record buffers e and flushes when the batch is full or batching is off.
func (r *Recorder) Record(ctx context.Context, e models.Entry) error {
	r.mu.Lock()
	r.pending = append(r.pending, e)
	if over := len(r.pending) - r.maxPending; over > 0 {
		slog.Error("entry buffer full, dropping oldest", "dropped", over)
		r.pending = append(r.pending[:0:0], r.pending[over:]...)
	}
	n := len(r.pending)
	r.mu.Unlock()
	observability.RecorderPending.Set(float64(n))

	if !r.batching || n >= r.batchSize {
		return r.Flush(ctx)
	}
	return nil
}

// Flush writes everything buffered so far.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	inserted, err := r.store.InsertEntries(ctx, batch)
	if err != nil {
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		n := len(r.pending)
		r.mu.Unlock()
		observability.RecorderPending.Set(float64(n))
		return fmt.Errorf("flush %d entries: %w", len(batch), err)
	}

	observability.EntriesRecorded.Add(float64(inserted))
	observability.RecorderPending.Set(float64(r.Pending()))
	if dup := len(batch) - inserted; dup > 0 {
		slog.Debug("skipped duplicate entries", "count", dup)
	}
	return nil
}

// Pending returns the number of buffered entries.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run flushes on every interval until ctx is done, then flushes once more.
func (r *Recorder) Run(ctx context.Context) {
	if r.interval <= 0 {
		<-ctx.Done()
		r.finalFlush()
		return
	}

	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.finalFlush()
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				slog.Warn("periodic flush", "error", err, "pending", r.Pending())
			}
		}
	}
}

// Close forces a final flush.
func (r *Recorder) Close(ctx context.Context) error {
	return r.Flush(ctx)
}

func (r *Recorder) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		slog.Error("final flush", "error", err, "pending", r.Pending())
	}
}
