package service

import (
	"context"
	"sync"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/pkg/metrics"
)

// writeJob is one local mutation waiting to reach the remote store.
type writeJob struct {
	doc      *record.Document
	expected time.Time
	done     chan error
}

// writeResult reports a settled batch back to the event loop.
type writeResult struct {
	jobs     []writeJob
	version  time.Time
	expected time.Time
	err      error
}

// writer sends remote writes one at a time, in mutation order. Jobs queued
// while a write is in flight are folded into a single write of the newest
// document, versioned against the oldest job's expectation.
type writer struct {
	key     string
	store   record.RemoteStore
	timeout time.Duration
	report  func(writeResult) bool

	mu     sync.Mutex
	queue  []writeJob
	signal chan struct{}

	// after a failed write the remote version did not move, so a job built
	// on the unwritten document must carry the older expectation forward
	failedVersion  time.Time
	failedExpected time.Time
}

func newWriter(key string, store record.RemoteStore, timeout time.Duration, report func(writeResult) bool) *writer {
	return &writer{
		key:     key,
		store:   store,
		timeout: timeout,
		report:  report,
		signal:  make(chan struct{}, 1),
	}
}

func (w *writer) enqueue(j writeJob) {
	w.mu.Lock()
	w.queue = append(w.queue, j)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *writer) take() []writeJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := w.queue
	w.queue = nil
	return batch
}

func (w *writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, j := range w.take() {
				j.done <- record.ErrClosed
			}
			return
		case <-w.signal:
		}
		for {
			batch := w.take()
			if len(batch) == 0 {
				break
			}
			res := w.write(ctx, batch)
			if !w.report(res) {
				for _, j := range batch {
					j.done <- record.ErrClosed
				}
			}
		}
	}
}

func (w *writer) write(ctx context.Context, batch []writeJob) writeResult {
	if len(batch) > 1 {
		metrics.CoalescedWrites.Add(float64(len(batch) - 1))
	}
	doc := batch[len(batch)-1].doc
	expected := batch[0].expected
	if !w.failedVersion.IsZero() && expected.Equal(w.failedVersion) {
		expected = w.failedExpected
	}

	wctx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	start := time.Now()
	err := w.store.Write(wctx, w.key, doc, expected)
	metrics.RemoteWriteDuration.Observe(time.Since(start).Seconds())

	if err != nil && !record.IsConflict(err) {
		w.failedVersion = doc.LastUpdated
		w.failedExpected = expected
	} else {
		w.failedVersion = time.Time{}
		w.failedExpected = time.Time{}
	}
	return writeResult{jobs: batch, version: doc.LastUpdated, expected: expected, err: err}
}
