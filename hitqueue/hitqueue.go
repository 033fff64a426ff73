// Package hitqueue durably buffers outbound units of work and feeds them to
// a processor one at a time, retrying recoverable failures. Hits are removed
// only after the processor acknowledges success, so processing is
// at-least-once across restarts; idempotence keys belong in the payload.
package hitqueue

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/pulse/internal/idgen"
	"github.com/groblegark/pulse/queue"
)

// DefaultRetryInterval is used when the processor returns a non-positive
// per-hit interval.
const DefaultRetryInterval = 30 * time.Second

// NewHit builds a timestamped hit entry with a fresh ht- unique ID.
func NewHit(payload []byte) (queue.Entry, error) {
	id, err := idgen.GenerateWithPrefix(idgen.HitPrefix)
	if err != nil {
		return queue.Entry{}, err
	}
	return queue.NewEntry(id, payload), nil
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("hitqueue: closed")

// Processor consumes hits. Process must eventually call done exactly once:
// true removes the hit, false leaves it queued for retry after
// RetryInterval. Only one hit per queue is ever in flight.
type Processor interface {
	Process(hit queue.Entry, done func(success bool))
	RetryInterval(hit queue.Entry) time.Duration
}

// PersistentHitQueue drives a Processor over a DataQueue with a single
// worker. It starts suspended; call BeginProcessing (or feed it an opt-in
// privacy change) to start the worker.
type PersistentHitQueue struct {
	q   queue.DataQueue
	p   Processor
	log *slog.Logger

	mu         sync.Mutex
	suspended  bool
	closed     bool
	working    bool
	draining   bool
	batchLimit int
	gen        uint64 // bumped by Clear; guards stale removes

	wake chan struct{}
}

// New creates a suspended hit queue over q. A nil logger falls back to
// slog.Default().
func New(q queue.DataQueue, p Processor, logger *slog.Logger) *PersistentHitQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistentHitQueue{
		q:         q,
		p:         p,
		log:       logger,
		suspended: true,
		wake:      make(chan struct{}, 1),
	}
}

// Queue appends the hit and, unless suspended, nudges the worker. Returns
// immediately.
func (h *PersistentHitQueue) Queue(hit queue.Entry) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.mu.Unlock()

	if err := h.q.Add(hit); err != nil {
		return err
	}
	h.trigger()
	return nil
}

// BeginProcessing starts (or resumes) the worker.
func (h *PersistentHitQueue) BeginProcessing() {
	h.mu.Lock()
	h.suspended = false
	h.mu.Unlock()
	h.trigger()
}

// Suspend pauses the worker after the in-flight hit, if any, completes.
// Queued hits accumulate.
func (h *PersistentHitQueue) Suspend() {
	h.mu.Lock()
	h.suspended = true
	h.mu.Unlock()
	h.signalWake()
}

// SetBatchLimit makes the worker wait until at least n hits are queued
// before draining the backlog. Zero processes each hit as it arrives.
func (h *PersistentHitQueue) SetBatchLimit(n int) {
	h.mu.Lock()
	h.batchLimit = n
	h.mu.Unlock()
	h.trigger()
}

// Clear removes every queued hit. An in-flight hit completes but is not
// removed again afterwards.
func (h *PersistentHitQueue) Clear() error {
	h.mu.Lock()
	h.gen++
	h.mu.Unlock()
	return h.q.Clear()
}

// Count returns the number of queued hits; errors count as zero.
func (h *PersistentHitQueue) Count() int {
	n, err := h.q.Count()
	if err != nil {
		h.log.Error("hit queue count failed", "error", err)
		return 0
	}
	return n
}

// Close suspends the worker and closes the underlying queue.
func (h *PersistentHitQueue) Close() error {
	h.mu.Lock()
	h.closed = true
	h.suspended = true
	h.mu.Unlock()
	h.signalWake()
	return h.q.Close()
}

// HandlePrivacyChange applies the privacy gate: opt-in resumes, unknown
// suspends, opt-out suspends and purges.
func (h *PersistentHitQueue) HandlePrivacyChange(status PrivacyStatus) {
	switch status {
	case OptedIn:
		h.BeginProcessing()
	case OptedOut:
		h.Suspend()
		if err := h.Clear(); err != nil {
			h.log.Error("clearing hit queue on opt-out failed", "error", err)
		}
	default:
		h.Suspend()
	}
}

// trigger starts the worker if it should be running and is not already.
func (h *PersistentHitQueue) trigger() {
	h.mu.Lock()
	if h.suspended || h.closed || h.working {
		h.mu.Unlock()
		return
	}
	h.working = true
	h.mu.Unlock()
	go h.work()
}

func (h *PersistentHitQueue) signalWake() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// park releases the worker slot and re-triggers if hits slipped in between
// the empty check and the release.
func (h *PersistentHitQueue) park() {
	h.mu.Lock()
	h.draining = false
	h.working = false
	limit := h.batchLimit
	h.mu.Unlock()

	if n, err := h.q.Count(); err == nil && n > 0 && n >= limit {
		h.trigger()
	}
}

func (h *PersistentHitQueue) work() {
	for {
		h.mu.Lock()
		if h.suspended || h.closed {
			h.working = false
			h.draining = false
			h.mu.Unlock()
			return
		}
		limit := h.batchLimit
		draining := h.draining
		myGen := h.gen
		h.mu.Unlock()

		n, err := h.q.Count()
		if err != nil || n == 0 {
			if err != nil && !errors.Is(err, queue.ErrClosed) {
				h.log.Error("hit queue count failed", "error", err)
			}
			h.park()
			return
		}
		if !draining && limit > 0 && n < limit {
			// Below the batch threshold; wait for more hits.
			h.park()
			return
		}
		if limit > 0 && !draining {
			h.mu.Lock()
			h.draining = true
			h.mu.Unlock()
		}

		hit, err := h.q.Peek()
		if err != nil || hit == nil {
			h.park()
			return
		}

		done := make(chan bool, 1)
		h.p.Process(*hit, func(success bool) {
			select {
			case done <- success:
			default:
			}
		})
		success := <-done

		if success {
			h.mu.Lock()
			stale := h.gen != myGen
			h.mu.Unlock()
			if !stale {
				if err := h.q.Remove(); err != nil && !errors.Is(err, queue.ErrClosed) {
					h.log.Error("removing processed hit failed", "uniqueID", hit.UniqueID, "error", err)
				}
			}
			continue
		}

		interval := h.p.RetryInterval(*hit)
		if interval <= 0 {
			interval = DefaultRetryInterval
		}
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-h.wake:
			timer.Stop()
		}
	}
}
