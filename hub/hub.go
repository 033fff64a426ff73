// Package hub implements the event hub: the single dispatcher that stamps
// every event with a sequence number, runs registered preprocessors (the
// rules engine), and fans events out to per-extension serial queues. The
// hub also owns both shared-state registries and the one-shot response
// listener table.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/pulse/event"
	"github.com/groblegark/pulse/extension"
	"github.com/groblegark/pulse/state"
)

var (
	// ErrAlreadyRegistered is returned when an extension name is taken.
	ErrAlreadyRegistered = errors.New("hub: extension already registered")

	// ErrNotRegistered is returned when operating on an unknown extension.
	ErrNotRegistered = errors.New("hub: extension not registered")

	// ErrClosed is returned once the hub has shut down.
	ErrClosed = errors.New("hub: closed")

	// ErrAlreadyDispatched is returned when an event that already carries
	// a sequence number is dispatched again.
	ErrAlreadyDispatched = errors.New("hub: event already dispatched")
)

// Preprocessor sees every event after ingress and before listener matching.
// It may mutate the event's data (returning the event to deliver) and may
// dispatch additional events, which receive later sequence numbers.
type Preprocessor interface {
	Process(e *event.Event) *event.Event
}

// PreprocessorFunc adapts a function to the Preprocessor interface.
type PreprocessorFunc func(e *event.Event) *event.Event

func (f PreprocessorFunc) Process(e *event.Event) *event.Event { return f(e) }

// historySize bounds the ring of recently delivered events kept for
// debugging dumps.
const historySize = 256

// Hub is the event dispatcher. Construct with New; one per Runtime.
type Hub struct {
	log *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	ingress []*event.Event
	seq     uint64
	started bool
	closed  bool
	done    chan struct{}

	extMu      sync.RWMutex
	extensions map[string]*container

	preMu         sync.RWMutex
	preprocessors []Preprocessor

	respMu    sync.Mutex
	responses map[string]*responseEntry

	states    *state.Registry
	xdmStates *state.Registry

	histMu  sync.Mutex
	history []*event.Event
}

type responseEntry struct {
	owner string
	fn    extension.ResponseListener
	timer *time.Timer
}

// New creates a hub and starts its dispatcher. Delivery is gated until
// Start is called. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		log:        logger,
		done:       make(chan struct{}),
		extensions: make(map[string]*container),
		responses:  make(map[string]*responseEntry),
		states:     state.NewRegistry(),
		xdmStates:  state.NewRegistry(),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.dispatchLoop()
	return h
}

// Start opens delivery to all extensions.
func (h *Hub) Start() {
	h.mu.Lock()
	h.started = true
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Stop gates delivery. Dispatch keeps accepting and sequencing events;
// they sit in the ingress queue until Start.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.started = false
	h.mu.Unlock()
}

// Dispatch assigns the event the next sequence number and enqueues it.
// It never blocks on delivery.
func (h *Hub) Dispatch(e *event.Event) error {
	if e == nil {
		return errors.New("hub: nil event")
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if e.Seq() != 0 {
		h.mu.Unlock()
		return ErrAlreadyDispatched
	}
	h.seq++
	e.SetSeq(h.seq)
	h.ingress = append(h.ingress, e)
	h.cond.Broadcast()
	h.mu.Unlock()
	return nil
}

// RegisterPreprocessor installs p ahead of listener matching. Preprocessors
// run in registration order on the dispatcher goroutine.
func (h *Hub) RegisterPreprocessor(p Preprocessor) {
	h.preMu.Lock()
	h.preprocessors = append(h.preprocessors, p)
	h.preMu.Unlock()
}

// RegisterExtension instantiates the factory's extension, runs OnRegistered
// on the extension's own serial queue, and admits it to delivery. It blocks
// until OnRegistered has returned.
func (h *Hub) RegisterExtension(f extension.Factory) error {
	ext := f()
	if ext == nil {
		return errors.New("hub: factory returned nil extension")
	}
	name := ext.Name()
	if name == "" {
		return errors.New("hub: extension has empty name")
	}

	h.extMu.Lock()
	if _, dup := h.extensions[name]; dup {
		h.extMu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	c := newContainer(h, ext)
	h.extensions[name] = c
	h.extMu.Unlock()

	h.states.Register(name)
	h.xdmStates.Register(name)

	registered := make(chan struct{})
	c.enqueueTask(func() {
		ext.OnRegistered(&runtime{h: h, c: c})
		close(registered)
	})
	<-registered

	h.log.Debug("extension registered", "name", name, "version", ext.Version())
	return nil
}

// UnregisterExtension removes the extension: its listeners stop matching,
// its current delivery finishes and its queue stops, OnUnregistered runs on
// the caller's goroutine, then its shared state and pending response
// listeners are dropped.
func (h *Hub) UnregisterExtension(name string) error {
	h.extMu.Lock()
	c, ok := h.extensions[name]
	if !ok {
		h.extMu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	delete(h.extensions, name)
	h.extMu.Unlock()

	c.stop()
	c.ext.OnUnregistered()

	h.states.Unregister(name)
	h.xdmStates.Unregister(name)
	h.cancelResponsesOwnedBy(name)

	h.log.Debug("extension unregistered", "name", name)
	return nil
}

// RegisterResponseListener arms a one-shot listener for the first event
// whose ResponseID equals triggerID. If no such event arrives within
// timeout, fn is invoked with nil and the registration is dropped.
func (h *Hub) RegisterResponseListener(triggerID string, timeout time.Duration, fn extension.ResponseListener) {
	h.registerResponseListener("", triggerID, timeout, fn)
}

func (h *Hub) registerResponseListener(owner, triggerID string, timeout time.Duration, fn extension.ResponseListener) {
	entry := &responseEntry{owner: owner, fn: fn}
	entry.timer = time.AfterFunc(timeout, func() {
		h.respMu.Lock()
		cur, ok := h.responses[triggerID]
		if ok && cur == entry {
			delete(h.responses, triggerID)
		}
		h.respMu.Unlock()
		if ok && cur == entry {
			fn(nil)
		}
	})
	h.respMu.Lock()
	h.responses[triggerID] = entry
	h.respMu.Unlock()
}

func (h *Hub) cancelResponse(triggerID string) {
	h.respMu.Lock()
	if entry, ok := h.responses[triggerID]; ok {
		entry.timer.Stop()
		delete(h.responses, triggerID)
	}
	h.respMu.Unlock()
}

func (h *Hub) cancelResponsesOwnedBy(owner string) {
	h.respMu.Lock()
	for id, entry := range h.responses {
		if entry.owner == owner {
			entry.timer.Stop()
			delete(h.responses, id)
		}
	}
	h.respMu.Unlock()
}

// Shutdown closes ingress and stops the dispatcher, waiting for it until ctx
// is done; events still in the ingress queue are not delivered. It then
// stops every extension queue (a delivery in progress completes, queued
// events are discarded) and runs each extension's OnUnregistered.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.cond.Broadcast()
	h.mu.Unlock()

	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.extMu.Lock()
	containers := make([]*container, 0, len(h.extensions))
	for _, c := range h.extensions {
		containers = append(containers, c)
	}
	h.extensions = make(map[string]*container)
	h.extMu.Unlock()

	for _, c := range containers {
		c.stop()
		c.ext.OnUnregistered()
	}

	h.respMu.Lock()
	for id, entry := range h.responses {
		entry.timer.Stop()
		delete(h.responses, id)
	}
	h.respMu.Unlock()
	return nil
}

// dispatchLoop is the single dispatcher: it pulls events in seq order, runs
// preprocessors, fires response listeners, and schedules delivery onto each
// extension's serial queue.
func (h *Hub) dispatchLoop() {
	defer close(h.done)
	for {
		h.mu.Lock()
		for !h.closed && (!h.started || len(h.ingress) == 0) {
			h.cond.Wait()
		}
		if h.closed {
			h.mu.Unlock()
			return
		}
		e := h.ingress[0]
		h.ingress = h.ingress[1:]
		h.mu.Unlock()

		e = h.preprocess(e)
		h.fireResponseListener(e)
		h.recordHistory(e)

		h.extMu.RLock()
		for _, c := range h.extensions {
			c.enqueueEvent(e)
		}
		h.extMu.RUnlock()
	}
}

func (h *Hub) preprocess(e *event.Event) *event.Event {
	h.preMu.RLock()
	pres := h.preprocessors
	h.preMu.RUnlock()
	for _, p := range pres {
		out := func() (out *event.Event) {
			defer func() {
				if r := recover(); r != nil {
					h.log.Error("preprocessor panic", "event", e.ID, "panic", r)
					out = e
				}
			}()
			return p.Process(e)
		}()
		if out != nil {
			e = out
		}
	}
	return e
}

func (h *Hub) fireResponseListener(e *event.Event) {
	if e.ResponseID == "" {
		return
	}
	h.respMu.Lock()
	entry, ok := h.responses[e.ResponseID]
	if ok {
		delete(h.responses, e.ResponseID)
		entry.timer.Stop()
	}
	h.respMu.Unlock()
	if ok {
		// Response listeners run off the dispatcher so a slow handler
		// cannot stall the timeline.
		go entry.fn(e)
	}
}

func (h *Hub) recordHistory(e *event.Event) {
	h.histMu.Lock()
	h.history = append(h.history, e)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	h.histMu.Unlock()
}

// History returns a copy of the recently dispatched events, oldest first.
func (h *Hub) History() []*event.Event {
	h.histMu.Lock()
	defer h.histMu.Unlock()
	out := make([]*event.Event, len(h.history))
	copy(out, h.history)
	return out
}

// currentSeq is the sequence used for tail writes.
func (h *Hub) currentSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

func (h *Hub) registry(xdm bool) *state.Registry {
	if xdm {
		return h.xdmStates
	}
	return h.states
}

// CreateSharedState publishes owner's state at the event's sequence (or the
// timeline tail when at is nil) and wakes any extension stalled on
// ReadyForEvent.
func (h *Hub) CreateSharedState(owner string, data map[string]any, at *event.Event, xdm bool) error {
	seq := h.currentSeq()
	if at != nil {
		seq = at.Seq()
	}
	if err := h.registry(xdm).Set(owner, seq, event.CloneMap(data)); err != nil {
		return err
	}
	h.notifyStateChange()
	return nil
}

// CreatePendingSharedState reserves owner's slot at the event's sequence
// and returns a one-shot resolver.
func (h *Hub) CreatePendingSharedState(owner string, at *event.Event, xdm bool) (func(map[string]any) error, error) {
	seq := h.currentSeq()
	if at != nil {
		seq = at.Seq()
	}
	resolve, err := h.registry(xdm).SetPending(owner, seq)
	if err != nil {
		return nil, err
	}
	return func(data map[string]any) error {
		if err := resolve(event.CloneMap(data)); err != nil {
			return err
		}
		h.notifyStateChange()
		return nil
	}, nil
}

// GetSharedState reads owner's state as of at (nil means latest).
func (h *Hub) GetSharedState(owner string, at *event.Event, res state.Resolution, xdm bool) state.Shared {
	seq := ^uint64(0)
	if at != nil {
		seq = at.Seq()
	}
	return h.registry(xdm).Get(owner, seq, res)
}

// notifyStateChange retries every extension stalled in ReadyForEvent.
func (h *Hub) notifyStateChange() {
	h.extMu.RLock()
	for _, c := range h.extensions {
		c.notifyReady()
	}
	h.extMu.RUnlock()
}
