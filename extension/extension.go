// Package extension defines the contract between the hub and the
// independently versioned subsystems it hosts. Extensions see the hub only
// through the narrow Runtime interface handed to OnRegistered; they never
// hold the hub itself.
package extension

import (
	"time"

	"github.com/groblegark/pulse/event"
	"github.com/groblegark/pulse/state"
)

// Listener handles one delivered event. Listeners run on their owning
// extension's serial queue: one at a time, in sequence order.
type Listener func(e *event.Event)

// ResponseListener handles the response to a previously dispatched event.
// It is called with nil when the registration's timeout expires first.
type ResponseListener func(e *event.Event)

// Extension is implemented by every subsystem registered with the hub.
type Extension interface {
	// Name uniquely identifies the extension within the hub and names its
	// shared-state registry (e.g. "com.adobe.module.lifecycle").
	Name() string
	Version() string
	Metadata() map[string]string

	// OnRegistered runs on the extension's own serial queue once the hub
	// has admitted it. This is where listeners are installed and initial
	// shared state is published.
	OnRegistered(rt Runtime)

	// OnUnregistered runs after the extension's in-flight deliveries have
	// drained and its listeners are removed.
	OnUnregistered()

	// ReadyForEvent is polled before each delivery. Returning false holds
	// the event (stalling only this extension's queue); the hub retries
	// after the next shared-state change anywhere.
	ReadyForEvent(e *event.Event) bool
}

// Factory constructs a fresh extension instance for registration.
type Factory func() Extension

// Runtime is the only surface an extension has back into the hub.
type Runtime interface {
	// RegisterListener subscribes to events matching (eventType, source);
	// either axis may be event.Wildcard. The listener is removed when the
	// extension unregisters.
	RegisterListener(eventType, source string, fn Listener)

	// Dispatch places an event on the hub's timeline. Non-blocking.
	Dispatch(e *event.Event) error

	// DispatchResponse dispatches e and registers a one-shot listener for
	// the first event answering it, or nil after timeout.
	DispatchResponse(e *event.Event, timeout time.Duration, fn ResponseListener) error

	// CreateSharedState publishes data as this extension's shared state at
	// the sequence of at (or at the current timeline tail when at is nil).
	CreateSharedState(data map[string]any, at *event.Event) error

	// CreatePendingSharedState reserves this extension's slot at at and
	// returns a one-shot resolver.
	CreatePendingSharedState(at *event.Event) (func(map[string]any) error, error)

	// GetSharedState reads owner's shared state as of at (nil means the
	// latest committed entry).
	GetSharedState(owner string, at *event.Event, res state.Resolution) state.Shared

	// CreateXDMSharedState, CreatePendingXDMSharedState and
	// GetXDMSharedState mirror the standard calls against the XDM
	// namespace.
	CreateXDMSharedState(data map[string]any, at *event.Event) error
	CreatePendingXDMSharedState(at *event.Event) (func(map[string]any) error, error)
	GetXDMSharedState(owner string, at *event.Event, res state.Resolution) state.Shared

	// StartEvents and StopEvents gate delivery to this extension only.
	StartEvents()
	StopEvents()
}
