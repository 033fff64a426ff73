// Package event defines the typed, data-bearing message that flows through
// the hub, along with the tree operations (merge, path lookup) the rules
// engine performs on event data.
package event

import (
	"fmt"
	"time"

	"github.com/groblegark/pulse/internal/idgen"
)

// Wildcard matches any event type or source when used in a listener selector.
const Wildcard = "*"

// Well-known event types.
const (
	TypeConfiguration = "configuration"
	TypeRulesEngine   = "rulesEngine"
	TypeHub           = "hub"
	TypeLifecycle     = "lifecycle"
)

// Well-known event sources.
const (
	SourceRequestContent  = "requestContent"
	SourceResponseContent = "responseContent"
	SourceRequestReset    = "requestReset"
	SourceSharedState     = "sharedState"
)

// Event is a single message on the hub's timeline. Identity fields are
// assigned at construction and never change; Data may be swapped atomically
// by the rules engine between ingress and delivery, after which observers
// must treat it as immutable.
type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`

	// ResponseID links this event to the request it answers; it drives
	// one-shot response listeners.
	ResponseID string `json:"responseId,omitempty"`

	// ParentID is the event that logically triggered this one. Dispatch
	// consequences and responses set it to the trigger's ID. Shared-state
	// reads made for this event use its own sequence number; ParentID
	// plays no part in them.
	ParentID string `json:"parentId,omitempty"`

	seq uint64
}

// New creates an event with a fresh unique ID and the current timestamp.
func New(name, eventType, source string, data map[string]any) (*Event, error) {
	id, err := idgen.Generate()
	if err != nil {
		return nil, fmt.Errorf("new event: %w", err)
	}
	return &Event{
		ID:        id,
		Name:      name,
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}

// NewResponse creates an event answering request. Its ResponseID is the
// request's ID, which routes it to any one-shot response listener waiting
// on that request.
func NewResponse(name, eventType, source string, data map[string]any, request *Event) (*Event, error) {
	e, err := New(name, eventType, source, data)
	if err != nil {
		return nil, err
	}
	e.ResponseID = request.ID
	e.ParentID = request.ID
	return e, nil
}

// Seq returns the hub-assigned sequence number, or zero before dispatch.
func (e *Event) Seq() uint64 {
	return e.seq
}

// SetSeq stamps the hub sequence number. The hub calls this exactly once at
// ingress; nothing else should.
func (e *Event) SetSeq(n uint64) {
	e.seq = n
}

// Matches reports whether the event satisfies a (type, source) listener
// selector, honoring the wildcard on either axis.
func (e *Event) Matches(eventType, source string) bool {
	if eventType != Wildcard && eventType != e.Type {
		return false
	}
	if source != Wildcard && source != e.Source {
		return false
	}
	return true
}
