// Package bridge mirrors the hub's timeline onto a NATS bus and injects
// inbound bus messages back as hub events. It is an ordinary extension;
// when no bus URL is configured the facade simply never registers it, and
// the SDK runs fully offline.
package bridge

import "strings"

// Subject layout on the bus.
const (
	// EventSubjectPrefix + "<type>.<source>" carries every delivered hub event.
	EventSubjectPrefix = "pulse.event."

	// InjectSubject is the wildcard the bridge consumes for inbound events.
	InjectSubject = "pulse.inject.>"
)

// Envelope is the wire shape of an event on the bus. Outbound envelopes
// carry the hub identity (id, seq, timestamp); inbound injections only need
// name, type, source and data — the hub assigns the rest on dispatch.
type Envelope struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Seq       uint64         `json:"seq,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// SubjectFor maps an event's discriminators onto a bus subject.
func SubjectFor(eventType, source string) string {
	return EventSubjectPrefix + sanitize(eventType) + "." + sanitize(source)
}

// sanitize keeps subjects valid: NATS tokens cannot hold spaces or dots.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ".", "_")
	if s == "" {
		return "_"
	}
	return s
}
