package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/groblegark/pulse/event"
)

// Bus is one connection to the event bus, shared by the bridge extension
// and by tooling. It reconnects forever; connectivity transitions are
// logged, never surfaced to callers.
type Bus struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Dial connects to the bus at url. A nil logger falls back to
// slog.Default().
func Dial(url string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("event bus disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("event bus reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial event bus at %s: %w", url, err)
	}
	return &Bus{conn: conn, log: logger}, nil
}

// PublishEvent puts e on the bus under its type/source subject.
func (b *Bus) PublishEvent(e *event.Event) error {
	env := Envelope{
		ID:        e.ID,
		Name:      e.Name,
		Type:      e.Type,
		Source:    e.Source,
		Seq:       e.Seq(),
		Timestamp: e.Timestamp.UnixMilli(),
		Data:      e.Data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	if err := b.conn.Publish(SubjectFor(e.Type, e.Source), raw); err != nil {
		return fmt.Errorf("publish event %s: %w", e.ID, err)
	}
	return nil
}

// Subscribe invokes fn for every message matching subject (NATS wildcards
// work). fn runs on the client's delivery goroutine, so it must not block.
// The returned stop function unsubscribes.
func (b *Bus) Subscribe(subject string, fn func(subject string, payload []byte)) (func(), error) {
	sub, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		fn(m.Subject, m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	// Flush so the subscription exists server-side before we return;
	// otherwise messages published on other connections can race past it.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			b.log.Debug("unsubscribe failed", "subject", subject, "error", err)
		}
	}, nil
}

// Close drains in-flight messages and drops the connection.
func (b *Bus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain event bus: %w", err)
	}
	return nil
}
