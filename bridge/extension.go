package bridge

import (
	"encoding/json"
	"log/slog"

	"github.com/groblegark/pulse/event"
	"github.com/groblegark/pulse/extension"
)

// ExtensionName is the bridge's hub registration and shared-state owner.
const ExtensionName = "com.adobe.module.eventbridge"

// injectedKey marks events that arrived from the bus, so the bridge does
// not echo them back out.
const injectedKey = "__bridge.injected"

// Extension republishes every delivered hub event onto the bus and
// dispatches inbound bus messages as hub events.
type Extension struct {
	bus *Bus
	log *slog.Logger

	rt   extension.Runtime
	stop func()
}

var _ extension.Extension = (*Extension)(nil)

// NewFactory builds the bridge's registration factory over an established
// bus connection. The extension takes ownership of the bus and closes it
// on unregister.
func NewFactory(bus *Bus, logger *slog.Logger) extension.Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func() extension.Extension {
		return &Extension{bus: bus, log: logger}
	}
}

func (x *Extension) Name() string    { return ExtensionName }
func (x *Extension) Version() string { return "1.0.0" }
func (x *Extension) Metadata() map[string]string {
	return map[string]string{"transport": "nats"}
}

func (x *Extension) ReadyForEvent(*event.Event) bool { return true }

func (x *Extension) OnRegistered(rt extension.Runtime) {
	x.rt = rt
	rt.RegisterListener(event.Wildcard, event.Wildcard, x.publish)

	stop, err := x.bus.Subscribe(InjectSubject, x.inject)
	if err != nil {
		x.log.Error("subscribing to inject subject failed", "error", err)
		return
	}
	x.stop = stop
}

func (x *Extension) OnUnregistered() {
	if x.stop != nil {
		x.stop()
	}
	if err := x.bus.Close(); err != nil {
		x.log.Error("closing event bus failed", "error", err)
	}
}

func (x *Extension) publish(e *event.Event) {
	if _, injected := e.Data[injectedKey]; injected {
		return
	}
	if err := x.bus.PublishEvent(e); err != nil {
		x.log.Error("publishing event to bus failed", "event", e.ID, "error", err)
	}
}

// inject turns an inbound envelope into a hub event. It runs on the bus
// client's delivery goroutine; Dispatch is non-blocking, so that is safe.
func (x *Extension) inject(subject string, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		x.log.Warn("dropping undecodable inbound event", "subject", subject, "error", err)
		return
	}
	if env.Type == "" || env.Source == "" {
		x.log.Warn("dropping inbound event without type/source", "subject", subject)
		return
	}
	data := env.Data
	if data == nil {
		data = map[string]any{}
	}
	data[injectedKey] = true
	e, err := event.New(env.Name, env.Type, env.Source, data)
	if err != nil {
		x.log.Error("creating injected event failed", "error", err)
		return
	}
	if err := x.rt.Dispatch(e); err != nil {
		x.log.Error("dispatching injected event failed", "error", err)
	}
}
