package pulse

import (
	"context"
	"sync"
	"time"

	"github.com/groblegark/pulse/event"
	"github.com/groblegark/pulse/extension"
	"github.com/groblegark/pulse/hitqueue"
)

// ConfigurationExtensionName owns the configuration shared state every
// other extension reads.
const ConfigurationExtensionName = "com.adobe.module.configuration"

// Configuration keys with hub-wide behavior.
const (
	privacyKey  = "global.privacy"
	rulesURLKey = "rules.url"
	appIDKey    = "app.id"
)

// configurationExtension is the built-in extension that owns the SDK
// configuration: it publishes the configuration shared state, answers
// configuration request events, applies privacy changes hub-wide, and
// triggers rules reloads when the rules URL changes.
type configurationExtension struct {
	runtime *Runtime
	rt      extension.Runtime

	mu      sync.Mutex
	current map[string]any
}

var _ extension.Extension = (*configurationExtension)(nil)

func (x *configurationExtension) Name() string                    { return ConfigurationExtensionName }
func (x *configurationExtension) Version() string                 { return Version }
func (x *configurationExtension) Metadata() map[string]string     { return nil }
func (x *configurationExtension) ReadyForEvent(*event.Event) bool { return true }
func (x *configurationExtension) OnUnregistered()                 {}

func (x *configurationExtension) OnRegistered(rt extension.Runtime) {
	x.rt = rt

	cfg := x.runtime.cfg
	x.current = map[string]any{privacyKey: cfg.PrivacyDefault}
	if cfg.RulesURL != "" {
		x.current[rulesURLKey] = cfg.RulesURL
	}
	if cfg.AppID != "" {
		x.current[appIDKey] = cfg.AppID
	}

	rt.RegisterListener(event.TypeConfiguration, event.SourceRequestContent, x.handleRequest)

	if err := rt.CreateSharedState(x.snapshot(), nil); err != nil {
		x.runtime.log.Error("publishing initial configuration state failed", "error", err)
	}
}

// handleRequest merges the event's data into the configuration, republishes
// shared state at this event, answers with a response event, and applies
// any privacy or rules-URL side effects.
func (x *configurationExtension) handleRequest(e *event.Event) {
	if len(e.Data) == 0 {
		return
	}

	x.mu.Lock()
	x.current = event.Merge(x.current, e.Data, true)
	x.mu.Unlock()
	snap := x.snapshot()

	if err := x.rt.CreateSharedState(snap, e); err != nil {
		x.runtime.log.Error("publishing configuration state failed", "event", e.ID, "error", err)
	}

	resp, err := event.NewResponse("Configuration Response", event.TypeConfiguration, event.SourceResponseContent, snap, e)
	if err == nil {
		x.rt.Dispatch(resp)
	}

	if v, ok := e.Data[privacyKey].(string); ok {
		x.runtime.applyPrivacy(hitqueue.ParsePrivacy(v))
	}
	if url, ok := e.Data[rulesURLKey].(string); ok && url != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := x.runtime.engine.LoadRemote(ctx, x.runtime.downloader, url); err != nil {
				x.runtime.log.Error("rules reload failed", "url", url, "error", err)
			}
		}()
	}
}

func (x *configurationExtension) snapshot() map[string]any {
	x.mu.Lock()
	defer x.mu.Unlock()
	return event.CloneMap(x.current)
}
