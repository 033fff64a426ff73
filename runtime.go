// Package pulse is the public facade of the SDK: one Runtime value wires
// the event hub, rules engine, downloader and datastore together. There is
// no process-wide singleton; tests construct their own Runtime.
package pulse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/pulse/bridge"
	"github.com/groblegark/pulse/datastore"
	"github.com/groblegark/pulse/event"
	"github.com/groblegark/pulse/extension"
	"github.com/groblegark/pulse/hitqueue"
	"github.com/groblegark/pulse/hub"
	"github.com/groblegark/pulse/rules"
	"github.com/groblegark/pulse/rulesdl"
	"github.com/groblegark/pulse/state"
)

// Version is the SDK version exposed to templates as ~sdkver.
const Version = "1.0.0"

// RulesEngineName is the engine's self-addressed event name.
const RulesEngineName = "com.adobe.module.rulesengine"

// Runtime is one SDK instance.
type Runtime struct {
	cfg        *Config
	log        *slog.Logger
	hub        *hub.Hub
	engine     *rules.Engine
	downloader *rulesdl.Downloader
	store      *datastore.Store

	mu         sync.Mutex
	privacy    hitqueue.PrivacyStatus
	privacyFns []func(hitqueue.PrivacyStatus)
}

// NewRuntime builds and starts a Runtime: hub started, rules engine
// registered as preprocessor, configuration extension installed, cached
// rules loaded and a remote refresh kicked off when a rules URL is set.
func NewRuntime(cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runtime{
		cfg:     cfg,
		log:     logger,
		store:   datastore.New(cfg.StorageDir),
		privacy: hitqueue.ParsePrivacy(cfg.PrivacyDefault),
	}
	r.hub = hub.New(logger)
	r.downloader = rulesdl.New(r.store, logger, rulesdl.WithS3(cfg.S3Region, cfg.S3Endpoint))
	r.engine = rules.NewEngine(RulesEngineName, &rulesHost{hub: r.hub}, Version, logger)
	r.hub.RegisterPreprocessor(r.engine)

	if err := r.hub.RegisterExtension(func() extension.Extension {
		return &configurationExtension{runtime: r}
	}); err != nil {
		return nil, fmt.Errorf("register configuration extension: %w", err)
	}

	if cfg.NATSURL != "" {
		if err := r.registerBridge(cfg.NATSURL); err != nil {
			// The SDK stays functional offline; the bridge is best-effort.
			logger.Error("event bridge unavailable", "url", cfg.NATSURL, "error", err)
		}
	}

	r.hub.Start()

	if cfg.RulesURL != "" {
		if err := r.engine.LoadCached(r.downloader, cfg.RulesURL); err != nil {
			logger.Debug("no cached rules", "url", cfg.RulesURL)
		}
		go r.refreshRules(cfg.RulesURL)
	}

	return r, nil
}

func (r *Runtime) registerBridge(url string) error {
	bus, err := bridge.Dial(url, r.log)
	if err != nil {
		return err
	}
	if err := r.hub.RegisterExtension(bridge.NewFactory(bus, r.log)); err != nil {
		bus.Close()
		return err
	}
	return nil
}

func (r *Runtime) refreshRules(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := r.engine.LoadRemote(ctx, r.downloader, url); err != nil {
		r.log.Error("remote rules load failed", "url", url, "error", err)
	}
}

// RegisterExtension admits an extension to the hub.
func (r *Runtime) RegisterExtension(f extension.Factory) error {
	return r.hub.RegisterExtension(f)
}

// UnregisterExtension removes an extension from the hub.
func (r *Runtime) UnregisterExtension(name string) error {
	return r.hub.UnregisterExtension(name)
}

// Dispatch places an event on the timeline. Non-blocking.
func (r *Runtime) Dispatch(e *event.Event) error {
	return r.hub.Dispatch(e)
}

// DispatchResponse dispatches e and arms a one-shot listener for its
// response; fn receives nil on timeout.
func (r *Runtime) DispatchResponse(e *event.Event, timeout time.Duration, fn extension.ResponseListener) error {
	r.hub.RegisterResponseListener(e.ID, timeout, fn)
	return r.hub.Dispatch(e)
}

// UpdateConfiguration merges data into the SDK configuration by
// dispatching a configuration request event.
func (r *Runtime) UpdateConfiguration(data map[string]any) error {
	e, err := event.New("Configuration Update", event.TypeConfiguration, event.SourceRequestContent, data)
	if err != nil {
		return err
	}
	return r.hub.Dispatch(e)
}

// SetPrivacyStatus drives the hub-wide privacy gate through the standard
// configuration event.
func (r *Runtime) SetPrivacyStatus(s hitqueue.PrivacyStatus) error {
	return r.UpdateConfiguration(map[string]any{"global.privacy": string(s)})
}

// PrivacyStatus returns the current hub-wide privacy status.
func (r *Runtime) PrivacyStatus() hitqueue.PrivacyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.privacy
}

// OnPrivacyChange subscribes fn to privacy transitions. It is invoked
// immediately with the current status, so late subscribers gate correctly.
func (r *Runtime) OnPrivacyChange(fn func(hitqueue.PrivacyStatus)) {
	r.mu.Lock()
	r.privacyFns = append(r.privacyFns, fn)
	current := r.privacy
	r.mu.Unlock()
	fn(current)
}

func (r *Runtime) applyPrivacy(s hitqueue.PrivacyStatus) {
	r.mu.Lock()
	changed := r.privacy != s
	r.privacy = s
	fns := make([]func(hitqueue.PrivacyStatus), len(r.privacyFns))
	copy(fns, r.privacyFns)
	r.mu.Unlock()
	if !changed {
		return
	}
	r.log.Info("privacy status changed", "status", string(s))
	for _, fn := range fns {
		fn(s)
	}
}

// Hub exposes the underlying hub (extensions under test, tooling).
func (r *Runtime) Hub() *hub.Hub { return r.hub }

// Engine exposes the rules engine.
func (r *Runtime) Engine() *rules.Engine { return r.engine }

// Downloader exposes the rules downloader.
func (r *Runtime) Downloader() *rulesdl.Downloader { return r.downloader }

// Store exposes the named collection store.
func (r *Runtime) Store() *datastore.Store { return r.store }

// Shutdown shuts the hub down (see hub.Hub.Shutdown).
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.hub.Shutdown(ctx)
}

// rulesHost adapts the hub to the engine's Host seam.
type rulesHost struct {
	hub *hub.Hub
}

func (h *rulesHost) Dispatch(e *event.Event) error {
	return h.hub.Dispatch(e)
}

func (h *rulesHost) SharedState(owner string, at *event.Event) (map[string]any, bool) {
	sh := h.hub.GetSharedState(owner, at, state.Any, false)
	if sh.Status != state.Set {
		return nil, false
	}
	return sh.Value, true
}
