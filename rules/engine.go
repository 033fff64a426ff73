package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/groblegark/pulse/event"
	"github.com/groblegark/pulse/rulesdl"
	"github.com/groblegark/pulse/tokens"
)

// ConsequenceEventName names every dispatched consequence event.
const ConsequenceEventName = "Rules Consequence Event"

// Host is the slice of the hub the engine needs: dispatching consequence
// and reset events, and reading shared state as of an event.
type Host interface {
	Dispatch(e *event.Event) error
	SharedState(owner string, at *event.Event) (map[string]any, bool)
}

// Engine evaluates the active rule set against every event. It holds a
// waiting buffer from construction until the first rule set arrives, so
// events dispatched during startup are re-evaluated once rules exist.
type Engine struct {
	name       string
	host       Host
	log        *slog.Logger
	sdkVersion string

	mu      sync.Mutex
	rules   []Rule
	waiting []*event.Event
}

// NewEngine creates an engine named name (its reset events carry this
// name). A nil logger falls back to slog.Default().
func NewEngine(name string, host Host, sdkVersion string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		name:       name,
		host:       host,
		log:        logger,
		sdkVersion: sdkVersion,
		waiting:    []*event.Event{},
	}
}

// ReplaceRules atomically swaps the active rule set. The first replacement
// also dispatches a self-addressed reset event; when that event comes back
// through Process, the waiting buffer drains through evaluation in order.
func (eng *Engine) ReplaceRules(rules []Rule) {
	eng.mu.Lock()
	eng.rules = rules
	needDrain := eng.waiting != nil
	eng.mu.Unlock()

	if !needDrain {
		return
	}
	reset, err := event.New(eng.name, event.TypeRulesEngine, event.SourceRequestReset, nil)
	if err != nil {
		eng.log.Error("creating rules reset event failed", "error", err)
		return
	}
	if err := eng.host.Dispatch(reset); err != nil {
		eng.log.Error("dispatching rules reset event failed", "error", err)
	}
}

// LoadRemote fetches, parses and installs rules from url via the
// downloader. The active rule set is untouched on any failure.
func (eng *Engine) LoadRemote(ctx context.Context, d *rulesdl.Downloader, url string) error {
	body, err := d.Load(ctx, url)
	if err != nil {
		return fmt.Errorf("load remote rules: %w", err)
	}
	rules, err := ParseDocument(body)
	if err != nil {
		return err
	}
	eng.ReplaceRules(rules)
	return nil
}

// LoadCached installs the cached rules for url, if any.
func (eng *Engine) LoadCached(d *rulesdl.Downloader, url string) error {
	body, ok := d.Cached(url)
	if !ok {
		return fmt.Errorf("load cached rules: no cache entry for %s", url)
	}
	rules, err := ParseDocument(body)
	if err != nil {
		return err
	}
	eng.ReplaceRules(rules)
	return nil
}

// RuleCount returns the size of the active rule set.
func (eng *Engine) RuleCount() int {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return len(eng.rules)
}

// Process is the hub preprocessor hook: it evaluates e against the active
// rules, mutating its data in place for add/mod consequences and
// dispatching events for everything else.
func (eng *Engine) Process(e *event.Event) *event.Event {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.isReset(e) {
		for _, w := range eng.waiting {
			// w was already delivered; evaluate a copy so its data stays
			// as listeners saw it.
			cp := *w
			eng.evaluate(&cp)
		}
		eng.waiting = nil
		return e
	}

	if eng.waiting != nil {
		eng.waiting = append(eng.waiting, e)
	}
	return eng.evaluate(e)
}

func (eng *Engine) isReset(e *event.Event) bool {
	return e.Type == event.TypeRulesEngine &&
		e.Source == event.SourceRequestReset &&
		e.Name == eng.name
}

// evaluate runs every rule against e. A failing rule is logged and
// skipped; the rest still apply. Caller holds eng.mu.
func (eng *Engine) evaluate(e *event.Event) *event.Event {
	for i, rule := range eng.rules {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eng.log.Error("rule evaluation panic, skipping rule", "rule", i, "event", e.ID, "panic", r)
				}
			}()
			f := eng.finder(e)
			if rule.Condition != nil && rule.Condition.Evaluate(f) {
				eng.apply(e, rule.Consequences, f)
			}
		}()
	}
	return e
}

func (eng *Engine) finder(e *event.Event) *tokens.Finder {
	return &tokens.Finder{
		EventType:   e.Type,
		EventSource: e.Source,
		EventID:     e.ID,
		Timestamp:   e.Timestamp,
		SDKVersion:  eng.sdkVersion,
		Data: func(path string) (any, bool) {
			return event.Get(e.Data, path)
		},
		State: func(owner, path string) (any, bool) {
			st, ok := eng.host.SharedState(owner, e)
			if !ok {
				return nil, false
			}
			return event.Get(st, path)
		},
	}
}

func (eng *Engine) apply(e *event.Event, consequences []Consequence, f *tokens.Finder) {
	for _, c := range consequences {
		detail := renderDetail(c.Detail, f)
		switch c.Type {
		case ConsequenceAdd, ConsequenceModify:
			data, _ := detail["eventdata"].(map[string]any)
			if data == nil {
				continue
			}
			e.Data = event.Merge(e.Data, data, c.Type == ConsequenceModify)
		default:
			eng.dispatchConsequence(e, c, detail)
		}
	}
}

func (eng *Engine) dispatchConsequence(trigger *event.Event, c Consequence, detail map[string]any) {
	out, err := event.New(ConsequenceEventName, event.TypeRulesEngine, event.SourceResponseContent,
		map[string]any{
			"triggeredconsequence": map[string]any{
				"id":     c.ID,
				"type":   c.Type,
				"detail": detail,
			},
		})
	if err != nil {
		eng.log.Error("creating consequence event failed", "consequence", c.ID, "error", err)
		return
	}
	out.ParentID = trigger.ID
	if err := eng.host.Dispatch(out); err != nil {
		eng.log.Error("dispatching consequence event failed", "consequence", c.ID, "error", err)
	}
}

// renderDetail deep-copies detail, substituting tokens in every string.
func renderDetail(detail map[string]any, f *tokens.Finder) map[string]any {
	if detail == nil {
		return nil
	}
	out := make(map[string]any, len(detail))
	for k, v := range detail {
		out[k] = renderValue(v, f)
	}
	return out
}

func renderValue(v any, f *tokens.Finder) any {
	switch t := v.(type) {
	case string:
		return tokens.Render(t, f)
	case map[string]any:
		return renderDetail(t, f)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = renderValue(e, f)
		}
		return out
	default:
		return v
	}
}
