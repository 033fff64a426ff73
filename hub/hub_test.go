package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/groblegark/pulse/event"
	"github.com/groblegark/pulse/extension"
	"github.com/groblegark/pulse/state"
)

// testExtension is a configurable extension for hub tests.
type testExtension struct {
	name         string
	onRegistered func(rt extension.Runtime)
	ready        func(e *event.Event) bool

	mu           sync.Mutex
	unregistered bool
}

func (x *testExtension) Name() string                { return x.name }
func (x *testExtension) Version() string             { return "0.0.1" }
func (x *testExtension) Metadata() map[string]string { return nil }

func (x *testExtension) OnRegistered(rt extension.Runtime) {
	if x.onRegistered != nil {
		x.onRegistered(rt)
	}
}

func (x *testExtension) OnUnregistered() {
	x.mu.Lock()
	x.unregistered = true
	x.mu.Unlock()
}

func (x *testExtension) ReadyForEvent(e *event.Event) bool {
	if x.ready != nil {
		return x.ready(e)
	}
	return true
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := New(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})
	h.Start()
	return h
}

func mustEvent(t *testing.T, name, typ, src string, data map[string]any) *event.Event {
	t.Helper()
	e, err := event.New(name, typ, src, data)
	if err != nil {
		t.Fatalf("event.New error: %v", err)
	}
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegisterExtension_Duplicate(t *testing.T) {
	h := newTestHub(t)

	factory := func() extension.Extension { return &testExtension{name: "dup"} }
	if err := h.RegisterExtension(factory); err != nil {
		t.Fatalf("first registration error: %v", err)
	}
	if err := h.RegisterExtension(factory); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second registration = %v, want ErrAlreadyRegistered", err)
	}
}

func TestDelivery_PerExtensionOrdering(t *testing.T) {
	h := newTestHub(t)

	var mu sync.Mutex
	var seen []uint64
	h.RegisterExtension(func() extension.Extension {
		return &testExtension{
			name: "orderly",
			onRegistered: func(rt extension.Runtime) {
				rt.RegisterListener(event.Wildcard, event.Wildcard, func(e *event.Event) {
					mu.Lock()
					seen = append(seen, e.Seq())
					mu.Unlock()
				})
			},
		}
	})

	const n = 200
	for i := 0; i < n; i++ {
		if err := h.Dispatch(mustEvent(t, fmt.Sprintf("e%d", i), "test", "test", nil)); err != nil {
			t.Fatalf("Dispatch error: %v", err)
		}
	}

	waitFor(t, "all deliveries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("delivery out of order at %d: %d after %d", i, seen[i], seen[i-1])
		}
	}
}

func TestDelivery_ListenerMatching(t *testing.T) {
	h := newTestHub(t)

	var exact, wildType, wildBoth, other atomic.Int64
	h.RegisterExtension(func() extension.Extension {
		return &testExtension{
			name: "matcher",
			onRegistered: func(rt extension.Runtime) {
				rt.RegisterListener("lifecycle", "responseContent", func(*event.Event) { exact.Add(1) })
				rt.RegisterListener(event.Wildcard, "responseContent", func(*event.Event) { wildType.Add(1) })
				rt.RegisterListener(event.Wildcard, event.Wildcard, func(*event.Event) { wildBoth.Add(1) })
				rt.RegisterListener("lifecycle", "requestContent", func(*event.Event) { other.Add(1) })
			},
		}
	})

	h.Dispatch(mustEvent(t, "e", "lifecycle", "responseContent", nil))

	waitFor(t, "matching listeners", func() bool { return wildBoth.Load() == 1 })
	if exact.Load() != 1 || wildType.Load() != 1 {
		t.Errorf("exact=%d wildType=%d, want 1/1", exact.Load(), wildType.Load())
	}
	if other.Load() != 0 {
		t.Errorf("non-matching listener fired %d times", other.Load())
	}
}

func TestResponseListener_FiresOnce(t *testing.T) {
	h := newTestHub(t)

	var rt extension.Runtime
	h.RegisterExtension(func() extension.Extension {
		return &testExtension{name: "requester", onRegistered: func(r extension.Runtime) { rt = r }}
	})
	h.RegisterExtension(func() extension.Extension {
		return &testExtension{
			name: "responder",
			onRegistered: func(r extension.Runtime) {
				r.RegisterListener("test", "requestContent", func(e *event.Event) {
					resp, err := event.NewResponse("reply", "test", "responseContent", map[string]any{"ok": true}, e)
					if err != nil {
						t.Errorf("NewResponse error: %v", err)
						return
					}
					r.Dispatch(resp)
				})
			},
		}
	})

	req := mustEvent(t, "request", "test", "requestContent", nil)
	got := make(chan *event.Event, 2)
	if err := rt.DispatchResponse(req, time.Second, func(e *event.Event) { got <- e }); err != nil {
		t.Fatalf("DispatchResponse error: %v", err)
	}

	select {
	case e := <-got:
		if e == nil {
			t.Fatal("response listener fired with nil, want response event")
		}
		if e.ResponseID != req.ID {
			t.Errorf("ResponseID = %q, want %q", e.ResponseID, req.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	// One-shot: a second response must not re-fire the listener.
	late, _ := event.NewResponse("late", "test", "responseContent", nil, req)
	h.Dispatch(late)
	select {
	case <-got:
		t.Fatal("response listener fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResponseListener_Timeout(t *testing.T) {
	h := newTestHub(t)

	got := make(chan *event.Event, 1)
	h.RegisterResponseListener("no-such-trigger", 30*time.Millisecond, func(e *event.Event) { got <- e })

	select {
	case e := <-got:
		if e != nil {
			t.Errorf("timeout handler got %v, want nil", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout handler never fired")
	}
}

func TestReadyForEvent_StallsUntilStateChange(t *testing.T) {
	h := newTestHub(t)

	var ready atomic.Bool
	delivered := make(chan uint64, 4)
	h.RegisterExtension(func() extension.Extension {
		return &testExtension{
			name:  "stalled",
			ready: func(*event.Event) bool { return ready.Load() },
			onRegistered: func(rt extension.Runtime) {
				rt.RegisterListener(event.Wildcard, event.Wildcard, func(e *event.Event) {
					delivered <- e.Seq()
				})
			},
		}
	})
	h.RegisterExtension(func() extension.Extension {
		return &testExtension{name: "publisher"}
	})

	h.Dispatch(mustEvent(t, "held", "test", "test", nil))
	select {
	case <-delivered:
		t.Fatal("event delivered while extension not ready")
	case <-time.After(50 * time.Millisecond):
	}

	// Any shared-state update retries the stalled queue.
	ready.Store(true)
	if err := h.CreateSharedState("publisher", map[string]any{"k": 1}, nil, false); err != nil {
		t.Fatalf("CreateSharedState error: %v", err)
	}

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("stalled event never delivered after state change")
	}
}

func TestListenerPanic_Isolated(t *testing.T) {
	h := newTestHub(t)

	var after atomic.Int64
	h.RegisterExtension(func() extension.Extension {
		return &testExtension{
			name: "panicky",
			onRegistered: func(rt extension.Runtime) {
				rt.RegisterListener(event.Wildcard, event.Wildcard, func(e *event.Event) {
					if e.Name == "boom" {
						panic("handler exploded")
					}
					after.Add(1)
				})
			},
		}
	})

	h.Dispatch(mustEvent(t, "boom", "test", "test", nil))
	h.Dispatch(mustEvent(t, "fine", "test", "test", nil))

	waitFor(t, "delivery after panic", func() bool { return after.Load() == 1 })
}

func TestSharedState_VisibilityAtEventSeq(t *testing.T) {
	h := newTestHub(t)

	h.RegisterExtension(func() extension.Extension { return &testExtension{name: "owner"} })

	e1 := mustEvent(t, "e1", "test", "test", nil)
	h.Dispatch(e1)
	if err := h.CreateSharedState("owner", map[string]any{"v": "one"}, e1, false); err != nil {
		t.Fatalf("CreateSharedState error: %v", err)
	}

	e2 := mustEvent(t, "e2", "test", "test", nil)
	h.Dispatch(e2)
	h.CreateSharedState("owner", map[string]any{"v": "two"}, e2, false)

	if got := h.GetSharedState("owner", e1, state.Any, false); got.Value["v"] != "one" {
		t.Errorf("state at e1 = %v, want one", got.Value)
	}
	if got := h.GetSharedState("owner", e2, state.Any, false); got.Value["v"] != "two" {
		t.Errorf("state at e2 = %v, want two", got.Value)
	}
	if got := h.GetSharedState("owner", nil, state.Any, false); got.Value["v"] != "two" {
		t.Errorf("latest state = %v, want two", got.Value)
	}
}

func TestSharedState_XDMNamespaceIsSeparate(t *testing.T) {
	h := newTestHub(t)
	h.RegisterExtension(func() extension.Extension { return &testExtension{name: "owner"} })

	e := mustEvent(t, "e", "test", "test", nil)
	h.Dispatch(e)
	h.CreateSharedState("owner", map[string]any{"ns": "standard"}, e, false)

	if got := h.GetSharedState("owner", e, state.Any, true); got.Status != state.None {
		t.Errorf("xdm read = %v, want None (namespaces are independent)", got.Status)
	}

	h.CreateSharedState("owner", map[string]any{"ns": "xdm"}, e, true)
	if got := h.GetSharedState("owner", e, state.Any, true); got.Value["ns"] != "xdm" {
		t.Errorf("xdm read = %v, want xdm", got.Value)
	}
}

func TestUnregister_RemovesStateAndListeners(t *testing.T) {
	h := newTestHub(t)

	var count atomic.Int64
	ext := &testExtension{
		name: "leaver",
		onRegistered: func(rt extension.Runtime) {
			rt.RegisterListener(event.Wildcard, event.Wildcard, func(*event.Event) { count.Add(1) })
		},
	}
	h.RegisterExtension(func() extension.Extension { return ext })

	e := mustEvent(t, "e", "test", "test", nil)
	h.Dispatch(e)
	h.CreateSharedState("leaver", map[string]any{"v": 1}, e, false)
	waitFor(t, "first delivery", func() bool { return count.Load() == 1 })

	if err := h.UnregisterExtension("leaver"); err != nil {
		t.Fatalf("UnregisterExtension error: %v", err)
	}
	ext.mu.Lock()
	unreg := ext.unregistered
	ext.mu.Unlock()
	if !unreg {
		t.Error("OnUnregistered not called")
	}

	if got := h.GetSharedState("leaver", nil, state.Any, false); got.Status != state.None {
		t.Errorf("state after unregister = %v, want None", got.Status)
	}

	h.Dispatch(mustEvent(t, "after", "test", "test", nil))
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 1 {
		t.Errorf("listener fired after unregister: count = %d", count.Load())
	}

	if err := h.UnregisterExtension("leaver"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("second unregister = %v, want ErrNotRegistered", err)
	}
}

func TestStopGatesDelivery(t *testing.T) {
	h := newTestHub(t)

	var count atomic.Int64
	h.RegisterExtension(func() extension.Extension {
		return &testExtension{
			name: "gated",
			onRegistered: func(rt extension.Runtime) {
				rt.RegisterListener(event.Wildcard, event.Wildcard, func(*event.Event) { count.Add(1) })
			},
		}
	})

	h.Stop()
	h.Dispatch(mustEvent(t, "held", "test", "test", nil))
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 0 {
		t.Fatal("event delivered while hub stopped")
	}

	h.Start()
	waitFor(t, "delivery after restart", func() bool { return count.Load() == 1 })
}

func TestDispatch_RejectsReuse(t *testing.T) {
	h := newTestHub(t)
	e := mustEvent(t, "once", "test", "test", nil)
	if err := h.Dispatch(e); err != nil {
		t.Fatalf("first Dispatch error: %v", err)
	}
	if err := h.Dispatch(e); !errors.Is(err, ErrAlreadyDispatched) {
		t.Errorf("redispatch = %v, want ErrAlreadyDispatched", err)
	}
}

func TestPreprocessor_MutatesBeforeDelivery(t *testing.T) {
	h := newTestHub(t)

	h.RegisterPreprocessor(PreprocessorFunc(func(e *event.Event) *event.Event {
		e.Data = event.Merge(e.Data, map[string]any{"stamped": true}, false)
		return e
	}))

	got := make(chan map[string]any, 1)
	h.RegisterExtension(func() extension.Extension {
		return &testExtension{
			name: "observer",
			onRegistered: func(rt extension.Runtime) {
				rt.RegisterListener(event.Wildcard, event.Wildcard, func(e *event.Event) {
					got <- e.Data
				})
			},
		}
	})

	h.Dispatch(mustEvent(t, "e", "test", "test", map[string]any{"orig": 1}))

	select {
	case data := <-got:
		if data["stamped"] != true || data["orig"] != 1 {
			t.Errorf("delivered data = %v, want preprocessor mutation visible", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}
