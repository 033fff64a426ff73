package hub

import (
	"time"

	"github.com/groblegark/pulse/event"
	"github.com/groblegark/pulse/extension"
	"github.com/groblegark/pulse/state"
)

// runtime is the narrow facade handed to each extension. It carries an
// index into the hub's extension table (the container), never an owning
// link back to the hub's internals.
type runtime struct {
	h *Hub
	c *container
}

var _ extension.Runtime = (*runtime)(nil)

func (r *runtime) RegisterListener(eventType, source string, fn extension.Listener) {
	r.c.addListener(eventType, source, fn)
}

func (r *runtime) Dispatch(e *event.Event) error {
	return r.h.Dispatch(e)
}

func (r *runtime) DispatchResponse(e *event.Event, timeout time.Duration, fn extension.ResponseListener) error {
	r.h.registerResponseListener(r.c.name, e.ID, timeout, fn)
	if err := r.h.Dispatch(e); err != nil {
		r.h.cancelResponse(e.ID)
		return err
	}
	return nil
}

func (r *runtime) CreateSharedState(data map[string]any, at *event.Event) error {
	return r.h.CreateSharedState(r.c.name, data, at, false)
}

func (r *runtime) CreatePendingSharedState(at *event.Event) (func(map[string]any) error, error) {
	return r.h.CreatePendingSharedState(r.c.name, at, false)
}

func (r *runtime) GetSharedState(owner string, at *event.Event, res state.Resolution) state.Shared {
	return r.h.GetSharedState(owner, at, res, false)
}

func (r *runtime) CreateXDMSharedState(data map[string]any, at *event.Event) error {
	return r.h.CreateSharedState(r.c.name, data, at, true)
}

func (r *runtime) CreatePendingXDMSharedState(at *event.Event) (func(map[string]any) error, error) {
	return r.h.CreatePendingSharedState(r.c.name, at, true)
}

func (r *runtime) GetXDMSharedState(owner string, at *event.Event, res state.Resolution) state.Shared {
	return r.h.GetSharedState(owner, at, res, true)
}

func (r *runtime) StartEvents() {
	r.c.setFlow(true)
}

func (r *runtime) StopEvents() {
	r.c.setFlow(false)
}
