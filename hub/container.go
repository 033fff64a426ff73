package hub

import (
	"log/slog"
	"sync"

	"github.com/groblegark/pulse/event"
	"github.com/groblegark/pulse/extension"
)

// container is one extension's private serial queue. Tasks (registration
// callbacks) and events share the queue, so OnRegistered always completes
// before the first delivery, and deliveries never interleave.
type container struct {
	hub  *Hub
	ext  extension.Extension
	name string
	log  *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []workItem
	listeners []listenerReg
	flowOn    bool
	stopping  bool
	readyGen  uint64

	done chan struct{}
}

type workItem struct {
	task  func()
	event *event.Event
}

type listenerReg struct {
	eventType string
	source    string
	fn        extension.Listener
}

func newContainer(h *Hub, ext extension.Extension) *container {
	c := &container{
		hub:    h,
		ext:    ext,
		name:   ext.Name(),
		log:    h.log.With("extension", ext.Name()),
		flowOn: true,
		done:   make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.run()
	return c
}

func (c *container) enqueueTask(fn func()) {
	c.mu.Lock()
	if !c.stopping {
		c.queue = append(c.queue, workItem{task: fn})
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

func (c *container) enqueueEvent(e *event.Event) {
	c.mu.Lock()
	if !c.stopping {
		c.queue = append(c.queue, workItem{event: e})
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

func (c *container) addListener(eventType, source string, fn extension.Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, listenerReg{eventType: eventType, source: source, fn: fn})
	c.mu.Unlock()
}

func (c *container) setFlow(on bool) {
	c.mu.Lock()
	c.flowOn = on
	c.cond.Broadcast()
	c.mu.Unlock()
}

// notifyReady wakes a run loop stalled on ReadyForEvent.
func (c *container) notifyReady() {
	c.mu.Lock()
	c.readyGen++
	c.cond.Broadcast()
	c.mu.Unlock()
}

// stop ends the serial queue. The delivery in progress completes; queued
// items are discarded. Blocks until the run loop has exited.
func (c *container) stop() {
	c.mu.Lock()
	c.stopping = true
	c.cond.Broadcast()
	c.mu.Unlock()
	<-c.done
}

func (c *container) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for !c.stopping && (len(c.queue) == 0 || !c.flowOn) {
			c.cond.Wait()
		}
		if c.stopping {
			c.mu.Unlock()
			return
		}
		item := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if item.task != nil {
			c.safeCall(item.task)
			continue
		}
		if !c.deliver(item.event) {
			return
		}
	}
}

// deliver runs every matching listener for e, first waiting out
// ReadyForEvent. Returns false when the container stopped mid-wait.
func (c *container) deliver(e *event.Event) bool {
	c.mu.Lock()
	var matched []extension.Listener
	for _, l := range c.listeners {
		if e.Matches(l.eventType, l.source) {
			matched = append(matched, l.fn)
		}
	}
	c.mu.Unlock()
	if len(matched) == 0 {
		return true
	}

	for !c.readyForEvent(e) {
		// Hold this extension's queue until the next shared-state change
		// anywhere, then poll again.
		c.mu.Lock()
		gen := c.readyGen
		for !c.stopping && c.readyGen == gen {
			c.cond.Wait()
		}
		stopped := c.stopping
		c.mu.Unlock()
		if stopped {
			return false
		}
	}

	for _, fn := range matched {
		c.safeListener(fn, e)
	}
	return true
}

func (c *container) readyForEvent(e *event.Event) (ready bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("ReadyForEvent panic, treating as ready", "event", e.ID, "panic", r)
			ready = true
		}
	}()
	return c.ext.ReadyForEvent(e)
}

// safeListener isolates a panicking handler: log it, mark the delivery
// complete, keep going.
func (c *container) safeListener(fn extension.Listener, e *event.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("listener panic", "event", e.ID, "type", e.Type, "source", e.Source, "panic", r)
		}
	}()
	fn(e)
}

func (c *container) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("extension callback panic", "panic", r)
		}
	}()
	fn()
}
