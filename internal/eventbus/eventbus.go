// Package eventbus is the core's in-process, typed publish/subscribe
// channel (§4.2). Dispatch is synchronous: Emit runs every handler
// registered for an event, in registration order, and returns only once
// they have all settled. A handler that returns an error or panics is
// logged and isolated — it never prevents later handlers from running and
// never propagates to the caller of Emit.
package eventbus

import (
	"context"
	"sync"

	"github.com/lerianwallet/ecash-core/pkg/mlog"
)

// Handler processes one event payload. Returning an error marks the
// handler as failed; the bus logs it and moves on.
type Handler func(ctx context.Context, payload any) error

// Disposer removes the handler it was returned from On/Once.
type Disposer func()

type registration struct {
	id   uint64
	fn   Handler
	once bool
}

type job struct {
	ctx     context.Context
	event   string
	payload any
}

// Bus is a mutex-protected map of event name to ordered handler list, with
// a FIFO job queue so emits triggered from inside a handler (re-entrant
// emits) are queued after the handler currently running, rather than
// recursing immediately (§4.2 Ordering).
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]*registration
	queue    []job
	draining bool
	nextID   uint64
	logger   mlog.Logger
}

// New builds an empty Bus. A nil logger falls back to mlog.NoneLogger.
func New(logger mlog.Logger) *Bus {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	return &Bus{handlers: make(map[string][]*registration), logger: logger}
}

// On registers h for event and returns a Disposer that removes it. The bus
// owns the registration until the Disposer is called (§3 Ownership).
func (b *Bus) On(event string, h Handler) Disposer {
	return b.register(event, h, false)
}

// Once registers a self-disposing variant of h: it runs at most once, then
// removes itself.
func (b *Bus) Once(event string, h Handler) Disposer {
	return b.register(event, h, true)
}

func (b *Bus) register(event string, h Handler, once bool) Disposer {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	reg := &registration{id: b.nextID, fn: h, once: once}
	b.handlers[event] = append(b.handlers[event], reg)

	return func() { b.off(event, reg.id) }
}

func (b *Bus) off(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[event]
	for i, r := range regs {
		if r.id == id {
			b.handlers[event] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
}

// Emit enqueues event for dispatch and blocks until every handler
// registered for it (and any event emitted re-entrantly by those
// handlers) has settled. Calling Emit from inside a handler enqueues the
// nested event and returns immediately — the already-running drain loop
// picks it up next.
func (b *Bus) Emit(ctx context.Context, event string, payload any) {
	b.mu.Lock()
	b.queue = append(b.queue, job{ctx: ctx, event: event, payload: payload})

	if b.draining {
		b.mu.Unlock()
		return
	}

	b.draining = true
	b.mu.Unlock()

	b.drain()
}

func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()

			return
		}

		j := b.queue[0]
		b.queue = b.queue[1:]

		snapshot := make([]*registration, len(b.handlers[j.event]))
		copy(snapshot, b.handlers[j.event])
		b.mu.Unlock()

		for _, reg := range snapshot {
			b.runOne(j, reg)

			if reg.once {
				b.off(j.event, reg.id)
			}
		}
	}
}

func (b *Bus) runOne(j job, reg *registration) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("eventbus: handler for %s panicked: %v", j.event, r)
		}
	}()

	if err := reg.fn(j.ctx, j.payload); err != nil {
		b.logger.Errorf("eventbus: handler for %s failed: %v", j.event, err)
	}
}
