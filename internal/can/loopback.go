package can

import "sync"

// LoopbackBus is an in-memory software bus. Every endpoint opened from
// the same bus sees the frames sent by every other endpoint, which is
// how the simulator models its local (in-process) CAN segment.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*loopEndpoint]struct{}
}

// NewLoopbackBus creates an empty loopback bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*loopEndpoint]struct{})}
}

// Open attaches a new endpoint to the bus.
func (b *LoopbackBus) Open() Bus {
	ep := &loopEndpoint{
		bus: b,
		ch:  make(chan Frame, 64),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ep.dead = true
		close(ep.ch)
		return ep
	}
	b.endpoints[ep] = struct{}{}
	b.mu.Unlock()
	return ep
}

// Close detaches all endpoints and closes their channels.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.closeLocked()
	}
	b.endpoints = nil
	return nil
}

type loopEndpoint struct {
	bus  *LoopbackBus
	ch   chan Frame
	mu   sync.Mutex
	dead bool
}

// Send broadcasts the frame to all other endpoints on the bus. A slow
// endpoint drops frames rather than blocking the sender.
func (e *loopEndpoint) Send(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return ErrClosed
	}

	e.bus.mu.RLock()
	if e.bus.closed {
		e.bus.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*loopEndpoint, 0, len(e.bus.endpoints))
	for ep := range e.bus.endpoints {
		if ep != e {
			targets = append(targets, ep)
		}
	}
	e.bus.mu.RUnlock()

	for _, t := range targets {
		t.mu.Lock()
		if !t.dead {
			select {
			case t.ch <- f:
			default:
			}
		}
		t.mu.Unlock()
	}
	return nil
}

func (e *loopEndpoint) Frames() <-chan Frame {
	return e.ch
}

func (e *loopEndpoint) Close() error {
	e.bus.mu.Lock()
	e.closeLocked()
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	e.bus.mu.Unlock()
	return nil
}

func (e *loopEndpoint) closeLocked() {
	e.mu.Lock()
	if !e.dead {
		e.dead = true
		close(e.ch)
	}
	e.mu.Unlock()
}
