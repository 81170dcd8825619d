// Package ecu implements the simulated engine control unit: an OBD-II
// service dispatcher that answers requests arriving on the local bus or
// through the TCP bridge.
package ecu

import (
	"context"
	"log"
	"time"

	"github.com/shaunagostinho/autopulse/internal/can"
	"github.com/shaunagostinho/autopulse/internal/dtc"
)

// OBD-II service codes handled by the dispatcher.
const (
	ServiceCurrentData = 0x01
	ServiceReadDTCs    = 0x03
	ServiceClearDTCs   = 0x04
)

// Positive response codes (service + 0x40).
const (
	respCurrentData = 0x41
	respReadDTCs    = 0x43
	respClearDTCs   = 0x44
)

// localPollInterval bounds how long the dispatcher waits on the local
// bus before it drains one bridged request, so neither source can
// starve the other.
const localPollInterval = 10 * time.Millisecond

// Broadcaster fans a response frame out to all bridge peers.
type Broadcaster interface {
	Broadcast(can.Frame)
}

// Dispatcher consumes request frames and synthesizes protocol-correct
// responses. It is stateless between requests apart from the shared
// trouble-code store.
type Dispatcher struct {
	bus    can.Bus // local in-process bus endpoint
	bridge Broadcaster
	store  *dtc.Store

	requests <-chan can.Frame
}

// NewDispatcher wires the dispatcher to its local bus endpoint, the
// bridge broadcaster and the queue of bridged requests.
func NewDispatcher(bus can.Bus, bridge Broadcaster, requests <-chan can.Frame, store *dtc.Store) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		bridge:   bridge,
		store:    store,
		requests: requests,
	}
}

// Run services both request sources until the context is cancelled:
// a bounded poll on the local bus, then at most one bridged request,
// then around again.
func (d *Dispatcher) Run(ctx context.Context) error {
	timer := time.NewTimer(localPollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-d.bus.Frames():
			if !ok {
				return can.ErrClosed
			}
			if !timer.Stop() {
				<-timer.C
			}
			d.Handle(f)
		case <-timer.C:
		}

		select {
		case f, ok := <-d.requests:
			if ok {
				d.Handle(f)
			}
		default:
		}
		timer.Reset(localPollInterval)
	}
}

// Handle processes one request frame. Anything that is not a broadcast
// functional request, or names an unknown service or PID, is logged and
// left unanswered: on a real bus unaddressed ECUs stay silent.
func (d *Dispatcher) Handle(req can.Frame) {
	if req.ID != can.RequestID || req.Len < 2 {
		log.Printf("[ecu] ignoring frame %s", req)
		return
	}

	var resp can.Frame
	var ok bool
	switch svc := req.Data[1]; svc {
	case ServiceCurrentData:
		if req.Len < 3 {
			log.Printf("[ecu] service 01 request without PID: %s", req)
			return
		}
		resp, ok = d.serviceCurrentData(req.Data[2])
	case ServiceReadDTCs:
		resp, ok = d.serviceReadDTCs(), true
	case ServiceClearDTCs:
		resp, ok = d.serviceClearDTCs(), true
	default:
		log.Printf("[ecu] unknown service 0x%02X", svc)
		return
	}
	if !ok {
		return
	}

	// Every response is echoed on the local bus and broadcast to all
	// bridge peers.
	if err := d.bus.Send(resp); err != nil {
		log.Printf("[ecu] local bus send failed: %v", err)
	}
	if d.bridge != nil {
		d.bridge.Broadcast(resp)
	}
}

// serviceReadDTCs snapshots the active codes and builds the mode 0x43
// response: a count byte, the response code and at most the first three
// codes. Codes beyond the third are silently omitted; there is no
// continuation frame.
func (d *Dispatcher) serviceReadDTCs() can.Frame {
	snap := d.store.Snapshot()
	log.Printf("[ecu] service 03: %d active code(s)", len(snap))

	if len(snap) == 0 {
		return can.New(can.ResponseID, []byte{0x01, respReadDTCs, 0, 0, 0, 0, 0, 0})
	}

	if len(snap) > 3 {
		snap = snap[:3]
	}
	body := []byte{respReadDTCs}
	for _, c := range snap {
		body = append(body, c.High, c.Low)
	}
	payload := make([]byte, 0, 8)
	payload = append(payload, byte(len(body)))
	payload = append(payload, body...)
	for len(payload) < 8 {
		payload = append(payload, 0)
	}
	return can.New(can.ResponseID, payload)
}

// serviceClearDTCs atomically empties the store and acknowledges.
func (d *Dispatcher) serviceClearDTCs() can.Frame {
	log.Printf("[ecu] service 04: clearing codes")
	d.store.Clear()
	return can.New(can.ResponseID, []byte{0x01, respClearDTCs, 0, 0, 0, 0, 0, 0})
}
