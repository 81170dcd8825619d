// Package obd implements the diagnostic reader: it sends OBD-II
// requests over a can.Bus and correlates the multiplexed, unordered
// response stream back to the caller, with a bounded wait.
package obd

import (
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/autopulse/internal/can"
	"github.com/shaunagostinho/autopulse/internal/dtc"
)

// Service codes issued by the reader.
const (
	serviceCurrentData = 0x01
	serviceReadDTCs    = 0x03
	serviceClearDTCs   = 0x04
)

const (
	// DefaultTimeout is how long a query waits for a matching response
	// before reporting "no data".
	DefaultTimeout = time.Second
	// pollInterval is the granularity of the response wait.
	pollInterval = 10 * time.Millisecond
)

// Reader correlates requests and responses over a bus. A background
// goroutine drains the bus into a pending queue; queries poll that
// queue until a frame matches their expected response signature.
type Reader struct {
	bus     can.Bus
	timeout time.Duration

	mu      sync.Mutex
	pending []can.Frame

	done chan struct{}
}

// NewReader starts a reader on the given bus. The timeout applies per
// query; zero means DefaultTimeout.
func NewReader(bus can.Bus, timeout time.Duration) *Reader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Reader{
		bus:     bus,
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go r.recvLoop()
	return r
}

// Close stops the receive loop. The underlying bus is left to its owner.
func (r *Reader) Close() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func (r *Reader) recvLoop() {
	for {
		select {
		case <-r.done:
			return
		case f, ok := <-r.bus.Frames():
			if !ok {
				return
			}
			r.mu.Lock()
			r.pending = append(r.pending, f)
			r.mu.Unlock()
		}
	}
}

// sendRequest emits a broadcast functional request. Byte 0 counts the
// meaningful bytes that follow, per OBD convention.
func (r *Reader) sendRequest(service, pid byte) error {
	data := []byte{0x02, service, pid, 0, 0, 0, 0, 0}
	if service != serviceCurrentData {
		data[0] = 0x01
		data[2] = 0
	}
	return r.bus.Send(can.New(can.RequestID, data))
}

// matchFunc reports whether a frame satisfies the expected response
// signature for the query in flight.
type matchFunc func(can.Frame) bool

// waitResponse polls the pending queue until a frame matches or the
// timeout elapses. The matching frame is removed; frames that do not
// match are left queued in their arrival order. A timeout is reported
// as ok=false, never as an error.
func (r *Reader) waitResponse(match matchFunc) (can.Frame, bool) {
	deadline := time.Now().Add(r.timeout)
	for {
		r.mu.Lock()
		for i, f := range r.pending {
			if match(f) {
				r.pending = append(r.pending[:i], r.pending[i+1:]...)
				r.mu.Unlock()
				return f, true
			}
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			return can.Frame{}, false
		}
		time.Sleep(pollInterval)
	}
}

// query performs one service 0x01 round trip for the given PID.
func (r *Reader) query(pid byte) (can.Frame, bool) {
	if err := r.sendRequest(serviceCurrentData, pid); err != nil {
		log.Printf("[obd] send failed: %v", err)
		return can.Frame{}, false
	}
	return r.waitResponse(func(f can.Frame) bool {
		return f.ID == can.ResponseID && f.Len >= 3 &&
			f.Data[1] == serviceCurrentData+0x40 && f.Data[2] == pid
	})
}

// RPM reads engine speed: ((A*256)+B)/4 rpm.
func (r *Reader) RPM() (float64, bool) {
	f, ok := r.query(0x0C)
	if !ok || f.Len < 5 {
		return 0, false
	}
	return (float64(f.Data[3])*256 + float64(f.Data[4])) / 4, true
}

// Speed reads vehicle speed in km/h.
func (r *Reader) Speed() (int, bool) {
	f, ok := r.query(0x0D)
	if !ok || f.Len < 4 {
		return 0, false
	}
	return int(f.Data[3]), true
}

// CoolantTemp reads engine coolant temperature in degrees C (raw - 40).
func (r *Reader) CoolantTemp() (int, bool) {
	f, ok := r.query(0x05)
	if !ok || f.Len < 4 {
		return 0, false
	}
	return int(f.Data[3]) - 40, true
}

// IntakeTemp reads intake air temperature in degrees C (raw - 40).
func (r *Reader) IntakeTemp() (int, bool) {
	f, ok := r.query(0x0F)
	if !ok || f.Len < 4 {
		return 0, false
	}
	return int(f.Data[3]) - 40, true
}

// Throttle reads throttle position as a percentage (A*100/255).
func (r *Reader) Throttle() (float64, bool) {
	f, ok := r.query(0x11)
	if !ok || f.Len < 4 {
		return 0, false
	}
	return float64(f.Data[3]) * 100 / 255, true
}

// EngineLoad reads calculated engine load as a percentage (A*100/255).
func (r *Reader) EngineLoad() (float64, bool) {
	f, ok := r.query(0x04)
	if !ok || f.Len < 4 {
		return 0, false
	}
	return float64(f.Data[3]) * 100 / 255, true
}

// ManifoldPressure reads intake manifold absolute pressure in kPa.
func (r *Reader) ManifoldPressure() (int, bool) {
	f, ok := r.query(0x0B)
	if !ok || f.Len < 4 {
		return 0, false
	}
	return int(f.Data[3]), true
}

// BaroPressure reads absolute barometric pressure in kPa.
func (r *Reader) BaroPressure() (int, bool) {
	f, ok := r.query(0x33)
	if !ok || f.Len < 4 {
		return 0, false
	}
	return int(f.Data[3]), true
}

// MAFRate reads mass air flow in g/s: ((A*256)+B)/100.
func (r *Reader) MAFRate() (float64, bool) {
	f, ok := r.query(0x10)
	if !ok || f.Len < 5 {
		return 0, false
	}
	return (float64(f.Data[3])*256 + float64(f.Data[4])) / 100, true
}

// ReadDTCs requests the stored trouble codes (service 0x03). ok=false
// means the ECU did not answer; an answered request with no codes
// returns an empty slice.
func (r *Reader) ReadDTCs() ([]dtc.Code, bool) {
	if err := r.sendRequest(serviceReadDTCs, 0); err != nil {
		log.Printf("[obd] send failed: %v", err)
		return nil, false
	}
	f, ok := r.waitResponse(func(f can.Frame) bool {
		return f.ID == can.ResponseID && f.Len >= 2 && f.Data[1] == serviceReadDTCs+0x40
	})
	if !ok {
		return nil, false
	}

	var codes []dtc.Code
	// Payload: count byte, 0x43, then (high, low) pairs; zero pairs are
	// padding.
	for i := 2; i+1 < int(f.Len); i += 2 {
		c := dtc.Code{High: f.Data[i], Low: f.Data[i+1]}
		if c.IsZero() {
			continue
		}
		codes = append(codes, c)
	}
	return codes, true
}

// ClearDTCs asks the ECU to erase stored codes (service 0x04) and
// reports whether it acknowledged.
func (r *Reader) ClearDTCs() bool {
	if err := r.sendRequest(serviceClearDTCs, 0); err != nil {
		log.Printf("[obd] send failed: %v", err)
		return false
	}
	_, ok := r.waitResponse(func(f can.Frame) bool {
		return f.ID == can.ResponseID && f.Len >= 2 && f.Data[1] == serviceClearDTCs+0x40
	})
	return ok
}
