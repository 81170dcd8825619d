package obd

import (
	"testing"
	"time"

	"github.com/shaunagostinho/autopulse/internal/can"
	"github.com/shaunagostinho/autopulse/internal/dtc"
)

// scriptBus is a can.Bus whose responses are scripted per sent request.
type scriptBus struct {
	frames chan can.Frame
	onSend func(can.Frame)
}

func newScriptBus(onSend func(can.Frame)) *scriptBus {
	return &scriptBus{
		frames: make(chan can.Frame, 16),
		onSend: onSend,
	}
}

func (b *scriptBus) Send(f can.Frame) error {
	if b.onSend != nil {
		b.onSend(f)
	}
	return nil
}

func (b *scriptBus) Frames() <-chan can.Frame { return b.frames }
func (b *scriptBus) Close() error             { return nil }

// push injects a frame as if it had arrived from the bus.
func (b *scriptBus) push(f can.Frame) { b.frames <- f }

// echoECU answers every supported query with a fixed reading.
func echoECU(b *scriptBus) func(can.Frame) {
	readings := map[byte][]byte{
		0x04: {0x03, 0x41, 0x04, 0x80},       // load 50.2%
		0x05: {0x03, 0x41, 0x05, 0x83},       // coolant 91 C
		0x0B: {0x03, 0x41, 0x0B, 0x21},       // manifold 33 kPa
		0x0C: {0x04, 0x41, 0x0C, 0x1A, 0xF8}, // 1726 rpm
		0x0D: {0x03, 0x41, 0x0D, 0x37},       // 55 km/h
		0x0F: {0x03, 0x41, 0x0F, 0x3E},       // intake 22 C
		0x10: {0x04, 0x41, 0x10, 0x00, 0xFA}, // 2.5 g/s
		0x11: {0x03, 0x41, 0x11, 0x33},       // throttle 20%
		0x33: {0x03, 0x41, 0x33, 0x65},       // baro 101 kPa
	}
	return func(req can.Frame) {
		if req.ID != can.RequestID || req.Data[1] != 0x01 {
			return
		}
		if payload, ok := readings[req.Data[2]]; ok {
			b.push(can.New(can.ResponseID, payload))
		}
	}
}

func TestReaderDecodesParameters(t *testing.T) {
	bus := newScriptBus(nil)
	bus.onSend = echoECU(bus)
	r := NewReader(bus, 500*time.Millisecond)
	defer r.Close()

	if v, ok := r.RPM(); !ok || v != 1726 {
		t.Fatalf("rpm: got %v %v want 1726", v, ok)
	}
	if v, ok := r.Speed(); !ok || v != 55 {
		t.Fatalf("speed: got %v %v want 55", v, ok)
	}
	if v, ok := r.CoolantTemp(); !ok || v != 91 {
		t.Fatalf("coolant: got %v %v want 91", v, ok)
	}
	if v, ok := r.IntakeTemp(); !ok || v != 22 {
		t.Fatalf("intake: got %v %v want 22", v, ok)
	}
	if v, ok := r.Throttle(); !ok || v < 19.9 || v > 20.1 {
		t.Fatalf("throttle: got %v %v want ~20", v, ok)
	}
	if v, ok := r.EngineLoad(); !ok || v < 50.1 || v > 50.3 {
		t.Fatalf("load: got %v %v want ~50.2", v, ok)
	}
	if v, ok := r.ManifoldPressure(); !ok || v != 33 {
		t.Fatalf("manifold: got %v %v want 33", v, ok)
	}
	if v, ok := r.BaroPressure(); !ok || v != 101 {
		t.Fatalf("baro: got %v %v want 101", v, ok)
	}
	if v, ok := r.MAFRate(); !ok || v != 2.5 {
		t.Fatalf("maf: got %v %v want 2.5", v, ok)
	}
}

func TestReaderRequestFraming(t *testing.T) {
	var sent []can.Frame
	bus := newScriptBus(func(f can.Frame) { sent = append(sent, f) })
	r := NewReader(bus, 20*time.Millisecond)
	defer r.Close()

	r.Speed()
	r.ReadDTCs()
	r.ClearDTCs()

	if len(sent) != 3 {
		t.Fatalf("requests sent: got %d want 3", len(sent))
	}
	for i, f := range sent {
		if f.ID != can.RequestID || f.Len != 8 {
			t.Fatalf("request %d framing: %+v", i, f)
		}
	}
	if sent[0].Data[0] != 0x02 || sent[0].Data[1] != 0x01 || sent[0].Data[2] != 0x0D {
		t.Fatalf("pid request bytes: % X", sent[0].Payload())
	}
	if sent[1].Data[0] != 0x01 || sent[1].Data[1] != 0x03 || sent[1].Data[2] != 0 {
		t.Fatalf("dtc request bytes: % X", sent[1].Payload())
	}
	if sent[2].Data[0] != 0x01 || sent[2].Data[1] != 0x04 {
		t.Fatalf("clear request bytes: % X", sent[2].Payload())
	}
}

func TestReaderLeavesNonMatchingFramesQueued(t *testing.T) {
	bus := newScriptBus(nil)
	r := NewReader(bus, 500*time.Millisecond)
	defer r.Close()

	// Unrelated traffic arrives ahead of the answer we want.
	stray1 := can.New(0x123, []byte{0xAA})
	stray2 := can.New(can.ResponseID, []byte{0x03, 0x41, 0x05, 0x83}) // coolant, wrong PID
	match := can.New(can.ResponseID, []byte{0x03, 0x41, 0x0D, 0x28})
	bus.push(stray1)
	bus.push(stray2)
	bus.push(match)

	if v, ok := r.Speed(); !ok || v != 40 {
		t.Fatalf("speed: got %v %v want 40", v, ok)
	}

	// The strays stay queued in arrival order; only the match was taken.
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) != 2 || r.pending[0] != stray1 || r.pending[1] != stray2 {
		t.Fatalf("pending after match: %v", r.pending)
	}
}

func TestReaderTimeoutIsNoData(t *testing.T) {
	bus := newScriptBus(nil) // never answers
	timeout := 100 * time.Millisecond
	r := NewReader(bus, timeout)
	defer r.Close()

	start := time.Now()
	v, ok := r.RPM()
	elapsed := time.Since(start)

	if ok || v != 0 {
		t.Fatalf("silent bus: got %v %v want 0 false", v, ok)
	}
	if elapsed < timeout {
		t.Fatalf("gave up early: %v", elapsed)
	}
	if elapsed > timeout+200*time.Millisecond {
		t.Fatalf("gave up too late: %v", elapsed)
	}
}

func TestReadDTCsParsing(t *testing.T) {
	bus := newScriptBus(nil)
	bus.onSend = func(req can.Frame) {
		if req.Data[1] == 0x03 {
			bus.push(can.New(can.ResponseID, []byte{0x07, 0x43, 0x03, 0x01, 0x04, 0x20, 0x01, 0x33}))
		}
	}
	r := NewReader(bus, 500*time.Millisecond)
	defer r.Close()

	codes, ok := r.ReadDTCs()
	if !ok {
		t.Fatal("no response")
	}
	want := []string{"P0301", "P0420", "P0133"}
	if len(codes) != len(want) {
		t.Fatalf("codes: got %v", codes)
	}
	for i, c := range codes {
		if c.String() != want[i] {
			t.Fatalf("code %d: got %s want %s", i, c, want[i])
		}
	}
}

func TestReadDTCsSkipsZeroPadding(t *testing.T) {
	bus := newScriptBus(nil)
	bus.onSend = func(req can.Frame) {
		if req.Data[1] == 0x03 {
			bus.push(can.New(can.ResponseID, []byte{0x03, 0x43, 0x05, 0x62, 0, 0, 0, 0}))
		}
	}
	r := NewReader(bus, 500*time.Millisecond)
	defer r.Close()

	codes, ok := r.ReadDTCs()
	if !ok || len(codes) != 1 || codes[0] != (dtc.Code{High: 0x05, Low: 0x62}) {
		t.Fatalf("got %v %v want [P0562]", codes, ok)
	}
}

func TestReadDTCsEmptyResponse(t *testing.T) {
	bus := newScriptBus(nil)
	bus.onSend = func(req can.Frame) {
		if req.Data[1] == 0x03 {
			bus.push(can.New(can.ResponseID, []byte{0x01, 0x43, 0, 0, 0, 0, 0, 0}))
		}
	}
	r := NewReader(bus, 500*time.Millisecond)
	defer r.Close()

	codes, ok := r.ReadDTCs()
	if !ok {
		t.Fatal("empty response must still count as answered")
	}
	if len(codes) != 0 {
		t.Fatalf("codes: got %v want none", codes)
	}
}

func TestClearDTCsAck(t *testing.T) {
	bus := newScriptBus(nil)
	bus.onSend = func(req can.Frame) {
		if req.Data[1] == 0x04 {
			bus.push(can.New(can.ResponseID, []byte{0x01, 0x44, 0, 0, 0, 0, 0, 0}))
		}
	}
	r := NewReader(bus, 500*time.Millisecond)
	defer r.Close()

	if !r.ClearDTCs() {
		t.Fatal("ack not recognized")
	}
}

func TestSnapshotEmpty(t *testing.T) {
	bus := newScriptBus(nil)
	r := NewReader(bus, 20*time.Millisecond)
	defer r.Close()

	snap := r.Poll()
	if !snap.Empty() {
		t.Fatalf("silent bus snapshot not empty: %+v", snap)
	}

	bus.onSend = echoECU(bus)
	snap = r.Poll()
	if snap.Empty() {
		t.Fatal("answered snapshot reported empty")
	}
	if snap.RPM == nil || *snap.RPM != 1726 {
		t.Fatalf("snapshot rpm: %v", snap.RPM)
	}
}
