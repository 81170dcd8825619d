package obd_test

import (
	"context"
	"testing"
	"time"

	"github.com/shaunagostinho/autopulse/internal/bridge"
	"github.com/shaunagostinho/autopulse/internal/can"
	"github.com/shaunagostinho/autopulse/internal/dtc"
	"github.com/shaunagostinho/autopulse/internal/ecu"
	"github.com/shaunagostinho/autopulse/internal/obd"
)

// startSimulator brings up the full simulator stack on an ephemeral
// port: loopback bus, bridge server and dispatcher.
func startSimulator(t *testing.T, store *dtc.Store) *bridge.Server {
	t.Helper()

	srv := bridge.NewServer("127.0.0.1:0")
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { srv.Close() })

	localBus := can.NewLoopbackBus()
	t.Cleanup(func() { localBus.Close() })

	disp := ecu.NewDispatcher(localBus.Open(), srv, srv.Requests(), store)
	go srv.Run(ctx)
	go disp.Run(ctx)
	return srv
}

func TestReaderAgainstSimulator(t *testing.T) {
	store := dtc.NewStore()
	store.InsertIfAbsent(dtc.Code{High: 0x03, Low: 0x01})
	store.InsertIfAbsent(dtc.Code{High: 0x04, Low: 0x20})
	srv := startSimulator(t, store)

	client, err := bridge.Dial(srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	r := obd.NewReader(client, 2*time.Second)
	defer r.Close()

	rpm, ok := r.RPM()
	if !ok {
		t.Fatal("rpm query timed out")
	}
	if rpm < 1152 || rpm > 4544 {
		t.Fatalf("rpm out of simulated range: %.0f", rpm)
	}

	if temp, ok := r.CoolantTemp(); !ok || temp < 88 || temp > 95 {
		t.Fatalf("coolant: got %d %v", temp, ok)
	}

	codes, ok := r.ReadDTCs()
	if !ok {
		t.Fatal("dtc query timed out")
	}
	if len(codes) != 2 || codes[0].String() != "P0301" || codes[1].String() != "P0420" {
		t.Fatalf("codes: %v", codes)
	}

	if !r.ClearDTCs() {
		t.Fatal("clear not acknowledged")
	}
	if codes, ok := r.ReadDTCs(); !ok || len(codes) != 0 {
		t.Fatalf("after clear: %v %v", codes, ok)
	}
	if store.Len() != 0 {
		t.Fatalf("store not cleared: %d", store.Len())
	}
}

func TestTwoReadersShareOneSimulator(t *testing.T) {
	srv := startSimulator(t, dtc.NewStore())

	a, err := bridge.Dial(srv.Addr().String())
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	b, err := bridge.Dial(srv.Addr().String())
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	ra := obd.NewReader(a, 2*time.Second)
	defer ra.Close()
	rb := obd.NewReader(b, 2*time.Second)
	defer rb.Close()

	// Both peers see responses; each matches only what it asked for.
	if _, ok := ra.Speed(); !ok {
		t.Fatal("reader a timed out")
	}
	if _, ok := rb.CoolantTemp(); !ok {
		t.Fatal("reader b timed out")
	}
}
