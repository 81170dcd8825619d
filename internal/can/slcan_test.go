package can

import (
	"bytes"
	"testing"
)

func TestDecodeSLCANFrame(t *testing.T) {
	f, err := decodeSLCANFrame([]byte("t7E8341 0D37"))
	if err == nil {
		t.Fatal("space in hex data accepted")
	}

	f, err = decodeSLCANFrame([]byte("t7E83410D37"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.ID != 0x7E8 || f.Len != 3 {
		t.Fatalf("header: %+v", f)
	}
	if f.Data[0] != 0x41 || f.Data[1] != 0x0D || f.Data[2] != 0x37 {
		t.Fatalf("data: % X", f.Payload())
	}
}

func TestDecodeSLCANFrameRejects(t *testing.T) {
	cases := []string{
		"t7E8",        // truncated
		"t7E89",       // dlc out of range
		"tZZZ10A",     // bad identifier
		"t7E8341",     // fewer data bytes than dlc
		"t7E83410DZZ", // bad hex
		"t7E8A410D37", // non-numeric dlc
	}
	for _, c := range cases {
		if _, err := decodeSLCANFrame([]byte(c)); err == nil {
			t.Errorf("%q accepted", c)
		}
	}
}

func TestParseSplitsOnCarriageReturn(t *testing.T) {
	s := &SLCAN{frames: make(chan Frame, 8)}
	line := bytes.NewBuffer(nil)

	// Two frames arriving across chunk boundaries, plus an echo of a
	// command acknowledgement that must be ignored.
	s.parse(line, []byte("t7DF8020"))
	s.parse(line, []byte("10C0000000000\r\rt7E8"))
	s.parse(line, []byte("4410C1AF8\rz\r"))

	if len(s.frames) != 2 {
		t.Fatalf("frames parsed: got %d want 2", len(s.frames))
	}
	first := <-s.frames
	if first.ID != 0x7DF || first.Len != 8 {
		t.Fatalf("first frame: %+v", first)
	}
	second := <-s.frames
	if second.ID != 0x7E8 || second.Len != 4 || second.Data[3] != 0xF8 {
		t.Fatalf("second frame: %+v", second)
	}
}
