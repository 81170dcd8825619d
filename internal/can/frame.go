package can

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// WireSize is the size of one frame on the TCP bridge: a little-endian
// uint32 arbitration id, one length byte and 8 payload bytes.
const WireSize = 13

// Well-known OBD-II arbitration ids.
const (
	RequestID  = 0x7DF // functional broadcast request
	ResponseID = 0x7E8 // primary ECU response
)

const maxStdID = 0x7FF

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
)

// Frame is a classical CAN 2.0A frame with an 11-bit identifier.
// Data bytes at index >= Len are padding and carry no meaning.
type Frame struct {
	ID   uint32
	Len  uint8
	Data [8]byte
}

// New builds a frame from an identifier and up to 8 payload bytes.
func New(id uint32, data []byte) Frame {
	var f Frame
	f.ID = id
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f
}

// Validate returns an error if the frame cannot be put on the wire.
func (f Frame) Validate() error {
	if f.Len > 8 {
		return ErrInvalidLen
	}
	if f.ID > maxStdID {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the semantically valid part of the data.
func (f Frame) Payload() []byte {
	return f.Data[:f.Len]
}

// MarshalBinary encodes the frame to the 13-byte bridge layout:
//
//	0..3  arbitration id (little-endian)
//	4     length (0..8)
//	5..12 payload, left-justified, zero-padded to 8 bytes
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, WireSize)
	binary.LittleEndian.PutUint32(buf[0:4], f.ID)
	buf[4] = f.Len
	copy(buf[5:5+f.Len], f.Data[:f.Len])
	return buf, nil
}

// UnmarshalBinary decodes exactly 13 bytes into the frame. Anything other
// than 13 bytes is a protocol error; there is no resynchronization.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) != WireSize {
		return fmt.Errorf("can: need %d bytes, got %d", WireSize, len(data))
	}
	f.ID = binary.LittleEndian.Uint32(data[0:4])
	f.Len = data[4]
	copy(f.Data[:], data[5:13])
	if f.Len > 8 {
		return ErrInvalidLen
	}
	return nil
}

// ReadFrame reads one full frame from r. A short read is returned as an
// error, never as a partial frame.
func ReadFrame(r io.Reader) (Frame, error) {
	var buf [WireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := f.UnmarshalBinary(buf[:]); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// WriteFrame writes one encoded frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func (f Frame) String() string {
	var hexView strings.Builder
	for i, b := range f.Payload() {
		if i > 0 {
			hexView.WriteByte(' ')
		}
		fmt.Fprintf(&hexView, "%02X", b)
	}
	return fmt.Sprintf("0x%03X [%d] %s", f.ID, f.Len, hexView.String())
}
