package can

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SLCANConfig holds connection settings for a CANable-style serial adapter.
type SLCANConfig struct {
	Port     string `yaml:"port" json:"port"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// SLCAN is a Bus over a serial adapter speaking the Lawicel SLCAN ASCII
// protocol. It lets the reader talk to a physical bus instead of the
// TCP bridge. Only standard 11-bit data frames are handled.
type SLCAN struct {
	port   serial.Port
	frames chan Frame

	mu     sync.Mutex
	closed bool
}

// OpenSLCAN opens the serial port, sets 500 kbit/s and opens the channel.
func OpenSLCAN(cfg SLCANConfig) (*SLCAN, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("slcan: open %q: %w", cfg.Port, err)
	}
	p.SetReadTimeout(time.Millisecond)
	p.ResetInputBuffer()
	p.ResetOutputBuffer()

	s := &SLCAN{
		port:   p,
		frames: make(chan Frame, 64),
	}

	// S6 = 500 kbit/s, O = open channel.
	if _, err := p.Write([]byte("S6\r")); err != nil {
		p.Close()
		return nil, fmt.Errorf("slcan: set bitrate: %w", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := p.Write([]byte("O\r")); err != nil {
		p.Close()
		return nil, fmt.Errorf("slcan: open channel: %w", err)
	}

	go s.recvLoop()
	return s, nil
}

// Send transmits one standard data frame as tIIILDD...\r.
func (s *SLCAN) Send(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "t%03X%d", f.ID, f.Len)
	buf.WriteString(hex.EncodeToString(f.Payload()))
	buf.WriteByte('\r')
	if _, err := s.port.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("slcan: write: %w", err)
	}
	return nil
}

func (s *SLCAN) Frames() <-chan Frame {
	return s.frames
}

// Close closes the channel (C command) and releases the port.
func (s *SLCAN) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	return s.port.Close()
}

func (s *SLCAN) recvLoop() {
	defer close(s.frames)
	line := bytes.NewBuffer(nil)
	readBuf := make([]byte, 64)
	for {
		n, err := s.port.Read(readBuf)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.Printf("[slcan] read failed: %v", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		s.parse(line, readBuf[:n])
	}
}

func (s *SLCAN) parse(line *bytes.Buffer, chunk []byte) {
	for _, b := range chunk {
		if b != 0x0D {
			line.WriteByte(b)
			continue
		}
		if line.Len() == 0 {
			continue
		}
		raw := line.Bytes()
		if raw[0] == 't' {
			f, err := decodeSLCANFrame(raw)
			if err != nil {
				log.Printf("[slcan] bad frame %q: %v", raw, err)
			} else {
				select {
				case s.frames <- f:
				default:
					// slow consumer, frame dropped
				}
			}
		}
		line.Reset()
	}
}

func decodeSLCANFrame(raw []byte) (Frame, error) {
	if len(raw) < 5 {
		return Frame{}, fmt.Errorf("truncated: %d bytes", len(raw))
	}
	id, err := strconv.ParseUint(string(raw[1:4]), 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("identifier: %w", err)
	}
	dlc, err := strconv.Atoi(string(raw[4:5]))
	if err != nil || dlc > 8 {
		return Frame{}, fmt.Errorf("dlc: %q", raw[4:5])
	}
	data, err := hex.DecodeString(string(raw[5:]))
	if err != nil {
		return Frame{}, fmt.Errorf("data: %w", err)
	}
	if len(data) < dlc {
		return Frame{}, fmt.Errorf("dlc %d but %d data bytes", dlc, len(data))
	}
	return New(uint32(id), data[:dlc]), nil
}
