package bridge

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/shaunagostinho/autopulse/internal/can"
)

// Client is one peer on the TCP bridge. It satisfies can.Bus: Send
// transmits a frame to the simulator and Frames carries everything the
// bridge broadcasts back.
type Client struct {
	conn   net.Conn
	frames chan can.Frame

	mu     sync.Mutex
	closed bool
}

// Dial connects to the bridge, retrying a few times so the reader can
// be started before (or just after) the simulator.
func Dial(addr string) (*Client, error) {
	var conn net.Conn
	err := retry.Do(func() error {
		var err error
		conn, err = net.DialTimeout("tcp", addr, 2*time.Second)
		return err
	},
		retry.Attempts(4),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[bridge] connect attempt %d failed: %v", n+1, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", addr, err)
	}

	c := &Client{
		conn:   conn,
		frames: make(chan can.Frame, 64),
	}
	go c.recvLoop()
	log.Printf("[bridge] connected to %s", addr)
	return c, nil
}

// Send transmits one frame to the bridge.
func (c *Client) Send(f can.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return can.ErrClosed
	}
	return can.WriteFrame(c.conn, f)
}

// Frames returns the stream of frames broadcast by the bridge. The
// channel is closed when the connection drops.
func (c *Client) Frames() <-chan can.Frame {
	return c.frames
}

// Close disconnects from the bridge.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) recvLoop() {
	defer close(c.frames)
	for {
		f, err := can.ReadFrame(c.conn)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				log.Printf("[bridge] connection lost: %v", err)
			}
			return
		}
		c.frames <- f
	}
}
