// Package transport owns the UDP socket that carries the drone's text protocol.
package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
)

// maxDatagram is large enough for any SDK reply or state record.
const maxDatagram = 2048

// Handler receives each inbound datagram decoded as text.
type Handler func(payload string)

// ErrorHandler receives socket errors. The default handler logs them.
type ErrorHandler func(err error)

// Error reports a failed socket operation.
type Error struct {
	Op  string // bind, resolve, send, read
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("udp %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNotOpen is returned by Send before Open or after Close.
var ErrNotOpen = errors.New("udp socket not open")

// Conn is a UDP endpoint bound to a local port. When a remote address is set,
// Send transmits to it; a Conn without one only listens.
type Conn struct {
	mu         sync.RWMutex
	localPort  int
	remoteAddr string
	remote     *net.UDPAddr
	conn       *net.UDPConn
	onMessage  Handler
	onError    ErrorHandler

	wg sync.WaitGroup
}

// New creates an unopened Conn. localPort 0 picks an ephemeral port.
func New(localPort int, remoteAddr string) *Conn {
	return &Conn{
		localPort:  localPort,
		remoteAddr: remoteAddr,
		onError: func(err error) {
			log.Printf("transport: %v", err)
		},
	}
}

// OnMessage registers the inbound handler. Call before Open.
func (c *Conn) OnMessage(h Handler) {
	c.mu.Lock()
	c.onMessage = h
	c.mu.Unlock()
}

// OnError replaces the error handler. Call before Open.
func (c *Conn) OnError(h ErrorHandler) {
	c.mu.Lock()
	c.onError = h
	c.mu.Unlock()
}

// Open binds the socket and starts the read loop.
func (c *Conn) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	if c.remoteAddr != "" {
		raddr, err := net.ResolveUDPAddr("udp4", c.remoteAddr)
		if err != nil {
			return c.fail("resolve", err)
		}
		c.remote = raddr
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: c.localPort})
	if err != nil {
		return c.fail("bind", err)
	}
	c.conn = conn

	c.wg.Add(1)
	go c.readLoop(conn, c.onMessage, c.onError)
	return nil
}

// fail reports through the error handler and returns the same error. Caller holds mu.
func (c *Conn) fail(op string, err error) error {
	e := &Error{Op: op, Err: err}
	if c.onError != nil {
		c.onError(e)
	}
	return e
}

// Send transmits payload as a single datagram to the remote address.
func (c *Conn) Send(payload string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return c.fail("send", ErrNotOpen)
	}
	if c.remote == nil {
		return c.fail("send", errors.New("no remote address"))
	}
	if _, err := c.conn.WriteToUDP([]byte(payload), c.remote); err != nil {
		return c.fail("send", err)
	}
	return nil
}

// LocalAddr returns the bound address, or nil if not open.
func (c *Conn) LocalAddr() *net.UDPAddr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket and waits for the read loop to exit.
func (c *Conn) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	c.wg.Wait()
	return err
}

func (c *Conn) readLoop(conn *net.UDPConn, onMessage Handler, onError ErrorHandler) {
	defer c.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if onError != nil {
				onError(&Error{Op: "read", Err: err})
			}
			continue
		}
		if onMessage != nil {
			onMessage(string(buf[:n]))
		}
	}
}
