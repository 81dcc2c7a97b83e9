// Package ws provides the WebSocket transport for chat connections.
//
// A Conn presents a WebSocket as a plain byte stream: every Write is sent as
// one binary message and Read returns message payloads in order, buffering
// whatever does not fit into the caller's slice.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts a WebSocket connection to chat.Stream.
type Conn struct {
	conn   net.Conn
	reader io.Reader
	state  ws.State

	readMu        sync.Mutex
	readBuffer    []byte
	readBufferPos int

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(conn net.Conn, reader io.Reader, state ws.State) *Conn {
	if reader == nil {
		reader = conn
	}
	return &Conn{conn: conn, reader: reader, state: state}
}

// Upgrade performs the server side of the WebSocket handshake on conn.
// reader, if not nil, replaces conn as the source of incoming bytes; it is
// used when the first bytes were already peeked for protocol detection.
func Upgrade(conn net.Conn, reader io.Reader) (*Conn, error) {
	c := newConn(conn, reader, ws.StateServerSide)
	if _, err := ws.Upgrade(c.frameIO()); err != nil {
		return nil, fmt.Errorf("failed to upgrade websocket: %w", err)
	}
	return c, nil
}

// Dial connects to a WebSocket chat server, e.g. "ws://localhost:8080/ws".
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	// br holds bytes the server sent right after the handshake, if any.
	var reader io.Reader
	if br != nil {
		reader = br
	}
	return newConn(conn, reader, ws.StateClientSide), nil
}

// Read implements chat.Stream.
func (c *Conn) Read(buf []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	// Return buffered data if available
	if c.readBufferPos < len(c.readBuffer) {
		n := copy(buf, c.readBuffer[c.readBufferPos:])
		c.readBufferPos += n
		if c.readBufferPos >= len(c.readBuffer) {
			c.readBuffer = nil
			c.readBufferPos = 0
		}
		return n, nil
	}

	var data []byte
	for len(data) == 0 {
		msg, _, err := wsutil.ReadData(c.frameIO(), c.state)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return 0, io.EOF
			}
			return 0, err
		}
		data = msg
	}

	n := copy(buf, data)
	if n < len(data) {
		c.readBuffer = data
		c.readBufferPos = n
	}
	return n, nil
}

// Write implements chat.Stream. The whole slice is sent as one binary message.
func (c *Conn) Write(data []byte) (int, error) {
	if err := c.writeFrame(ws.NewBinaryFrame(data)); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close sends a close frame and closes the underlying connection.
func (c *Conn) Close() error {
	err := net.ErrClosed
	c.closeOnce.Do(func() {
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = c.writeFrame(ws.NewCloseFrame(body))
		err = c.conn.Close()
	})
	return err
}

// writeFrame compiles f and writes it with a single Write call.
func (c *Conn) writeFrame(f ws.Frame) error {
	if c.state.ClientSide() {
		f = ws.MaskFrame(f)
	}
	b, err := ws.CompileFrame(f)
	if err != nil {
		return err
	}
	_, err = c.frameIO().Write(b)
	return err
}

// RemoteAddr implements chat.Stream.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetWriteDeadline bounds frame writes on the underlying connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// frameIO returns the reader/writer used for WebSocket frames. Every frame
// is written with one call, so serializing Write keeps control replies sent
// while reading from splitting a data frame.
func (c *Conn) frameIO() io.ReadWriter {
	return frameIO{c}
}

type frameIO struct {
	c *Conn
}

func (f frameIO) Read(p []byte) (int, error) {
	return f.c.reader.Read(p)
}

func (f frameIO) Write(p []byte) (int, error) {
	f.c.writeMu.Lock()
	defer f.c.writeMu.Unlock()
	return f.c.conn.Write(p)
}
