// Package transport accepts chat peers speaking either raw TCP or WebSocket
// on the same port.
package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/omochice/chatwire/internal/chat"
	"github.com/omochice/chatwire/internal/transport/ws"
)

// Kind identifies the transport a peer is speaking.
type Kind int

const (
	KindTCP Kind = iota
	KindWebSocket
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"), // OPTIONS
	[]byte("PATC"), // PATCH
	[]byte("DELE"), // DELETE
	[]byte("CONN"), // CONNECT
}

// Detect peeks at the first bytes of conn to determine the transport.
// The returned reader still holds the peeked bytes.
//
// Raw TCP peers start with a frame length header, which never begins with
// an HTTP method.
func Detect(conn net.Conn) (Kind, *bufio.Reader, error) {
	reader := bufio.NewReader(conn)

	peek, err := reader.Peek(4)
	if err != nil {
		return KindTCP, reader, err
	}

	for _, method := range httpMethods {
		if bytes.HasPrefix(peek, method) {
			return KindWebSocket, reader, nil
		}
	}
	return KindTCP, reader, nil
}

// Negotiate detects the transport spoken on conn and returns a stream for
// it, upgrading WebSocket peers. When timeout is positive it bounds the
// detection and handshake.
func Negotiate(conn net.Conn, timeout time.Duration) (chat.Stream, Kind, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, KindTCP, fmt.Errorf("failed to set handshake deadline: %w", err)
		}
		defer conn.SetReadDeadline(time.Time{})
	}

	kind, reader, err := Detect(conn)
	if err != nil {
		return nil, kind, fmt.Errorf("failed to detect protocol: %w", err)
	}

	switch kind {
	case KindWebSocket:
		stream, err := ws.Upgrade(conn, reader)
		if err != nil {
			return nil, kind, err
		}
		return stream, kind, nil
	default:
		return &bufferedConn{Conn: conn, reader: reader}, kind, nil
	}
}

// bufferedConn wraps a net.Conn with a bufio.Reader to preserve peeked data
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}
