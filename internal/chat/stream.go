// Package chat provides the peer connection shared by the chat server and
// client, independent of the underlying transport.
package chat

import (
	"io"
	"net"
)

// Stream abstracts the bidirectional byte stream a Connection owns.
// net.Conn satisfies it, as do the WebSocket adapters.
type Stream interface {
	io.ReadWriteCloser

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() net.Addr
}
