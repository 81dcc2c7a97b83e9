// Package tcp provides the raw TCP transport for chat connections.
package tcp

import (
	"context"
	"fmt"
	"net"
)

// Dial connects to a chat server over plain TCP.
func Dial(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return conn, nil
}
