// Package client implements a chat client over raw TCP or WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/omochice/chatwire/internal/chat"
	"github.com/omochice/chatwire/internal/transport/tcp"
	"github.com/omochice/chatwire/internal/transport/ws"
	"github.com/omochice/chatwire/pkg/protocol"
)

var (
	// ErrNotConnected is returned when sending before Connect.
	ErrNotConnected = errors.New("not connected to server")

	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("client already connected")
)

// Transports accepted in Config.Transport.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Config holds the client settings.
type Config struct {
	// Address is "host:port" for TCP or a ws:// URL for WebSocket.
	Address string

	// Transport is TransportTCP or TransportWebSocket. When empty it is
	// inferred from the address scheme.
	Transport string

	// Username is the name registered with the server.
	Username string

	// Connection configures the underlying connection.
	Connection chat.Config
}

// Client represents a chat client
type Client struct {
	cfg        Config
	conn       *chat.Connection
	connecting bool
	packets    chan protocol.Packet
	mu         sync.RWMutex
	done       chan struct{}
	doneOnce   sync.Once
}

// New creates a new Client instance
func New(cfg Config) *Client {
	if cfg.Transport == "" {
		cfg.Transport = TransportTCP
		if strings.HasPrefix(cfg.Address, "ws://") || strings.HasPrefix(cfg.Address, "wss://") {
			cfg.Transport = TransportWebSocket
		}
	}
	return &Client{
		cfg:     cfg,
		packets: make(chan protocol.Packet, 16),
		done:    make(chan struct{}),
	}
}

// Connect dials the server and starts receiving packets. A Client connects
// at most once; concurrent calls fail with ErrAlreadyConnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)

	c.mu.Lock()
	c.connecting = false
	if err == nil {
		c.conn = conn
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	go func() {
		<-conn.Done()
		close(c.packets)
	}()
	return nil
}

func (c *Client) dial(ctx context.Context) (*chat.Connection, error) {
	var (
		stream chat.Stream
		err    error
	)
	switch c.cfg.Transport {
	case TransportTCP:
		stream, err = tcp.Dial(ctx, c.cfg.Address)
	case TransportWebSocket:
		stream, err = ws.Dial(ctx, c.cfg.Address)
	default:
		return nil, fmt.Errorf("unknown transport %q", c.cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	conn := chat.NewConnection(stream, c.cfg.Connection)
	if err := conn.StartListening(c.receive(conn)); err != nil {
		conn.Disconnect()
		return nil, err
	}
	return conn, nil
}

// receive returns the packet handler for conn. A Welcome for our own
// username carries the id the server assigned to us.
func (c *Client) receive(conn *chat.Connection) chat.Handler {
	return func(p protocol.Packet) {
		if p.Type == protocol.PacketTypeWelcome && p.Field(1) == c.cfg.Username && conn.ID() == chat.UnassignedID {
			_ = conn.SetID(p.Field(0))
		}

		select {
		case c.packets <- p:
		case <-c.done:
		}
	}
}

// Disconnect announces the departure and closes the connection.
func (c *Client) Disconnect() {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		conn.Disconnect()
		<-conn.Done()
	}
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// ID returns the id assigned by the server, or chat.UnassignedID before
// the registration was accepted.
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return chat.UnassignedID
	}
	return c.conn.ID()
}

// Register asks the server to register the configured username.
func (c *Client) Register() error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.SendRegistration(c.cfg.Username)
}

// SendMessage sends a chat message to the server
func (c *Client) SendMessage(body string) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.SendMessage(c.cfg.Username, body)
}

// SendMap shares a map with the other clients.
func (c *Client) SendMap(m string) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.SendMap(m)
}

// Packets returns the channel of received packets. It is closed when the
// connection is lost or Disconnect is called.
func (c *Client) Packets() <-chan protocol.Packet {
	return c.packets
}

func (c *Client) connection() (*chat.Connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}
