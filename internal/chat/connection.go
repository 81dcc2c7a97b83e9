package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/chatwire/pkg/protocol"
)

// UnassignedID is the connection id used until the application assigns one.
const UnassignedID = "-1"

// DefaultBufferSize is the receive buffer size used when Config.BufferSize is zero.
const DefaultBufferSize = 4096

// DefaultCloseTimeout bounds the writes made while disconnecting.
const DefaultCloseTimeout = time.Second

var (
	// ErrIllegalState is returned when an operation is not allowed in the
	// connection's current state.
	ErrIllegalState = errors.New("illegal connection state")

	// ErrIDAssigned is returned by SetID when the id was already assigned.
	ErrIDAssigned = errors.New("connection id already assigned")
)

// Handler receives every packet decoded by the receive loop. It runs on the
// receive goroutine; a handler that blocks stalls delivery for the connection.
type Handler func(protocol.Packet)

// Config holds optional connection settings. Zero values select defaults.
type Config struct {
	// Logger receives connection diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// BufferSize is the size of the receive buffer.
	BufferSize int

	// MaxFrameSize bounds the body length of a received frame.
	MaxFrameSize int

	// OnDisconnect is called exactly once when the connection becomes
	// disconnected. The cause is nil for a local Disconnect.
	OnDisconnect func(cause error)

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// CloseTimeout bounds the Quit write, and any write still in flight,
	// when disconnecting a stream that supports write deadlines.
	// Defaults to DefaultCloseTimeout.
	CloseTimeout time.Duration
}

// writeDeadliner is implemented by streams whose writes can be bounded.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Connection wraps one Stream: it runs a single receive loop delivering
// packets to a Handler and exposes typed senders for every packet type.
//
// Senders may be called from any goroutine, concurrently with the receive
// loop and with each other; frames are written whole.
type Connection struct {
	stream       Stream
	logger       *slog.Logger
	bufferSize   int
	maxFrameSize int
	onDisconnect func(error)
	now          func() time.Time
	closeTimeout time.Duration

	idMu       sync.RWMutex
	id         string
	idAssigned bool

	writeMu sync.Mutex

	connected    atomic.Bool
	listening    atomic.Bool
	closing      atomic.Bool
	lastExchange atomic.Int64

	disconnectOnce sync.Once
	done           chan struct{}
}

// NewConnection wraps stream in a connected Connection. The Connection takes
// ownership of the stream and closes it on Disconnect.
func NewConnection(stream Stream, cfg Config) *Connection {
	c := &Connection{
		stream:       stream,
		logger:       cfg.Logger,
		bufferSize:   cfg.BufferSize,
		maxFrameSize: cfg.MaxFrameSize,
		onDisconnect: cfg.OnDisconnect,
		now:          cfg.Now,
		closeTimeout: cfg.CloseTimeout,
		id:           UnassignedID,
		done:         make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.bufferSize <= 0 {
		c.bufferSize = DefaultBufferSize
	}
	if c.maxFrameSize <= 0 {
		c.maxFrameSize = protocol.DefaultMaxFrameSize
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.closeTimeout <= 0 {
		c.closeTimeout = DefaultCloseTimeout
	}
	if addr := stream.RemoteAddr(); addr != nil {
		c.logger = c.logger.With("remote", addr.String())
	}

	c.connected.Store(true)
	c.lastExchange.Store(c.now().UnixNano())
	return c
}

// ID returns the connection id.
func (c *Connection) ID() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.id
}

// SetID assigns the connection id. It may be called once.
func (c *Connection) SetID(id string) error {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	if c.idAssigned {
		return fmt.Errorf("%w: %s", ErrIDAssigned, c.id)
	}
	c.id = id
	c.idAssigned = true
	return nil
}

// IsConnected reports whether the connection is still usable. Once false it
// stays false.
func (c *Connection) IsConnected() bool {
	return c.connected.Load()
}

// LastExchangeTime returns the time of the last successful send.
func (c *Connection) LastExchangeTime() time.Time {
	return time.Unix(0, c.lastExchange.Load())
}

// RemoteAddr returns the peer address of the underlying stream.
func (c *Connection) RemoteAddr() net.Addr {
	return c.stream.RemoteAddr()
}

// Done returns a channel closed when the receive loop exits. It is never
// closed if StartListening was not called.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// StartListening starts the receive loop. It fails with ErrIllegalState if
// the connection is disconnected or a loop was already started.
func (c *Connection) StartListening(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrIllegalState)
	}
	if !c.connected.Load() {
		return fmt.Errorf("%w: connection must be connected before listening", ErrIllegalState)
	}
	if !c.listening.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: connection is already listening", ErrIllegalState)
	}

	go c.listen(handler)
	return nil
}

func (c *Connection) listen(handler Handler) {
	defer close(c.done)

	reader := bufio.NewReaderSize(c.stream, c.bufferSize)
	for c.connected.Load() && !c.closing.Load() {
		body, err := protocol.ReadFrame(reader, c.maxFrameSize)
		if err != nil {
			c.receiveFailed(err)
			return
		}

		var p protocol.Packet
		if err := p.Decode(body); err != nil {
			c.logger.Warn("Dropping malformed packet", "id", c.ID(), "error", err)
			continue
		}

		handler(p)
	}
}

func (c *Connection) receiveFailed(err error) {
	switch {
	case c.closing.Load():
		c.logger.Debug("Receive loop stopped", "id", c.ID())
	case errors.Is(err, io.EOF):
		c.logger.Info("Connection closed by peer", "id", c.ID())
		c.notifyDisconnect(c.markDisconnected(), err)
	default:
		c.logger.Warn("Connection lost", "id", c.ID(), "error", err)
		c.notifyDisconnect(c.markDisconnected(), err)
	}
}

// markDisconnected reports whether this call made the connection disconnected.
func (c *Connection) markDisconnected() bool {
	return c.connected.CompareAndSwap(true, false)
}

func (c *Connection) notifyDisconnect(transitioned bool, cause error) {
	if transitioned && c.onDisconnect != nil {
		c.onDisconnect(cause)
	}
}

// Send builds a packet of the given type stamped with the connection id and
// writes it as a single frame. fields must match the field table of pt.
func (c *Connection) Send(pt protocol.PacketType, fields ...string) error {
	if err := protocol.CheckFields(pt, fields); err != nil {
		return fmt.Errorf("failed to send %s packet: %w", pt, err)
	}

	p := protocol.NewPacket(pt, c.ID(), fields...)
	body, err := p.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	err = protocol.WriteFrame(c.stream, body)
	if err == nil {
		c.touch()
	}
	c.writeMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to send %s packet: %w", pt, err)
	}
	return nil
}

// touch advances the last exchange time, never moving it backward.
func (c *Connection) touch() {
	now := c.now().UnixNano()
	for {
		last := c.lastExchange.Load()
		if now <= last || c.lastExchange.CompareAndSwap(last, now) {
			return
		}
	}
}

// SendRegistration asks the peer to register the given name.
func (c *Connection) SendRegistration(from string) error {
	return c.Send(protocol.PacketTypeRegistration, from)
}

// SendNameDenied tells the peer the requested name is not available.
func (c *Connection) SendNameDenied(deniedName string) error {
	return c.Send(protocol.PacketTypeNameDenied, deniedName)
}

// SendWelcome confirms a registration.
func (c *Connection) SendWelcome(clientID, username string) error {
	return c.Send(protocol.PacketTypeWelcome, clientID, username)
}

// SendQuit announces that clientID left.
func (c *Connection) SendQuit(clientID string) error {
	return c.Send(protocol.PacketTypeQuit, clientID)
}

// SendMessage sends a chat message.
func (c *Connection) SendMessage(from, msg string) error {
	return c.Send(protocol.PacketTypeMessage, from, msg)
}

// SendMap sends a serialized map.
func (c *Connection) SendMap(m string) error {
	return c.Send(protocol.PacketTypeMap, m)
}

// Disconnect announces the departure to the peer, closes the stream and
// marks the connection disconnected. Failures are logged, never returned.
// Calls after the first are no-ops, including calls made from OnDisconnect.
func (c *Connection) Disconnect() {
	var transitioned bool
	c.disconnectOnce.Do(func() {
		transitioned = c.disconnect()
	})
	c.notifyDisconnect(transitioned, nil)
}

func (c *Connection) disconnect() bool {
	c.closing.Store(true)

	// A peer that stopped reading must not hold the write lock forever.
	if d, ok := c.stream.(writeDeadliner); ok {
		if err := d.SetWriteDeadline(time.Now().Add(c.closeTimeout)); err != nil {
			c.logger.Debug("Failed to set close deadline", "id", c.ID(), "error", err)
		}
	}

	if c.connected.Load() {
		if err := c.SendQuit(c.ID()); err != nil {
			c.logger.Warn("Connection was already broken", "id", c.ID(), "error", err)
		}
	}
	if err := c.stream.Close(); err != nil {
		c.logger.Warn("Failed to close connection", "id", c.ID(), "error", err)
	}

	return c.markDisconnected()
}

// Close implements io.Closer by calling Disconnect. It always returns nil.
func (c *Connection) Close() error {
	c.Disconnect()
	return nil
}
