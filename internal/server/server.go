// Package server implements the chat server: it accepts raw TCP and
// WebSocket peers on a single port and relays registrations, messages and
// maps between them.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/omochice/chatwire/internal/chat"
	"github.com/omochice/chatwire/internal/transport"
	"github.com/omochice/chatwire/pkg/protocol"
)

// DefaultHandshakeTimeout bounds protocol detection and the WebSocket handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// Config holds the server settings.
type Config struct {
	// Address is the TCP address to listen on, e.g. ":8080".
	Address string

	// HandshakeTimeout bounds protocol detection for a new peer.
	// Defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// QueueSize is the number of outgoing packets buffered per peer.
	// Defaults to DefaultQueueSize.
	QueueSize int

	// Connection is the template for every peer connection.
	// Its OnDisconnect is replaced by the server.
	Connection chat.Config

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server accepts chat peers and routes their packets through a Hub.
type Server struct {
	cfg    Config
	hub    *chat.Hub
	logger *slog.Logger

	listener net.Listener
	conns    map[*chat.Connection]*peer
	mu       sync.RWMutex

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Server that registers clients in hub.
func New(cfg Config, hub *chat.Hub) *Server {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Connection.Logger == nil {
		cfg.Connection.Logger = cfg.Logger
	}
	return &Server{
		cfg:    cfg,
		hub:    hub,
		logger: cfg.Logger,
		conns:  make(map[*chat.Connection]*peer),
		quit:   make(chan struct{}),
	}
}

// Start listens on the configured address and blocks until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	<-s.quit
	return nil
}

// Listen opens the listening socket and starts accepting peers in the
// background.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Server started", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections(listener)
	return nil
}

func (s *Server) acceptConnections(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Failed to accept connection", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Stop closes the listener, disconnects every peer and waits for their
// goroutines to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)

		s.mu.RLock()
		listener := s.listener
		s.mu.RUnlock()
		if listener != nil {
			listener.Close()
		}

		s.wg.Wait()
		s.logger.Info("Server stopped")
	})
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of registered clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// ConnectionCount returns the number of open peer connections, registered or not.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// peerOf returns the peer owning conn, or nil once it was released.
func (s *Server) peerOf(conn *chat.Connection) *peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[conn]
}

func (s *Server) serveConn(raw net.Conn) {
	defer s.wg.Done()

	stream, kind, err := transport.Negotiate(raw, s.cfg.HandshakeTimeout)
	if err != nil {
		s.logger.Warn("Failed to negotiate transport", "remote", raw.RemoteAddr().String(), "error", err)
		raw.Close()
		return
	}

	var conn *chat.Connection
	cfg := s.cfg.Connection
	cfg.OnDisconnect = func(cause error) {
		s.leave(conn, cause)
	}
	conn = chat.NewConnection(stream, cfg)
	p := newPeer(conn, s.cfg.QueueSize, s.logger)

	s.mu.Lock()
	s.conns[conn] = p
	s.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.writeLoop()
	}()
	defer func() {
		p.close()
		<-writerDone

		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	s.logger.Info("Peer connected", "remote", raw.RemoteAddr().String(), "transport", kind.String())

	if err := conn.StartListening(func(packet protocol.Packet) {
		s.handlePacket(p, packet)
	}); err != nil {
		s.logger.Error("Failed to start listening", "error", err)
		conn.Disconnect()
		return
	}

	select {
	case <-conn.Done():
	case <-s.quit:
	}
	conn.Disconnect()
	<-conn.Done()
}
