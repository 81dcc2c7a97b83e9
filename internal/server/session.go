package server

import (
	"errors"

	"github.com/omochice/chatwire/internal/chat"
	"github.com/omochice/chatwire/pkg/protocol"
)

// handlePacket runs on the receive goroutine of p.
func (s *Server) handlePacket(p *peer, packet protocol.Packet) {
	switch packet.Type {
	case protocol.PacketTypeRegistration:
		s.register(p, packet.Field(0))
	case protocol.PacketTypeMessage:
		client, ok := s.registered(p.conn, packet)
		if !ok {
			return
		}
		s.broadcast(func(c *chat.Client, to *peer) {
			to.enqueue(protocol.PacketTypeMessage, client.Username, packet.Field(1))
		})
	case protocol.PacketTypeMap:
		client, ok := s.registered(p.conn, packet)
		if !ok {
			return
		}
		s.broadcast(func(c *chat.Client, to *peer) {
			if c.ID != client.ID {
				to.enqueue(protocol.PacketTypeMap, packet.Field(0))
			}
		})
	case protocol.PacketTypeQuit:
		p.conn.Disconnect()
	default:
		s.logger.Debug("Ignoring packet", "type", packet.Type.String(), "sender", packet.SenderID)
	}
}

func (s *Server) register(p *peer, username string) {
	conn := p.conn
	if conn.ID() != chat.UnassignedID {
		s.logger.Warn("Ignoring second registration", "id", conn.ID(), "username", username)
		return
	}

	if username == "" {
		s.deny(p, username)
		return
	}

	client, err := s.hub.Register(username, conn)
	if errors.Is(err, chat.ErrNameTaken) {
		s.deny(p, username)
		return
	}
	if err != nil {
		s.logger.Error("Failed to register client", "username", username, "error", err)
		return
	}

	if err := conn.SetID(client.ID); err != nil {
		s.logger.Error("Failed to assign connection id", "username", username, "error", err)
		s.hub.Unregister(client.ID)
		return
	}

	s.logger.Info("Client registered", "id", client.ID, "username", username)

	// Every client, the newcomer included, learns about the registration.
	s.broadcast(func(_ *chat.Client, to *peer) {
		to.enqueue(protocol.PacketTypeWelcome, client.ID, client.Username)
	})
}

func (s *Server) deny(p *peer, username string) {
	s.logger.Info("Name denied", "username", username)
	p.enqueue(protocol.PacketTypeNameDenied, username)
}

// registered returns the client owning conn, logging packets from peers
// that have not registered yet.
func (s *Server) registered(conn *chat.Connection, packet protocol.Packet) (*chat.Client, bool) {
	client, ok := s.hub.Lookup(conn.ID())
	if !ok {
		s.logger.Warn("Dropping packet from unregistered peer", "type", packet.Type.String())
	}
	return client, ok
}

// leave is the OnDisconnect callback of every peer connection.
func (s *Server) leave(conn *chat.Connection, cause error) {
	client := s.hub.Unregister(conn.ID())
	if client == nil {
		return
	}

	if cause != nil {
		s.logger.Info("Client lost", "id", client.ID, "username", client.Username, "error", cause)
	} else {
		s.logger.Info("Client left", "id", client.ID, "username", client.Username)
	}

	s.broadcast(func(_ *chat.Client, to *peer) {
		to.enqueue(protocol.PacketTypeQuit, client.ID)
	})
}

// broadcast calls send with the queue of every registered client. Sends
// never block; a peer that falls behind is dropped by its queue.
func (s *Server) broadcast(send func(*chat.Client, *peer)) {
	for _, c := range s.hub.Clients() {
		if to := s.peerOf(c.Conn); to != nil {
			send(c, to)
		}
	}
}
