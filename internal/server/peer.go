package server

import (
	"log/slog"
	"sync"

	"github.com/omochice/chatwire/internal/chat"
	"github.com/omochice/chatwire/pkg/protocol"
)

// DefaultQueueSize is the number of packets buffered per peer before the
// peer is considered too slow and dropped.
const DefaultQueueSize = 64

// outbound is a packet waiting in a peer's queue.
type outbound struct {
	pt     protocol.PacketType
	fields []string
}

// peer owns the outgoing queue of one connection. Packets are written by a
// single writer goroutine so a peer that stops reading only stalls itself.
type peer struct {
	conn     *chat.Connection
	outgoing chan outbound
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	dropOnce sync.Once
}

func newPeer(conn *chat.Connection, queueSize int, logger *slog.Logger) *peer {
	return &peer{
		conn:     conn,
		outgoing: make(chan outbound, queueSize),
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// enqueue queues a packet without blocking. A peer whose queue is full is
// disconnected.
func (p *peer) enqueue(pt protocol.PacketType, fields ...string) {
	select {
	case <-p.stop:
		return
	default:
	}

	select {
	case p.outgoing <- outbound{pt: pt, fields: fields}:
	default:
		p.dropOnce.Do(func() {
			p.logger.Warn("Peer queue full, disconnecting", "id", p.conn.ID())
			go p.conn.Disconnect()
		})
	}
}

// writeLoop sends queued packets until close is called.
func (p *peer) writeLoop() {
	for {
		select {
		case <-p.stop:
			return
		case out := <-p.outgoing:
			if err := p.conn.Send(out.pt, out.fields...); err != nil {
				p.logger.Debug("Failed to deliver packet", "id", p.conn.ID(), "error", err)
			}
		}
	}
}

func (p *peer) close() {
	p.stopOnce.Do(func() { close(p.stop) })
}
