package server

import (
	"time"

	"github.com/umi3d/umisync/internal/core/events/bus"
	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/core/observability/metrics"
	"github.com/umi3d/umisync/internal/transport"
)

// Peer event types, published on the default topic of the server's bus.
const (
	EventPeerJoined = "peer.joined"
	EventPeerLeft   = "peer.left"
)

// PeerEvent is the payload of the peer events.
type PeerEvent struct {
	Environment string
	PeerID      string
	Transport   string
}

func (s *Server) publishPeer(eventType string, env *Environment, conn transport.Conn) {
	if s.bus == nil {
		return
	}
	ev := bus.NewEventAt(eventType, "server", PeerEvent{
		Environment: env.ID(),
		PeerID:      conn.ID(),
		Transport:   conn.Transport(),
	}, s.config.Clock.Now())
	if err := s.bus.Publish(ev); err != nil {
		s.logger.Warn("peer event handler failed", log.String("event", eventType), log.Peer(conn.ID()), log.Error(err))
	}
}

// busObserver exports the deliveries of the server's bus as metrics.
type busObserver struct {
	logger log.Log
}

func (o *busObserver) OnPublish(string, string, bus.Event) {}

func (o *busObserver) OnDelivered(topic, eventType string, handlers int, err error, took time.Duration) {
	metrics.ReportEvent(eventType, handlers, err)
	if err != nil {
		o.logger.Debug("event handlers failed",
			log.String("topic", topic),
			log.String("event", eventType),
			log.Duration("took", took),
			log.Error(err))
	}
}
