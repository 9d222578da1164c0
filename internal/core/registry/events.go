package registry

import (
	"github.com/umi3d/umisync/internal/core/dto"
	"github.com/umi3d/umisync/internal/core/events/bus"
	"github.com/umi3d/umisync/internal/core/observability/log"
)

// Lifecycle event types published on the registry topic, which is the
// environment id.
const (
	EventEntityRegistered = "entity.registered"
	EventEntityUpdated    = "entity.updated"
	EventEntityDeleted    = "entity.deleted"
	EventEntityFailed     = "entity.failed"
)

// EntityEvent is the payload of every lifecycle event.
type EntityEvent struct {
	Environment string
	EntityID    uint64
	Dtype       string
	// Property is set for entity.updated.
	Property dto.PropertyKey
	Err      error
}

func (r *Registry) publish(eventType string, ev EntityEvent) {
	if r.bus == nil {
		return
	}
	ev.Environment = r.env
	err := r.bus.PublishToTopic(r.env, bus.NewEventAt(eventType, "registry", ev, r.clock.Now()))
	if err != nil {
		r.logger.Warn("lifecycle handler failed",
			log.String("event", eventType),
			log.EntityID(ev.EntityID),
			log.Error(err),
		)
	}
}
