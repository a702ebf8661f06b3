package bus

import (
	"context"

	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/sse"
)

// Publisher adapts a Bus to the sse.Broadcaster the services publish
// through. Messages come back to every instance, this one included, via the
// forwarder, so nothing is delivered locally here. On a publish failure the
// message is delivered straight to the local hub rather than lost.
type Publisher struct {
	log *logger.Logger
	bus Bus
	hub *sse.SSEHub
}

func NewPublisher(log *logger.Logger, b Bus, hub *sse.SSEHub) *Publisher {
	return &Publisher{log: log.With("component", "BusPublisher"), bus: b, hub: hub}
}

func (p *Publisher) Broadcast(msg sse.SSEMessage) {
	if err := p.bus.Publish(context.Background(), msg); err != nil {
		p.log.Warn("bus publish failed, delivering locally", "error", err)
		if p.hub != nil {
			p.hub.Broadcast(msg)
		}
	}
}
