package bus

import (
	"context"

	"github.com/kestrelworks/infograph-backend/internal/sse"
)

// Bus fans session events out across backend instances so every connected
// SSE stream sees them, not only the instance that produced them.
type Bus interface {
	Publish(ctx context.Context, msg sse.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m sse.SSEMessage)) error
	Close() error
}
