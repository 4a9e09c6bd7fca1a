package usecase

import (
	"context"
	"time"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// publishEvent is the shared event publishing helper for the usecase layer.
// If bus is nil, this is a no-op.
func publishEvent(ctx context.Context, bus domain.EventBus, event domain.Event) {
	if bus == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	bus.Publish(ctx, event)
}
