package manager

import (
	"context"

	"github.com/tokenized/logger"
	"github.com/tokenized/remittance"
)

// listenerRegistry holds the manager's event listeners, keyed by the EventType they subscribe
// to, plus any listeners subscribed to every event (spec section 4.7, "Events").
type listenerRegistry struct {
	byType map[remittance.EventType][]remittance.Listener
	any    []remittance.Listener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{
		byType: make(map[remittance.EventType][]remittance.Listener),
	}
}

// On registers listener for events of exactly eventType.
func (r *listenerRegistry) On(eventType remittance.EventType, listener remittance.Listener) {
	r.byType[eventType] = append(r.byType[eventType], listener)
}

// OnAny registers listener for every event the manager emits.
func (r *listenerRegistry) OnAny(listener remittance.Listener) {
	r.any = append(r.any, listener)
}

func (r *listenerRegistry) emit(ctx context.Context, event remittance.Event) {
	if event.Thread != nil {
		logger.VerboseWithFields(ctx, []logger.Field{
			logger.String("thread_id", string(event.Thread.ThreadID)),
			logger.String("event", event.Type.String()),
		}, "Emitting event")
	}

	call := func(listener remittance.Listener) {
		defer func() {
			if p := recover(); p != nil {
				logger.Warn(ctx, "Event listener panic : %v", p)
			}
		}()
		listener(event)
	}

	for _, listener := range r.byType[event.Type] {
		call(listener)
	}
	for _, listener := range r.any {
		call(listener)
	}
}
