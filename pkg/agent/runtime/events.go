package runtime

import (
	"context"
	"log/slog"

	"specter/pkg/bus"
)

// ObserveEvents logs every lifecycle event published on messageBus until ctx
// is done or the bus closes.
func ObserveEvents(ctx context.Context, messageBus *bus.MessageBus, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.events")

	// Slow consumers drop events in the bus layer; workers never block on logging.
	events, unsubscribe := messageBus.SubscribeEvents(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"request_id", event.RequestID,
		"channel", event.Channel,
		"session_key", event.SessionKey,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch {
	case event.Type.Failed():
		log.Error("Session event", append(attrs, "error", event.Error)...)
	case event.Type == bus.EventInputRejected:
		log.Warn("Session event", attrs...)
	case event.Type == bus.EventUtteranceAccepted,
		event.Type == bus.EventDispatchCompleted,
		event.Type == bus.EventDispatchCancelled,
		event.Type == bus.EventSessionReset:
		log.Info("Session event", attrs...)
	default:
		log.Debug("Session event", attrs...)
	}
}
