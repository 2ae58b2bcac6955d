package notify

import (
	"context"

	"go.uber.org/zap"

	"poscal/internal/observability"
)

// QueueEmitter buffers events for a Dispatcher. A full queue drops the event.
type QueueEmitter struct {
	ch      chan Event
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewQueue(size int, logger *zap.Logger, metrics *observability.Metrics) *QueueEmitter {
	if size <= 0 {
		size = 256
	}
	return &QueueEmitter{ch: make(chan Event, size), logger: logger, metrics: metrics}
}

func (q *QueueEmitter) Emit(ctx context.Context, ev Event) {
	if q == nil {
		return
	}
	select {
	case q.ch <- ev:
		q.metrics.NotificationQueued(ev.Type)
	default:
		q.metrics.NotificationDropped()
		if q.logger != nil {
			q.logger.Warn("notification queue full, event dropped",
				zap.String("type", ev.Type),
				zap.String("signal_id", ev.SignalID),
			)
		}
	}
}

func (q *QueueEmitter) Events() <-chan Event {
	return q.ch
}

func (q *QueueEmitter) Len() int {
	return len(q.ch)
}

// Discard is an Emitter that drops everything.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}
