package notifications

import (
	events "github.com/docker/go-events"

	"github.com/eventmosaic/gdelt"
)

// EventBus is the in-process dispatch fabric between the archive pipeline
// and the listener. Emit never blocks on downstream work: events land in a
// bounded queue drained by the listener goroutine.
type EventBus struct {
	broadcaster *events.Broadcaster
	queue       *eventQueue
}

// NewEventBus stacks a broadcaster over a bounded queue draining into the
// listener. Additional sinks receive every event undelayed by the queue.
func NewEventBus(listener *Listener, queueSize int, extra ...events.Sink) *EventBus {
	queue := newEventQueue(listener, queueSize, listener.metrics.eventQueueListener())

	sinks := append([]events.Sink{queue}, extra...)
	return &EventBus{
		broadcaster: events.NewBroadcaster(sinks...),
		queue:       queue,
	}
}

// Emit dispatches one extracted-archive event. An error means the bus is
// shut down; a full queue drops and logs instead of failing.
func (b *EventBus) Emit(event gdelt.ExtractedEvent) error {
	return b.broadcaster.Write(event)
}

// Close stops the broadcaster, which drains and closes the queue and its
// listener in turn.
func (b *EventBus) Close() error {
	return b.broadcaster.Close()
}
