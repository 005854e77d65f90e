package notifications

import (
	"container/list"
	"fmt"
	"sync"

	events "github.com/docker/go-events"

	"github.com/eventmosaic/gdelt/internal/dcontext"
)

// eventQueue accepts messages into a queue for asynchronous consumption by
// a sink. It is bounded: once limit events are pending, new writes are
// dropped and logged rather than blocking the pipeline.
type eventQueue struct {
	sink      events.Sink
	limit     int
	events    *list.List
	listeners []eventQueueListener
	cond      *sync.Cond
	mu        sync.Mutex
	closed    bool
}

// eventQueueListener is called when various events happen on the queue.
type eventQueueListener interface {
	ingress(event events.Event)
	egress(event events.Event)
	dropped(event events.Event)
}

// newEventQueue returns a queue to the provided sink. If listeners are
// provided, they will be called to update metrics on ingress, egress and
// drop. A non-positive limit makes the queue unbounded.
func newEventQueue(sink events.Sink, limit int, listeners ...eventQueueListener) *eventQueue {
	eq := eventQueue{
		sink:      sink,
		limit:     limit,
		events:    list.New(),
		listeners: listeners,
	}

	eq.cond = sync.NewCond(&eq.mu)
	go eq.run()
	return &eq
}

// Write accepts the event into the queue, failing if the queue has been
// closed and dropping when the bound is reached.
func (eq *eventQueue) Write(event events.Event) error {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if eq.closed {
		return events.ErrSinkClosed
	}

	if eq.limit > 0 && eq.events.Len() >= eq.limit {
		for _, listener := range eq.listeners {
			listener.dropped(event)
		}
		dcontext.GetLogger(dcontext.Background()).Warnf("eventqueue: queue full (%d), dropping event", eq.limit)
		return nil
	}

	for _, listener := range eq.listeners {
		listener.ingress(event)
	}
	eq.events.PushBack(event)
	eq.cond.Signal() // signal waiters

	return nil
}

// Close shuts down the event queue, flushing
func (eq *eventQueue) Close() error {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if eq.closed {
		return fmt.Errorf("eventqueue: already closed")
	}

	// set closed flag
	eq.closed = true
	eq.cond.Signal() // signal flushes queue
	eq.cond.Wait()   // wait for signal from last flush

	return eq.sink.Close()
}

// run is the main goroutine to flush events to the target sink.
func (eq *eventQueue) run() {
	for {
		event := eq.next()

		if event == nil {
			return // nil block means event queue is closed.
		}

		if err := eq.sink.Write(event); err != nil {
			dcontext.GetLogger(dcontext.Background()).Warnf("eventqueue: error writing event to %v, event lost: %v", eq.sink, err)
		}

		for _, listener := range eq.listeners {
			listener.egress(event)
		}
	}
}

// next encompasses the critical section of the run loop. When the queue is
// empty, it will block on the condition. If new data arrives, it will wake
// and return a block. When closed, a nil event will be returned.
func (eq *eventQueue) next() events.Event {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	for eq.events.Len() < 1 {
		if eq.closed {
			eq.cond.Broadcast()
			return nil
		}

		eq.cond.Wait()
	}

	front := eq.events.Front()
	block := front.Value.(events.Event)
	eq.events.Remove(front)

	return block
}
