// Package notifications carries extracted-archive events from the pipeline
// to the message bus. Events pass through a broadcaster into a bounded
// queue consumed by a single listener, which registers delivery intent in
// the status store before handing each URL to the publisher. Broker
// acknowledgments flow back through Ack.
package notifications

import (
	"context"
	"fmt"

	events "github.com/docker/go-events"

	"github.com/eventmosaic/gdelt"
	"github.com/eventmosaic/gdelt/bus"
	"github.com/eventmosaic/gdelt/internal/dcontext"
	"github.com/eventmosaic/gdelt/tracking"
)

// Listener consumes ExtractedEvents. For each produced URL it records a
// send-status entry and enqueues a publish. Classification happens first;
// an archive matching no feed series drops the whole event.
type Listener struct {
	ctx       context.Context
	resolver  *bus.TopicResolver
	status    tracking.StatusStore
	publisher bus.Publisher
	metrics   *safeMetrics
}

var _ events.Sink = &Listener{}

// NewListener wires a listener to its collaborators. The context carries
// the logger used for handler failures.
func NewListener(ctx context.Context, resolver *bus.TopicResolver, status tracking.StatusStore, publisher bus.Publisher) *Listener {
	l := &Listener{
		ctx:       ctx,
		resolver:  resolver,
		status:    status,
		publisher: publisher,
		metrics:   newSafeMetrics(),
	}
	register(l.metrics)
	return l
}

// Write handles one event from the queue. Only gdelt.ExtractedEvent is
// accepted.
func (l *Listener) Write(event events.Event) error {
	extracted, ok := event.(gdelt.ExtractedEvent)
	if !ok {
		return fmt.Errorf("listener: unexpected event type %T", event)
	}

	logger := dcontext.GetLoggerWithField(l.ctx, "archive", extracted.Archive.FileName)

	topic, err := l.resolver.Resolve(extracted.Archive.FileName)
	if err != nil {
		// The hash is already committed by now; these URLs are stranded
		// until the archive changes upstream.
		l.metrics.unclassified()
		logger.Errorf("listener: dropping event: %v", err)
		return nil
	}

	for _, url := range extracted.ObjectURLs {
		if err := l.status.Register(l.ctx, extracted.Archive.FileName, url); err != nil {
			// Non-fatal: the send still goes out, only retry coverage
			// is lost for this URL.
			l.metrics.registered(err)
			logger.Errorf("listener: registering send status for %s: %v", url, err)
		} else {
			l.metrics.registered(nil)
		}

		err := l.publisher.Send(topic, url)
		l.metrics.published(err)
		if err != nil {
			logger.Errorf("listener: publishing %s to %s: %v", url, topic, err)
		}
	}

	return nil
}

// Close implements events.Sink.
func (l *Listener) Close() error {
	return nil
}

// Ack records a broker acknowledgment for url, flipping its send-status
// record. Wire this as the publisher's ack callback.
func (l *Listener) Ack(url string) {
	l.metrics.acked()

	ok, err := l.status.MarkSent(l.ctx, url)
	if err != nil {
		dcontext.GetLogger(l.ctx).Errorf("listener: marking %s sent: %v", url, err)
		return
	}
	if !ok {
		// Expired before the ack arrived; nothing to flip.
		dcontext.GetLogger(l.ctx).Warnf("listener: ack for unknown url %s", url)
	}
}

// Nack records a failed delivery for url after the producer exhausted its
// retries. The status record stays unsent for the retry sweep. Wire this
// as the publisher's error callback.
func (l *Listener) Nack(url string, err error) {
	l.metrics.published(err)
}
