package process

import (
	"context"
	"time"

	"github.com/eventmosaic/gdelt/bus"
	"github.com/eventmosaic/gdelt/internal/dcontext"
	prometheus "github.com/eventmosaic/gdelt/metrics"
	"github.com/eventmosaic/gdelt/tracking"
)

// sweepsCounter counts retry sweeps by outcome
var sweepsCounter = prometheus.PipelineNamespace.NewLabeledCounter("retry_sweeps", "The number of send-status retry sweeps", "outcome")

// CheckScheduler ticks the coordinator on a fixed interval until the
// context is canceled. A failed tick is logged and the cadence continues.
type CheckScheduler struct {
	coordinator *Coordinator
	interval    time.Duration
}

// NewCheckScheduler builds the manifest polling loop.
func NewCheckScheduler(coordinator *Coordinator, interval time.Duration) *CheckScheduler {
	return &CheckScheduler{coordinator: coordinator, interval: interval}
}

// Run blocks until ctx is canceled. The first tick fires after one full
// interval; startup work belongs to the caller.
func (s *CheckScheduler) Run(ctx context.Context) {
	logger := dcontext.GetLogger(ctx)
	logger.Infof("check scheduler: polling every %v", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("check scheduler: stopping")
			return
		case <-ticker.C:
			if err := s.coordinator.Tick(ctx); err != nil {
				logger.Errorf("check scheduler: tick failed: %v", err)
			}
		}
	}
}

// RetryScheduler periodically resends every unsent status record. There is
// no dedup across sweeps; idempotent-producer semantics and consumer-side
// dedup absorb the repeats, and the record TTL caps the window.
type RetryScheduler struct {
	status    tracking.StatusStore
	resolver  *bus.TopicResolver
	publisher bus.Publisher
	interval  time.Duration
}

// NewRetryScheduler builds the send-status retry loop.
func NewRetryScheduler(status tracking.StatusStore, resolver *bus.TopicResolver, publisher bus.Publisher, interval time.Duration) *RetryScheduler {
	return &RetryScheduler{
		status:    status,
		resolver:  resolver,
		publisher: publisher,
		interval:  interval,
	}
}

// Run blocks until ctx is canceled.
func (s *RetryScheduler) Run(ctx context.Context) {
	logger := dcontext.GetLogger(ctx)
	logger.Infof("retry scheduler: sweeping every %v", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("retry scheduler: stopping")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				logger.Errorf("retry scheduler: sweep failed: %v", err)
			}
		}
	}
}

// Sweep resends every pending record once. Records that cannot be
// classified are skipped; their TTL will retire them.
func (s *RetryScheduler) Sweep(ctx context.Context) error {
	logger := dcontext.GetLogger(ctx)

	pending, err := s.status.Pending(ctx)
	if err != nil {
		sweepsCounter.WithValues("failure").Inc()
		return err
	}
	if len(pending) == 0 {
		sweepsCounter.WithValues("empty").Inc()
		return nil
	}

	resent := 0
	for _, record := range pending {
		topic, err := s.resolver.Resolve(record.ArchiveFileName)
		if err != nil {
			logger.Errorf("retry scheduler: %v, skipping %s", err, record.FileURL)
			continue
		}

		if err := s.publisher.Send(topic, record.FileURL); err != nil {
			logger.Errorf("retry scheduler: resending %s: %v", record.FileURL, err)
			continue
		}
		resent++
	}

	sweepsCounter.WithValues("success").Inc()
	logger.Infof("retry scheduler: resent %d/%d pending record(s)", resent, len(pending))
	return nil
}
