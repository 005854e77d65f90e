// Package kafka publishes object URLs with a sarama async producer. The
// producer is configured idempotent (acks=all, one in-flight request) so
// broker-side retries cannot reorder or duplicate within a session; the
// collector's own retry loop still makes overall delivery at-least-once.
package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"

	"github.com/eventmosaic/gdelt/bus"
	"github.com/eventmosaic/gdelt/internal/dcontext"
)

// AckFunc is invoked once per broker-acknowledged message with the URL that
// was delivered.
type AckFunc func(url string)

// ErrFunc is invoked once per failed delivery after producer retries are
// exhausted.
type ErrFunc func(url string, err error)

type publisher struct {
	producer sarama.AsyncProducer
	wg       sync.WaitGroup
	closed   chan struct{}
}

var _ bus.Publisher = &publisher{}

// NewPublisher connects an async producer to the brokers and starts the
// delivery observers. onAck fires on broker acknowledgment, onErr after the
// producer gives up on a message.
func NewPublisher(ctx context.Context, brokers []string, onAck AckFunc, onErr ErrFunc) (bus.Publisher, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_0_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka: connecting producer to %v: %w", brokers, err)
	}

	return newWithProducer(ctx, producer, onAck, onErr), nil
}

// newWithProducer is the seam tests use with a mock producer.
func newWithProducer(ctx context.Context, producer sarama.AsyncProducer, onAck AckFunc, onErr ErrFunc) *publisher {
	p := &publisher{
		producer: producer,
		closed:   make(chan struct{}),
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for msg := range producer.Successes() {
			if url, ok := msg.Metadata.(string); ok && onAck != nil {
				onAck(url)
			}
		}
	}()
	go func() {
		defer p.wg.Done()
		for perr := range producer.Errors() {
			url, _ := perr.Msg.Metadata.(string)
			dcontext.GetLogger(ctx).Errorf("kafka: delivery failed for %s on %s: %v", url, perr.Msg.Topic, perr.Err)
			if onErr != nil {
				onErr(url, perr.Err)
			}
		}
	}()

	return p
}

func (p *publisher) Send(topic, url string) error {
	select {
	case <-p.closed:
		return fmt.Errorf("kafka: publisher closed")
	default:
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic:    topic,
		Value:    sarama.StringEncoder(url),
		Metadata: url,
	}
	return nil
}

// Close drains the producer and waits for both observer loops to see their
// channels close.
func (p *publisher) Close() error {
	close(p.closed)
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
