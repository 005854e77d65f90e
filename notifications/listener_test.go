package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eventmosaic/gdelt"
	"github.com/eventmosaic/gdelt/bus"
	"github.com/eventmosaic/gdelt/tracking/memory"
)

// recordingPublisher captures sends and optionally refuses them.
type recordingPublisher struct {
	mu    sync.Mutex
	sends []send
	err   error
}

type send struct {
	topic string
	url   string
}

func (p *recordingPublisher) Send(topic, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sends = append(p.sends, send{topic, url})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) snapshot() []send {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]send(nil), p.sends...)
}

func testResolver() *bus.TopicResolver {
	return bus.NewTopicResolver("collector-event-topic", "collector-mention-topic")
}

func TestListenerRegistersAndPublishes(t *testing.T) {
	ctx := context.Background()
	status := memory.NewStatusStore(0)
	publisher := &recordingPublisher{}
	listener := NewListener(ctx, testResolver(), status, publisher)

	event := gdelt.ExtractedEvent{
		Archive: gdelt.ArchiveDescriptor{
			FileName:     "20250323151500.translation.export.CSV.zip",
			ExpectedHash: "111",
		},
		ObjectURLs: []string{
			"http://localhost:9000/gdelt/a.CSV",
			"http://localhost:9000/gdelt/b.CSV",
		},
	}

	if err := listener.Write(event); err != nil {
		t.Fatalf("write: %v", err)
	}

	sends := publisher.snapshot()
	if len(sends) != 2 {
		t.Fatalf("expected 2 sends, got %v", sends)
	}
	for i, s := range sends {
		if s.topic != "collector-event-topic" {
			t.Errorf("send %d: topic %q", i, s.topic)
		}
		if s.url != event.ObjectURLs[i] {
			t.Errorf("send %d: url %q != %q", i, s.url, event.ObjectURLs[i])
		}
	}

	// Registration precedes publication; every URL has an unsent record.
	for _, url := range event.ObjectURLs {
		record, err := status.Get(ctx, url)
		if err != nil {
			t.Fatalf("get %s: %v", url, err)
		}
		if record.Sent {
			t.Errorf("%s marked sent before any ack", url)
		}
		if record.ArchiveFileName != event.Archive.FileName {
			t.Errorf("%s archive %q", url, record.ArchiveFileName)
		}
	}
}

func TestListenerDropsUnclassifiableEvent(t *testing.T) {
	ctx := context.Background()
	status := memory.NewStatusStore(0)
	publisher := &recordingPublisher{}
	listener := NewListener(ctx, testResolver(), status, publisher)

	event := gdelt.ExtractedEvent{
		Archive:    gdelt.ArchiveDescriptor{FileName: "20250323151500.unsupported.zip"},
		ObjectURLs: []string{"http://localhost:9000/gdelt/x.CSV"},
	}

	if err := listener.Write(event); err != nil {
		t.Fatalf("unclassifiable event must be dropped, not failed: %v", err)
	}
	if sends := publisher.snapshot(); len(sends) != 0 {
		t.Errorf("unexpected sends: %v", sends)
	}
	if _, err := status.Get(ctx, event.ObjectURLs[0]); err == nil {
		t.Error("no registration may happen for a dropped event")
	}
}

func TestListenerAckFlipsSentFlag(t *testing.T) {
	ctx := context.Background()
	status := memory.NewStatusStore(0)
	listener := NewListener(ctx, testResolver(), status, &recordingPublisher{})

	const url = "http://localhost:9000/gdelt/a.CSV"
	if err := status.Register(ctx, "20250323151500.translation.export.CSV.zip", url); err != nil {
		t.Fatal(err)
	}

	listener.Ack(url)

	record, err := status.Get(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if !record.Sent {
		t.Error("ack did not mark the record sent")
	}

	// Ack for an unknown URL must not create a record.
	listener.Ack("http://localhost:9000/gdelt/ghost.CSV")
	if _, err := status.Get(ctx, "http://localhost:9000/gdelt/ghost.CSV"); err == nil {
		t.Error("ack resurrected a missing record")
	}
}

func TestListenerPublishFailureKeepsRecordUnsent(t *testing.T) {
	ctx := context.Background()
	status := memory.NewStatusStore(0)
	publisher := &recordingPublisher{err: errors.New("bus saturated")}
	listener := NewListener(ctx, testResolver(), status, publisher)

	event := gdelt.ExtractedEvent{
		Archive:    gdelt.ArchiveDescriptor{FileName: "20250323151500.translation.mentions.CSV.zip"},
		ObjectURLs: []string{"http://localhost:9000/gdelt/m.CSV"},
	}

	if err := listener.Write(event); err != nil {
		t.Fatalf("write: %v", err)
	}

	record, err := status.Get(ctx, event.ObjectURLs[0])
	if err != nil {
		t.Fatalf("record must exist for the retry sweep: %v", err)
	}
	if record.Sent {
		t.Error("failed publish must leave the record unsent")
	}
}

func TestEventBusDeliversAsynchronously(t *testing.T) {
	ctx := context.Background()
	status := memory.NewStatusStore(0)
	publisher := &recordingPublisher{}
	listener := NewListener(ctx, testResolver(), status, publisher)
	eventBus := NewEventBus(listener, 16)

	event := gdelt.ExtractedEvent{
		Archive:    gdelt.ArchiveDescriptor{FileName: "20250323151500.translation.export.CSV.zip"},
		ObjectURLs: []string{"http://localhost:9000/gdelt/a.CSV"},
	}
	if err := eventBus.Emit(event); err != nil {
		t.Fatalf("emit: %v", err)
	}

	// Close drains the queue into the listener.
	if err := eventBus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(publisher.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("event never reached the publisher")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEventBusEmptyURLListStillDelivered(t *testing.T) {
	ctx := context.Background()
	status := memory.NewStatusStore(0)
	publisher := &recordingPublisher{}
	listener := NewListener(ctx, testResolver(), status, publisher)

	// An empty archive still emits; the listener simply has nothing to
	// register or send.
	event := gdelt.ExtractedEvent{
		Archive: gdelt.ArchiveDescriptor{FileName: "20250323151500.translation.export.CSV.zip"},
	}
	if err := listener.Write(event); err != nil {
		t.Fatalf("write: %v", err)
	}
	if sends := publisher.snapshot(); len(sends) != 0 {
		t.Errorf("unexpected sends for empty archive: %v", sends)
	}
}
