package memory

import (
	"context"
	"testing"
	"time"

	"github.com/eventmosaic/gdelt/tracking"
	"github.com/eventmosaic/gdelt/tracking/trackingcheck"
)

func TestMemoryHashStore(t *testing.T) {
	trackingcheck.CheckHashStore(context.Background(), t, NewHashStore(0))
}

func TestMemoryStatusStore(t *testing.T) {
	trackingcheck.CheckStatusStore(context.Background(), t, NewStatusStore(0))
}

func TestHashStoreExpiry(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()

	hs := NewHashStore(time.Hour).(*hashStore)
	hs.now = func() time.Time { return clock }

	if err := hs.Put(ctx, "a.zip", "111"); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(30 * time.Minute)
	if _, err := hs.Stored(ctx, "a.zip"); err != nil {
		t.Fatalf("entry expired early: %v", err)
	}

	clock = clock.Add(31 * time.Minute)
	if _, err := hs.Stored(ctx, "a.zip"); err != tracking.ErrNotFound {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestStatusStoreExpiryAndTTLReset(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()

	ss := NewStatusStore(time.Hour).(*statusStore)
	ss.now = func() time.Time { return clock }

	if err := ss.Register(ctx, "a.zip", "http://x/1"); err != nil {
		t.Fatal(err)
	}

	// markSent near the deadline resets the TTL.
	clock = clock.Add(59 * time.Minute)
	if ok, _ := ss.MarkSent(ctx, "http://x/1"); !ok {
		t.Fatal("markSent failed before expiry")
	}

	clock = clock.Add(59 * time.Minute)
	record, err := ss.Get(ctx, "http://x/1")
	if err != nil {
		t.Fatalf("record expired despite TTL reset: %v", err)
	}
	if !record.Sent {
		t.Fatal("record lost sent flag")
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := ss.Get(ctx, "http://x/1"); err != tracking.ErrNotFound {
		t.Fatalf("expected expiry, got %v", err)
	}
}
