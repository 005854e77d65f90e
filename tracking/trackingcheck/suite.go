// Package trackingcheck provides behavioural suites run against every
// implementation of the tracking store interfaces, keeping the memory and
// redis backends honest with each other.
package trackingcheck

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/eventmosaic/gdelt"
	"github.com/eventmosaic/gdelt/tracking"
)

// CheckHashStore runs the HashStore contract against the provided
// implementation. The store must be empty.
func CheckHashStore(ctx context.Context, t *testing.T, store tracking.HashStore) {
	t.Helper()

	if _, err := store.Stored(ctx, "absent.zip"); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("stored on empty store: expected ErrNotFound, got %v", err)
	}

	changed, err := tracking.IsNewOrChanged(ctx, store, "a.translation.export.CSV.zip", "abc123def")
	if err != nil {
		t.Fatalf("isNewOrChanged on empty store: %v", err)
	}
	if !changed {
		t.Fatal("absent archive must be new")
	}

	if err := store.Put(ctx, "a.translation.export.CSV.zip", "abc123def"); err != nil {
		t.Fatalf("put: %v", err)
	}

	hash, err := store.Stored(ctx, "a.translation.export.CSV.zip")
	if err != nil {
		t.Fatalf("stored after put: %v", err)
	}
	if hash != "abc123def" {
		t.Fatalf("stored hash %q != %q", hash, "abc123def")
	}

	// Same hash, case-insensitively: not changed.
	for _, h := range []string{"abc123def", "ABC123DEF", "aBc123dEf"} {
		changed, err = tracking.IsNewOrChanged(ctx, store, "a.translation.export.CSV.zip", h)
		if err != nil {
			t.Fatalf("isNewOrChanged(%q): %v", h, err)
		}
		if changed {
			t.Fatalf("hash %q must not register as changed", h)
		}
	}

	changed, err = tracking.IsNewOrChanged(ctx, store, "a.translation.export.CSV.zip", "f00dfeed99")
	if err != nil {
		t.Fatalf("isNewOrChanged with new hash: %v", err)
	}
	if !changed {
		t.Fatal("differing hash must register as changed")
	}

	// Overwrite commits the new hash.
	if err := store.Put(ctx, "a.translation.export.CSV.zip", "f00dfeed99"); err != nil {
		t.Fatalf("overwrite put: %v", err)
	}
	hash, err = store.Stored(ctx, "a.translation.export.CSV.zip")
	if err != nil || hash != "f00dfeed99" {
		t.Fatalf("stored after overwrite: %q, %v", hash, err)
	}
}

// CheckStatusStore runs the StatusStore contract against the provided
// implementation. The store must be empty.
func CheckStatusStore(ctx context.Context, t *testing.T, store tracking.StatusStore) {
	t.Helper()

	const (
		archive = "20250323151500.translation.export.CSV.zip"
		url     = "http://localhost:9000/gdelt/20250323151500.translation.export.CSV"
	)

	if _, err := store.Get(ctx, url); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("get on empty store: expected ErrNotFound, got %v", err)
	}

	// markSent must not resurrect a record that was never registered.
	ok, err := store.MarkSent(ctx, url)
	if err != nil {
		t.Fatalf("markSent on empty store: %v", err)
	}
	if ok {
		t.Fatal("markSent resurrected a missing record")
	}
	if _, err := store.Get(ctx, url); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatal("markSent on a missing record must not create one")
	}

	if err := store.Register(ctx, archive, url); err != nil {
		t.Fatalf("register: %v", err)
	}

	record, err := store.Get(ctx, url)
	if err != nil {
		t.Fatalf("get after register: %v", err)
	}
	expected := gdelt.FileSendRecord{ArchiveFileName: archive, FileURL: url, Sent: false}
	if record != expected {
		t.Fatalf("record %+v != %+v", record, expected)
	}

	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != expected {
		t.Fatalf("pending %+v, expected exactly %+v", pending, expected)
	}

	ok, err = store.MarkSent(ctx, url)
	if err != nil {
		t.Fatalf("markSent: %v", err)
	}
	if !ok {
		t.Fatal("markSent failed for a registered record")
	}

	record, err = store.Get(ctx, url)
	if err != nil {
		t.Fatalf("get after markSent: %v", err)
	}
	if !record.Sent {
		t.Fatal("record not marked sent")
	}

	pending, err = store.Pending(ctx)
	if err != nil {
		t.Fatalf("pending after markSent: %v", err)
	}
	for _, r := range pending {
		if r.FileURL == url {
			t.Fatal("sent record still reported pending")
		}
	}

	// Re-registering resets the sent flag.
	if err := store.Register(ctx, archive, url); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	record, err = store.Get(ctx, url)
	if err != nil {
		t.Fatalf("get after re-register: %v", err)
	}
	if record.Sent {
		t.Fatal("register must reset the sent flag")
	}

	// Pending sweeps see every unsent record.
	for i := 0; i < 5; i++ {
		u := fmt.Sprintf("%s-%d", url, i)
		if err := store.Register(ctx, archive, u); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	pending, err = store.Pending(ctx)
	if err != nil {
		t.Fatalf("pending sweep: %v", err)
	}
	if len(pending) != 6 {
		t.Fatalf("expected 6 pending records, got %d", len(pending))
	}
}
