// Package memory provides map-backed tracking stores for tests and
// single-node runs. TTLs are honored lazily on read.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/eventmosaic/gdelt"
	"github.com/eventmosaic/gdelt/tracking"
)

type hashEntry struct {
	hash     string
	deadline time.Time
}

type hashStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]hashEntry
	now     func() time.Time
}

// NewHashStore returns an in-memory HashStore with the given TTL. A zero
// TTL disables expiry.
func NewHashStore(ttl time.Duration) tracking.HashStore {
	return &hashStore{
		ttl:     ttl,
		entries: make(map[string]hashEntry),
		now:     time.Now,
	}
}

func (hs *hashStore) Stored(ctx context.Context, archiveName string) (string, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	entry, ok := hs.entries[archiveName]
	if !ok {
		return "", tracking.ErrNotFound
	}
	if !entry.deadline.IsZero() && hs.now().After(entry.deadline) {
		delete(hs.entries, archiveName)
		return "", tracking.ErrNotFound
	}

	return entry.hash, nil
}

func (hs *hashStore) Put(ctx context.Context, archiveName, hash string) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	entry := hashEntry{hash: hash}
	if hs.ttl > 0 {
		entry.deadline = hs.now().Add(hs.ttl)
	}
	hs.entries[archiveName] = entry
	return nil
}

type statusEntry struct {
	record   gdelt.FileSendRecord
	deadline time.Time
}

type statusStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]statusEntry
	now     func() time.Time
}

// NewStatusStore returns an in-memory StatusStore with the given TTL. A
// zero TTL disables expiry.
func NewStatusStore(ttl time.Duration) tracking.StatusStore {
	return &statusStore{
		ttl:     ttl,
		entries: make(map[string]statusEntry),
		now:     time.Now,
	}
}

func (ss *statusStore) Register(ctx context.Context, archiveFileName, fileURL string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.entries[fileURL] = statusEntry{
		record: gdelt.FileSendRecord{
			ArchiveFileName: archiveFileName,
			FileURL:         fileURL,
			Sent:            false,
		},
		deadline: ss.deadline(),
	}
	return nil
}

func (ss *statusStore) MarkSent(ctx context.Context, fileURL string) (bool, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	entry, ok := ss.live(fileURL)
	if !ok {
		return false, nil
	}

	entry.record.Sent = true
	entry.deadline = ss.deadline()
	ss.entries[fileURL] = entry
	return true, nil
}

func (ss *statusStore) Get(ctx context.Context, fileURL string) (gdelt.FileSendRecord, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	entry, ok := ss.live(fileURL)
	if !ok {
		return gdelt.FileSendRecord{}, tracking.ErrNotFound
	}
	return entry.record, nil
}

func (ss *statusStore) Pending(ctx context.Context) ([]gdelt.FileSendRecord, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	var pending []gdelt.FileSendRecord
	for url := range ss.entries {
		entry, ok := ss.live(url)
		if ok && !entry.record.Sent {
			pending = append(pending, entry.record)
		}
	}
	return pending, nil
}

// live returns the entry for url after applying lazy expiry. Callers hold
// the lock.
func (ss *statusStore) live(url string) (statusEntry, bool) {
	entry, ok := ss.entries[url]
	if !ok {
		return statusEntry{}, false
	}
	if !entry.deadline.IsZero() && ss.now().After(entry.deadline) {
		delete(ss.entries, url)
		return statusEntry{}, false
	}
	return entry, true
}

func (ss *statusStore) deadline() time.Time {
	if ss.ttl <= 0 {
		return time.Time{}
	}
	return ss.now().Add(ss.ttl)
}
