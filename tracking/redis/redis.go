// Package redis implements the tracking stores on a shared redigo pool.
// Hash records live under gdelt:archive:hash:, send-status records under
// gdelt:file:info: as self-describing JSON, both with per-store TTLs so
// redis does the expiry bookkeeping.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/eventmosaic/gdelt"
	"github.com/eventmosaic/gdelt/internal/dcontext"
	"github.com/eventmosaic/gdelt/tracking"
)

const (
	hashKeyPrefix   = "gdelt:archive:hash:"
	statusKeyPrefix = "gdelt:file:info:"

	// scanBatch is the COUNT hint for pending sweeps. The keyspace is
	// small; one or two round trips cover it.
	scanBatch = 256
)

type hashStore struct {
	pool *redis.Pool
	ttl  time.Duration
}

// NewHashStore returns a redis-backed HashStore using the provided pool.
// Entries expire after ttl.
func NewHashStore(pool *redis.Pool, ttl time.Duration) tracking.HashStore {
	return &hashStore{pool: pool, ttl: ttl}
}

func (hs *hashStore) Stored(ctx context.Context, archiveName string) (string, error) {
	conn := hs.pool.Get()
	defer conn.Close()

	hash, err := redis.String(conn.Do("GET", hashKeyPrefix+archiveName))
	if err == redis.ErrNil {
		return "", tracking.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: reading hash for %s: %w", archiveName, err)
	}

	return hash, nil
}

func (hs *hashStore) Put(ctx context.Context, archiveName, hash string) error {
	conn := hs.pool.Get()
	defer conn.Close()

	_, err := conn.Do("SETEX", hashKeyPrefix+archiveName, seconds(hs.ttl), hash)
	if err != nil {
		return fmt.Errorf("redis: committing hash for %s: %w", archiveName, err)
	}
	return nil
}

type statusStore struct {
	pool *redis.Pool
	ttl  time.Duration
}

// NewStatusStore returns a redis-backed StatusStore using the provided
// pool. Records expire after ttl, which caps the publish retry window.
func NewStatusStore(pool *redis.Pool, ttl time.Duration) tracking.StatusStore {
	return &statusStore{pool: pool, ttl: ttl}
}

func (ss *statusStore) Register(ctx context.Context, archiveFileName, fileURL string) error {
	record := gdelt.FileSendRecord{
		ArchiveFileName: archiveFileName,
		FileURL:         fileURL,
		Sent:            false,
	}
	return ss.write(record)
}

func (ss *statusStore) MarkSent(ctx context.Context, fileURL string) (bool, error) {
	record, err := ss.Get(ctx, fileURL)
	if err == tracking.ErrNotFound {
		// Expired or never registered; do not resurrect.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	record.Sent = true
	if err := ss.write(record); err != nil {
		return false, err
	}
	return true, nil
}

func (ss *statusStore) Get(ctx context.Context, fileURL string) (gdelt.FileSendRecord, error) {
	conn := ss.pool.Get()
	defer conn.Close()

	raw, err := redis.Bytes(conn.Do("GET", statusKeyPrefix+fileURL))
	if err == redis.ErrNil {
		return gdelt.FileSendRecord{}, tracking.ErrNotFound
	}
	if err != nil {
		return gdelt.FileSendRecord{}, fmt.Errorf("redis: reading status for %s: %w", fileURL, err)
	}

	var record gdelt.FileSendRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return gdelt.FileSendRecord{}, fmt.Errorf("redis: decoding status for %s: %w", fileURL, err)
	}
	return record, nil
}

// Pending sweeps the status keyspace with SCAN and returns the unsent
// records. The snapshot is best effort: keys may expire or flip mid-sweep.
func (ss *statusStore) Pending(ctx context.Context) ([]gdelt.FileSendRecord, error) {
	conn := ss.pool.Get()
	defer conn.Close()

	var (
		pending []gdelt.FileSendRecord
		cursor  int64
	)
	for {
		reply, err := redis.Values(conn.Do("SCAN", cursor, "MATCH", statusKeyPrefix+"*", "COUNT", scanBatch))
		if err != nil {
			return nil, fmt.Errorf("redis: scanning status records: %w", err)
		}

		var keys []string
		if _, err := redis.Scan(reply, &cursor, &keys); err != nil {
			return nil, fmt.Errorf("redis: decoding scan reply: %w", err)
		}

		for _, key := range keys {
			raw, err := redis.Bytes(conn.Do("GET", key))
			if err == redis.ErrNil {
				continue // expired between SCAN and GET
			}
			if err != nil {
				return nil, fmt.Errorf("redis: reading %s: %w", key, err)
			}

			var record gdelt.FileSendRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				dcontext.GetLogger(ctx).Warnf("redis: skipping undecodable status record %s: %v", key, err)
				continue
			}
			if !record.Sent {
				pending = append(pending, record)
			}
		}

		if cursor == 0 {
			return pending, nil
		}
	}
}

func (ss *statusStore) write(record gdelt.FileSendRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis: encoding status for %s: %w", record.FileURL, err)
	}

	conn := ss.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("SETEX", statusKeyPrefix+record.FileURL, seconds(ss.ttl), raw); err != nil {
		return fmt.Errorf("redis: writing status for %s: %w", record.FileURL, err)
	}
	return nil
}

func seconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
