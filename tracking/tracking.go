// Package tracking declares the persistent bookkeeping stores of the
// collector: the archive hash store that suppresses redundant reprocessing
// and the send-status store that backs durable publish retry. Implementations
// live in the redis and memory subpackages and are exercised by the shared
// suite in trackingcheck.
package tracking

import (
	"context"
	"errors"
	"strings"

	"github.com/eventmosaic/gdelt"
)

// ErrNotFound is returned when a store holds no record for the given key,
// either because it was never written or because its TTL expired.
var ErrNotFound = errors.New("tracking: record not found")

// HashStore persists the last committed hash per archive name. Entries carry
// a TTL of roughly the feed's republish horizon; an expired entry simply
// causes one redundant reprocessing pass.
type HashStore interface {
	// Stored returns the committed hash for the archive, or ErrNotFound.
	Stored(ctx context.Context, archiveName string) (string, error)

	// Put commits the hash for the archive, resetting its TTL.
	Put(ctx context.Context, archiveName, hash string) error
}

// StatusStore persists one FileSendRecord per announced object URL until the
// broker acknowledges delivery or the TTL lapses.
type StatusStore interface {
	// Register upserts a record with sent=false and a fresh TTL.
	Register(ctx context.Context, archiveFileName, fileURL string) error

	// MarkSent flips an existing record to sent=true with a fresh TTL. A
	// missing record is not resurrected; false is returned instead.
	MarkSent(ctx context.Context, fileURL string) (bool, error)

	// Get returns the record for the URL, or ErrNotFound.
	Get(ctx context.Context, fileURL string) (gdelt.FileSendRecord, error)

	// Pending returns a best-effort snapshot of records with sent=false.
	Pending(ctx context.Context) ([]gdelt.FileSendRecord, error)
}

// IsNewOrChanged reports whether the archive should be processed: true when
// no hash is stored or the stored hash differs from the advertised one.
// Hashes compare case-insensitively since the feed's casing is not stable.
func IsNewOrChanged(ctx context.Context, store HashStore, archiveName, hash string) (bool, error) {
	stored, err := store.Stored(ctx, archiveName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		return false, err
	}

	return !strings.EqualFold(stored, hash), nil
}
