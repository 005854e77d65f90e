package gdelt

import "fmt"

// ErrUnknownArchiveType is returned when a file name matches none of the
// feed series patterns. Archives carrying the error are never routed to a
// topic.
type ErrUnknownArchiveType struct {
	FileName string
}

func (err ErrUnknownArchiveType) Error() string {
	return fmt.Sprintf("unknown archive type: %q", err.FileName)
}

// HashMismatchError reports a downloaded archive whose computed MD5
// disagrees with the manifest. The archive is not retried until the feed
// advertises a new hash.
type HashMismatchError struct {
	Computed string
	Expected string
}

func (err HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch: %s != %s", err.Computed, err.Expected)
}
