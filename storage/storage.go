// Package storage declares the object store holding extracted archive
// members. One object per member, keyed by base name, addressable by a
// public URL of the form {endpoint}/{bucket}/{objectName}.
package storage

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
)

// ObjectStore persists extracted archive members and synthesizes the URLs
// announced downstream.
type ObjectStore interface {
	// Upload stores the file at localPath under objectName and returns
	// its public URL. Concurrent uploads with colliding names are
	// last-writer-wins.
	Upload(ctx context.Context, objectName, localPath string) (string, error)

	// Delete removes the named object. Deleting an absent object is not
	// an error.
	Delete(ctx context.Context, objectName string) error

	// URL returns the public URL for objectName without touching the
	// backend.
	URL(objectName string) string
}

// Error wraps a backend failure with the operation and object it occurred
// on.
type Error struct {
	Op     string
	Object string
	Err    error
}

func (err Error) Error() string {
	return fmt.Sprintf("storage: %s %q: %v", err.Op, err.Object, err.Err)
}

func (err Error) Unwrap() error {
	return err.Err
}

// ContentType maps a file name to a MIME type by extension, defaulting to
// application/octet-stream.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
