// Package inmemory provides a map-backed object store for tests.
package inmemory

import (
	"context"
	"os"
	"sync"

	"github.com/eventmosaic/gdelt/storage"
)

// Store implements storage.ObjectStore in process memory. Object contents
// are retained so tests can assert on what was uploaded.
type Store struct {
	endpoint string
	bucket   string

	mu      sync.Mutex
	objects map[string][]byte
}

var _ storage.ObjectStore = &Store{}

// New returns an empty in-memory store synthesizing URLs from the given
// endpoint and bucket.
func New(endpoint, bucket string) *Store {
	return &Store{
		endpoint: endpoint,
		bucket:   bucket,
		objects:  make(map[string][]byte),
	}
}

func (s *Store) Upload(ctx context.Context, objectName, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", storage.Error{Op: "upload", Object: objectName, Err: err}
	}

	s.mu.Lock()
	s.objects[objectName] = data
	s.mu.Unlock()

	return s.URL(objectName), nil
}

func (s *Store) Delete(ctx context.Context, objectName string) error {
	s.mu.Lock()
	delete(s.objects, objectName)
	s.mu.Unlock()
	return nil
}

func (s *Store) URL(objectName string) string {
	return s.endpoint + "/" + s.bucket + "/" + objectName
}

// Object returns the stored bytes for objectName.
func (s *Store) Object(objectName string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objectName]
	return data, ok
}

// ObjectNames returns the names currently stored, in no particular order.
func (s *Store) ObjectNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	return names
}
