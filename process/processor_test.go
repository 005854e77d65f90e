package process

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/eventmosaic/gdelt"
	"github.com/eventmosaic/gdelt/fileops"
	"github.com/eventmosaic/gdelt/storage"
	"github.com/eventmosaic/gdelt/storage/inmemory"
	"github.com/eventmosaic/gdelt/tracking"
	"github.com/eventmosaic/gdelt/tracking/memory"
)

// zipBytes assembles an archive in memory. Member order follows the order
// slice; a trailing slash denotes a directory entry.
func zipBytes(t *testing.T, members map[string]string, order []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		if name[len(name)-1] == '/' {
			if _, err := zw.Create(name); err != nil {
				t.Fatal(err)
			}
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(members[name])); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func md5hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// feedServer serves archives by file name under /gdeltv2/.
func feedServer(t *testing.T, archives map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/gdeltv2/"):]
		body, ok := archives[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// captureEmitter records emitted events.
type captureEmitter struct {
	mu     sync.Mutex
	events []gdelt.ExtractedEvent
}

func (e *captureEmitter) Emit(event gdelt.ExtractedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *captureEmitter) snapshot() []gdelt.ExtractedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]gdelt.ExtractedEvent(nil), e.events...)
}

// failingStore fails the nth upload and records deletes for rollback
// assertions.
type failingStore struct {
	*inmemory.Store

	mu      sync.Mutex
	uploads int
	failAt  int
	deleted []string
}

func (f *failingStore) Upload(ctx context.Context, objectName, localPath string) (string, error) {
	f.mu.Lock()
	f.uploads++
	n := f.uploads
	f.mu.Unlock()
	if n == f.failAt {
		return "", storage.Error{Op: "upload", Object: objectName, Err: errors.New("backend down")}
	}
	return f.Store.Upload(ctx, objectName, localPath)
}

func (f *failingStore) Delete(ctx context.Context, objectName string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, objectName)
	f.mu.Unlock()
	return f.Store.Delete(ctx, objectName)
}

type fixture struct {
	processor *Processor
	objects   *inmemory.Store
	hashes    tracking.HashStore
	emitter   *captureEmitter
	dir       string
}

func newFixture(t *testing.T, srv *httptest.Server, objects storage.ObjectStore) *fixture {
	t.Helper()

	f := &fixture{
		hashes:  memory.NewHashStore(0),
		emitter: &captureEmitter{},
		dir:     t.TempDir(),
	}
	if mem, ok := objects.(*inmemory.Store); ok {
		f.objects = mem
	}
	f.processor = NewProcessor(srv.Client(), objects, f.hashes, f.emitter, f.dir)
	return f
}

// assertScratchClean fails when anything is left under the download dir.
func assertScratchClean(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("scratch area not cleaned: %s", e.Name())
	}
}

func TestProcessHappyPath(t *testing.T) {
	const archiveName = "20250323151500.translation.export.CSV.zip"
	members := map[string]string{
		"20250323151500.translation.export.CSV": "a,b,c\n",
		"extra/notes.txt":                       "n",
	}
	body := zipBytes(t, members, []string{"20250323151500.translation.export.CSV", "extra/", "extra/notes.txt"})
	srv := feedServer(t, map[string][]byte{archiveName: body})
	objects := inmemory.New("http://localhost:9000", "gdelt")
	f := newFixture(t, srv, objects)

	archive := gdelt.ArchiveDescriptor{
		FileName:     archiveName,
		URL:          srv.URL + "/gdeltv2/" + archiveName,
		ExpectedHash: md5hex(body),
		SizeBytes:    int64(len(body)),
	}

	result := f.processor.Process(context.Background(), archive)
	if result.Err != nil {
		t.Fatalf("unexpected failure: %v", result.Err)
	}

	want := []string{
		"http://localhost:9000/gdelt/20250323151500.translation.export.CSV",
		"http://localhost:9000/gdelt/notes.txt",
	}
	if len(result.ObjectURLs) != len(want) {
		t.Fatalf("urls %v, expected %v", result.ObjectURLs, want)
	}
	for i := range want {
		if result.ObjectURLs[i] != want[i] {
			t.Errorf("url %d: %q != %q", i, result.ObjectURLs[i], want[i])
		}
	}

	// Members landed under their base names with their content intact.
	if data, ok := objects.Object("20250323151500.translation.export.CSV"); !ok || string(data) != "a,b,c\n" {
		t.Errorf("stored member: %q, %v", data, ok)
	}

	// Exactly one event, before-commit ordering being untestable here,
	// with the full URL set.
	events := f.emitter.snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if len(events[0].ObjectURLs) != 2 {
		t.Errorf("event urls: %v", events[0].ObjectURLs)
	}

	// Hash committed.
	hash, err := f.hashes.Stored(context.Background(), archiveName)
	if err != nil || hash != archive.ExpectedHash {
		t.Errorf("stored hash %q, %v", hash, err)
	}

	assertScratchClean(t, f.dir)
}

func TestProcessEmptyArchive(t *testing.T) {
	const archiveName = "20250323151500.translation.export.CSV.zip"
	body := zipBytes(t, nil, nil)
	srv := feedServer(t, map[string][]byte{archiveName: body})
	f := newFixture(t, srv, inmemory.New("http://localhost:9000", "gdelt"))

	archive := gdelt.ArchiveDescriptor{
		FileName:     archiveName,
		URL:          srv.URL + "/gdeltv2/" + archiveName,
		ExpectedHash: md5hex(body),
	}

	result := f.processor.Process(context.Background(), archive)
	if result.Err != nil {
		t.Fatalf("unexpected failure: %v", result.Err)
	}

	// The event is still emitted, with an empty URL list, and the hash
	// still commits.
	events := f.emitter.snapshot()
	if len(events) != 1 || len(events[0].ObjectURLs) != 0 {
		t.Fatalf("events %v", events)
	}
	if _, err := f.hashes.Stored(context.Background(), archiveName); err != nil {
		t.Errorf("hash not committed: %v", err)
	}
	assertScratchClean(t, f.dir)
}

func TestProcessHashMismatch(t *testing.T) {
	const archiveName = "20250323151500.translation.export.CSV.zip"
	body := zipBytes(t, map[string]string{"m.CSV": "x"}, []string{"m.CSV"})
	srv := feedServer(t, map[string][]byte{archiveName: body})
	objects := inmemory.New("http://localhost:9000", "gdelt")
	f := newFixture(t, srv, objects)

	archive := gdelt.ArchiveDescriptor{
		FileName:     archiveName,
		URL:          srv.URL + "/gdeltv2/" + archiveName,
		ExpectedHash: "999",
	}

	result := f.processor.Process(context.Background(), archive)
	var herr gdelt.HashMismatchError
	if !errors.As(result.Err, &herr) {
		t.Fatalf("expected HashMismatchError, got %v", result.Err)
	}
	if herr.Expected != "999" {
		t.Errorf("error expected-hash %q", herr.Expected)
	}

	if names := objects.ObjectNames(); len(names) != 0 {
		t.Errorf("no uploads may happen on mismatch, saw %v", names)
	}
	if events := f.emitter.snapshot(); len(events) != 0 {
		t.Errorf("no event may be emitted on mismatch, saw %v", events)
	}
	if _, err := f.hashes.Stored(context.Background(), archiveName); !errors.Is(err, tracking.ErrNotFound) {
		t.Errorf("hash must not commit on mismatch: %v", err)
	}
	assertScratchClean(t, f.dir)
}

func TestProcessHashComparisonIsCaseInsensitive(t *testing.T) {
	const archiveName = "20250323151500.translation.export.CSV.zip"
	body := zipBytes(t, map[string]string{"m.CSV": "x"}, []string{"m.CSV"})
	srv := feedServer(t, map[string][]byte{archiveName: body})
	f := newFixture(t, srv, inmemory.New("http://localhost:9000", "gdelt"))

	archive := gdelt.ArchiveDescriptor{
		FileName:     archiveName,
		URL:          srv.URL + "/gdeltv2/" + archiveName,
		ExpectedHash: string(bytes.ToUpper([]byte(md5hex(body)))),
	}

	if result := f.processor.Process(context.Background(), archive); result.Err != nil {
		t.Fatalf("uppercase manifest hash must verify: %v", result.Err)
	}
}

func TestProcessZipSlip(t *testing.T) {
	const archiveName = "20250323151500.translation.export.CSV.zip"
	body := zipBytes(t, map[string]string{"../../etc/passwd": "root"}, []string{"../../etc/passwd"})
	srv := feedServer(t, map[string][]byte{archiveName: body})
	objects := inmemory.New("http://localhost:9000", "gdelt")
	f := newFixture(t, srv, objects)

	archive := gdelt.ArchiveDescriptor{
		FileName:     archiveName,
		URL:          srv.URL + "/gdeltv2/" + archiveName,
		ExpectedHash: md5hex(body),
	}

	result := f.processor.Process(context.Background(), archive)
	var terr fileops.TraversalError
	if !errors.As(result.Err, &terr) {
		t.Fatalf("expected TraversalError, got %v", result.Err)
	}

	if names := objects.ObjectNames(); len(names) != 0 {
		t.Errorf("no uploads after traversal, saw %v", names)
	}
	if events := f.emitter.snapshot(); len(events) != 0 {
		t.Errorf("no event after traversal, saw %v", events)
	}
	if _, err := f.hashes.Stored(context.Background(), archiveName); !errors.Is(err, tracking.ErrNotFound) {
		t.Errorf("hash must not commit after traversal: %v", err)
	}
	assertScratchClean(t, f.dir)
}

func TestProcessDownloadFailure(t *testing.T) {
	srv := feedServer(t, nil) // archive not served
	f := newFixture(t, srv, inmemory.New("http://localhost:9000", "gdelt"))

	archive := gdelt.ArchiveDescriptor{
		FileName:     "20250323151500.translation.export.CSV.zip",
		URL:          srv.URL + "/gdeltv2/20250323151500.translation.export.CSV.zip",
		ExpectedHash: "111",
	}

	if result := f.processor.Process(context.Background(), archive); result.Err == nil {
		t.Fatal("expected transport failure")
	}
	if events := f.emitter.snapshot(); len(events) != 0 {
		t.Errorf("no event on download failure, saw %v", events)
	}
	assertScratchClean(t, f.dir)
}

func TestProcessUploadFailureRollsBack(t *testing.T) {
	const archiveName = "20250323151500.translation.export.CSV.zip"
	members := map[string]string{"a.CSV": "1", "b.CSV": "2", "c.CSV": "3"}
	body := zipBytes(t, members, []string{"a.CSV", "b.CSV", "c.CSV"})
	srv := feedServer(t, map[string][]byte{archiveName: body})

	failing := &failingStore{
		Store:  inmemory.New("http://localhost:9000", "gdelt"),
		failAt: 3,
	}
	f := newFixture(t, srv, failing)

	archive := gdelt.ArchiveDescriptor{
		FileName:     archiveName,
		URL:          srv.URL + "/gdeltv2/" + archiveName,
		ExpectedHash: md5hex(body),
	}

	result := f.processor.Process(context.Background(), archive)
	var serr storage.Error
	if !errors.As(result.Err, &serr) {
		t.Fatalf("expected storage.Error, got %v", result.Err)
	}

	// Both successful uploads were rolled back.
	failing.mu.Lock()
	deleted := append([]string(nil), failing.deleted...)
	failing.mu.Unlock()
	if len(deleted) != 2 || deleted[0] != "a.CSV" || deleted[1] != "b.CSV" {
		t.Errorf("rollback deleted %v, expected [a.CSV b.CSV]", deleted)
	}

	if events := f.emitter.snapshot(); len(events) != 0 {
		t.Errorf("no event on upload failure, saw %v", events)
	}
	if _, err := f.hashes.Stored(context.Background(), archiveName); !errors.Is(err, tracking.ErrNotFound) {
		t.Errorf("hash must not commit on upload failure: %v", err)
	}
	assertScratchClean(t, f.dir)
}

func TestProcessReprocessingIsStable(t *testing.T) {
	// Clearing the hash store and re-running produces the same object
	// names: base names are a stable function of archive contents.
	const archiveName = "20250323151500.translation.export.CSV.zip"
	body := zipBytes(t, map[string]string{"stable.CSV": "v"}, []string{"stable.CSV"})
	srv := feedServer(t, map[string][]byte{archiveName: body})
	objects := inmemory.New("http://localhost:9000", "gdelt")
	f := newFixture(t, srv, objects)

	archive := gdelt.ArchiveDescriptor{
		FileName:     archiveName,
		URL:          srv.URL + "/gdeltv2/" + archiveName,
		ExpectedHash: md5hex(body),
	}

	first := f.processor.Process(context.Background(), archive)
	if first.Err != nil {
		t.Fatal(first.Err)
	}

	f.hashes = memory.NewHashStore(0)
	f.processor.hashes = f.hashes

	second := f.processor.Process(context.Background(), archive)
	if second.Err != nil {
		t.Fatal(second.Err)
	}

	if len(first.ObjectURLs) != len(second.ObjectURLs) || first.ObjectURLs[0] != second.ObjectURLs[0] {
		t.Errorf("object urls unstable across runs: %v vs %v", first.ObjectURLs, second.ObjectURLs)
	}
}
