package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/eventmosaic/gdelt/bus"
	"github.com/eventmosaic/gdelt/configuration"
	"github.com/eventmosaic/gdelt/manifest"
	"github.com/eventmosaic/gdelt/notifications"
	"github.com/eventmosaic/gdelt/process"
	"github.com/eventmosaic/gdelt/storage/inmemory"
	"github.com/eventmosaic/gdelt/tracking"
	"github.com/eventmosaic/gdelt/tracking/memory"
)

type stubPublisher struct {
	mu    sync.Mutex
	sends map[string][]string
}

func (p *stubPublisher) Send(topic, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sends == nil {
		p.sends = make(map[string][]string)
	}
	p.sends[topic] = append(p.sends[topic], url)
	return nil
}

func (p *stubPublisher) Close() error { return nil }

func zipFixture(t *testing.T, member, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(member)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// newTestApp assembles an app over in-memory collaborators and a test
// server standing in for the feed.
func newTestApp(t *testing.T) (*App, tracking.HashStore) {
	t.Helper()

	archiveName := "20250323151500.translation.export.CSV.zip"
	body := zipFixture(t, "20250323151500.translation.export.CSV", "events")
	sum := md5.Sum(body)
	hash := hex.EncodeToString(sum[:])

	srvMux := http.NewServeMux()
	srv := httptest.NewServer(srvMux)
	t.Cleanup(srv.Close)
	srvMux.HandleFunc("/lastupdate-translation.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d %s %s/gdeltv2/%s\n", len(body), hash, srv.URL, archiveName)
	})
	srvMux.HandleFunc("/gdeltv2/"+archiveName, func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	})

	ctx := context.Background()
	config := &configuration.Configuration{}
	config.Feed.Manifest = srv.URL + "/lastupdate-translation.txt"
	config.Feed.DownloadDir = t.TempDir()
	config.Feed.CheckInterval = time.Hour
	config.Feed.RetryInterval = time.Hour

	hashes := memory.NewHashStore(0)
	status := memory.NewStatusStore(0)
	objects := inmemory.New("mem://localhost", "gdelt")

	app := &App{
		Context:   ctx,
		Config:    config,
		hashes:    hashes,
		status:    status,
		objects:   objects,
		resolver:  bus.NewTopicResolver("event", "mention"),
		publisher: &stubPublisher{},
	}
	app.manifest = manifest.NewClient(config.Feed.Manifest, manifest.ClientOptions{
		Timeout:      5 * time.Second,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
		RetryMax:     1,
	})
	app.listener = notifications.NewListener(ctx, app.resolver, app.status, app.publisher)
	app.eventBus = notifications.NewEventBus(app.listener, 16)
	processor := process.NewProcessor(app.manifest.HTTPClient(), app.objects, app.hashes, app.eventBus, config.Feed.DownloadDir)
	app.coordinator = process.NewCoordinator(app.manifest, app.hashes, processor)
	app.checkScheduler = process.NewCheckScheduler(app.coordinator, config.Feed.CheckInterval)
	app.retryScheduler = process.NewRetryScheduler(app.status, app.resolver, app.publisher, config.Feed.RetryInterval)
	app.configureRouter()

	return app, hashes
}

func TestTriggerEndpointAccepted(t *testing.T) {
	app, hashes := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/gdelt/process", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type: %q", ct)
	}

	// The tick runs off-request; poll for the committed hash.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := hashes.Stored(context.Background(), "20250323151500.translation.export.CSV.zip"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("triggered round never committed the archive hash")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTriggerEndpointMethodNotAllowed(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gdelt/process", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/gdelt/unknown", nil)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestShutdownDrainsLoops(t *testing.T) {
	app, _ := newTestApp(t)

	app.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
