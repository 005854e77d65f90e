// Package process implements the ingestion pipeline: the per-archive
// processor, the coordinator fanning manifest entries out to it, and the
// periodic check and retry schedulers.
package process

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-metrics"

	"github.com/eventmosaic/gdelt"
	"github.com/eventmosaic/gdelt/fileops"
	"github.com/eventmosaic/gdelt/internal/dcontext"
	prometheus "github.com/eventmosaic/gdelt/metrics"
	"github.com/eventmosaic/gdelt/storage"
	"github.com/eventmosaic/gdelt/tracking"
)

var (
	// archivesCounter counts pipeline runs by outcome
	archivesCounter = prometheus.PipelineNamespace.NewLabeledCounter("archives", "The number of archive pipeline runs", "outcome")
	// filesCounter counts members uploaded to the object store
	filesCounter = prometheus.PipelineNamespace.NewCounter("files_uploaded", "The number of extracted members uploaded")
	// bytesCounter counts archive bytes downloaded from the feed
	bytesCounter = prometheus.PipelineNamespace.NewCounter("bytes_downloaded", "The number of archive bytes downloaded")
)

func init() {
	metrics.Register(prometheus.PipelineNamespace)
}

// EventEmitter dispatches one extracted-archive event. Implemented by
// notifications.EventBus.
type EventEmitter interface {
	Emit(event gdelt.ExtractedEvent) error
}

// Processor runs the per-archive pipeline: download, verify, extract,
// upload, announce, commit, clean up. It is stateless across archives, so
// one instance serves any number of concurrent runs.
type Processor struct {
	client      *http.Client
	objects     storage.ObjectStore
	hashes      tracking.HashStore
	events      EventEmitter
	downloadDir string

	// now feeds the unique temp-directory suffix; a test seam.
	now func() time.Time
}

// NewProcessor builds a processor writing scratch files under downloadDir.
func NewProcessor(client *http.Client, objects storage.ObjectStore, hashes tracking.HashStore, events EventEmitter, downloadDir string) *Processor {
	return &Processor{
		client:      client,
		objects:     objects,
		hashes:      hashes,
		events:      events,
		downloadDir: downloadDir,
		now:         time.Now,
	}
}

// Process runs one archive through the pipeline and reduces every failure
// to the returned result. Step order is load-bearing: the event is emitted
// before the hash commit, so a crash in between reprocesses the archive
// rather than orphaning an announcement.
func (p *Processor) Process(ctx context.Context, archive gdelt.ArchiveDescriptor) gdelt.ArchiveResult {
	logger := dcontext.GetLoggerWithField(ctx, "archive", archive.FileName)

	result := p.process(ctx, logger, archive)
	if result.Err != nil {
		archivesCounter.WithValues("failure").Inc()
		logger.Errorf("archive failed: %v", result.Err)
	} else {
		archivesCounter.WithValues("success").Inc()
		logger.Infof("archive processed, %d member(s) uploaded", len(result.ObjectURLs))
	}
	return result
}

func (p *Processor) process(ctx context.Context, logger dcontext.Logger, archive gdelt.ArchiveDescriptor) gdelt.ArchiveResult {
	fail := func(err error) gdelt.ArchiveResult {
		return gdelt.ArchiveResult{Archive: archive, Err: err}
	}

	// A unique extraction root per run keeps concurrent archives and
	// successive runs of the same archive disjoint on disk.
	extractDir := filepath.Join(p.downloadDir, fmt.Sprintf("%s-%d", archive.FileName, p.now().UnixNano()))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return fail(fmt.Errorf("creating extraction dir: %w", err))
	}
	defer func() {
		// The temp directory goes away on every path, cancellation
		// included.
		if err := os.RemoveAll(extractDir); err != nil {
			logger.Errorf("removing extraction dir %s: %v", extractDir, err)
		}
	}()

	if _, err := fileops.EnsureDir(p.downloadDir); err != nil {
		return fail(err)
	}

	archivePath := filepath.Join(p.downloadDir, archive.FileName)
	if _, err := fileops.Download(ctx, p.client, archive.URL, archivePath); err != nil {
		return fail(err)
	}
	defer func() {
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			logger.Warnf("removing downloaded archive %s: %v", archivePath, err)
		}
	}()

	if fi, err := os.Stat(archivePath); err == nil {
		bytesCounter.Inc(float64(fi.Size()))
	}

	computed, err := fileops.MD5(archivePath)
	if err != nil {
		return fail(err)
	}
	if !strings.EqualFold(computed, archive.ExpectedHash) {
		return fail(gdelt.HashMismatchError{Computed: computed, Expected: archive.ExpectedHash})
	}

	members, err := fileops.ExtractZip(archivePath, extractDir)
	if err != nil {
		return fail(err)
	}

	uploaded, err := p.uploadAll(ctx, logger, members)
	if err != nil {
		return fail(err)
	}

	// Announce before commit. The listener registers send intent from
	// this event; a committed hash with no announcement would strand the
	// uploads for a full TTL.
	if err := p.events.Emit(gdelt.ExtractedEvent{Archive: archive, ObjectURLs: uploaded}); err != nil {
		return fail(fmt.Errorf("emitting extracted event: %w", err))
	}

	if err := p.hashes.Put(ctx, archive.FileName, archive.ExpectedHash); err != nil {
		return fail(fmt.Errorf("committing archive hash: %w", err))
	}

	return gdelt.ArchiveResult{Archive: archive, ObjectURLs: uploaded}
}

// uploadAll stores every member under its base name, in order. A failed
// upload rolls back the objects stored so far, best effort, so a partially
// materialized archive is not half-announced on the next run.
func (p *Processor) uploadAll(ctx context.Context, logger dcontext.Logger, members []string) ([]string, error) {
	uploaded := make([]string, 0, len(members))
	names := make([]string, 0, len(members))

	for _, member := range members {
		objectName := filepath.Base(member)

		url, err := p.objects.Upload(ctx, objectName, member)
		if err != nil {
			for _, name := range names {
				if derr := p.objects.Delete(ctx, name); derr != nil {
					logger.Errorf("rolling back object %s: %v", name, derr)
				}
			}
			return nil, err
		}

		uploaded = append(uploaded, url)
		names = append(names, objectName)
		filesCounter.Inc()

		// The local copy is spent once stored.
		if err := os.Remove(member); err != nil {
			logger.Warnf("removing extracted member %s: %v", member, err)
		}
	}

	return uploaded, nil
}
