package process

import (
	"context"
	"sync"

	"github.com/eventmosaic/gdelt"
	"github.com/eventmosaic/gdelt/internal/dcontext"
	"github.com/eventmosaic/gdelt/manifest"
	"github.com/eventmosaic/gdelt/tracking"
)

// Coordinator drives one ingestion round: fetch the manifest, select the
// archives worth processing and fan them out to the processor.
type Coordinator struct {
	manifest  *manifest.Client
	hashes    tracking.HashStore
	processor *Processor
}

// NewCoordinator wires a coordinator to its collaborators.
func NewCoordinator(client *manifest.Client, hashes tracking.HashStore, processor *Processor) *Coordinator {
	return &Coordinator{
		manifest:  client,
		hashes:    hashes,
		processor: processor,
	}
}

// Tick runs one round. Only the manifest fetch fails the tick; archive
// failures are aggregated and logged, never propagated, and never cancel
// sibling archives.
func (c *Coordinator) Tick(ctx context.Context) error {
	logger := dcontext.GetLogger(ctx)

	body, err := c.manifest.Fetch(ctx)
	if err != nil {
		return err
	}

	selected := c.selectArchives(ctx, manifest.Parse(ctx, body))
	if len(selected) == 0 {
		logger.Debugf("coordinator: nothing new in manifest")
		return nil
	}

	results := make([]gdelt.ArchiveResult, len(selected))
	var wg sync.WaitGroup
	for i, archive := range selected {
		wg.Add(1)
		go func(i int, archive gdelt.ArchiveDescriptor) {
			defer wg.Done()
			results[i] = c.processor.Process(ctx, archive)
		}(i, archive)
	}
	wg.Wait()

	succeeded := 0
	for _, result := range results {
		if result.Succeeded() {
			succeeded++
		}
	}
	logger.Infof("coordinator: processed %d/%d archive(s)", succeeded, len(selected))

	return nil
}

// selectArchives keeps the descriptors of supported series whose hash is
// new or changed. A hash-store read failure selects the archive anyway;
// reprocessing is idempotent at the object level, skipping is not.
func (c *Coordinator) selectArchives(ctx context.Context, descriptors []gdelt.ArchiveDescriptor) []gdelt.ArchiveDescriptor {
	logger := dcontext.GetLogger(ctx)

	var selected []gdelt.ArchiveDescriptor
	for _, archive := range descriptors {
		if _, ok := gdelt.MatchArchive(archive.URL); !ok {
			continue
		}

		changed, err := tracking.IsNewOrChanged(ctx, c.hashes, archive.FileName, archive.ExpectedHash)
		if err != nil {
			logger.Errorf("coordinator: reading stored hash for %s: %v", archive.FileName, err)
			changed = true
		}
		if changed {
			selected = append(selected, archive)
		}
	}

	return selected
}
