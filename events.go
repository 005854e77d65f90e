package gdelt

// ExtractedEvent announces that every member of an archive has been
// persisted to the object store. Emitted at most once per successful
// pipeline run, before the archive hash is committed.
type ExtractedEvent struct {
	Archive ArchiveDescriptor

	// ObjectURLs lists the stored members in extraction order. May be
	// empty when the archive held no regular files; the event is still
	// emitted.
	ObjectURLs []string
}

// ArchiveResult is the terminal outcome of one archive pipeline run. The
// coordinator aggregates results without inspecting failures beyond Err.
type ArchiveResult struct {
	Archive    ArchiveDescriptor
	ObjectURLs []string
	Err        error
}

// Succeeded reports whether the pipeline ran to commit.
func (r ArchiveResult) Succeeded() bool {
	return r.Err == nil
}

// FileSendRecord tracks delivery of one stored object URL to the bus.
// Records are keyed by FileURL and expire on a short TTL, which bounds the
// retry window for unacknowledged sends.
type FileSendRecord struct {
	ArchiveFileName string `json:"archiveFileName"`
	FileURL         string `json:"fileUrl"`
	Sent            bool   `json:"sent"`
}
