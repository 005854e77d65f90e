package gdelt

import "regexp"

// ArchiveDescriptor describes one archive advertised by the feed manifest.
// A descriptor is immutable once parsed; the pipeline threads it through
// every stage and discards it when the archive resolves.
type ArchiveDescriptor struct {
	// FileName is the tail of URL after the last slash. It identifies the
	// archive in the hash store and names the downloaded file on disk.
	FileName string

	// URL is the absolute download location from the manifest line.
	URL string

	// ExpectedHash is the hex MD5 the publisher asserts for the archive
	// body. Compared case-insensitively against the computed digest.
	ExpectedHash string

	// SizeBytes is the advertised archive size. Informational only; the
	// pipeline trusts the hash, not the length.
	SizeBytes int64
}

// ArchiveType partitions archives by the feed series they belong to. Each
// type maps to its own destination topic on the bus.
type ArchiveType int

const (
	// ArchiveTypeUnknown marks names matching no known series.
	ArchiveTypeUnknown ArchiveType = iota

	// ArchiveTypeExport is the translated event-table series.
	ArchiveTypeExport

	// ArchiveTypeMentions is the translated mention-table series.
	ArchiveTypeMentions
)

var archiveTypePatterns = []struct {
	t  ArchiveType
	re *regexp.Regexp
}{
	{ArchiveTypeExport, regexp.MustCompile(`translation\.export\.CSV\.zip$`)},
	{ArchiveTypeMentions, regexp.MustCompile(`translation\.mentions\.CSV\.zip$`)},
}

// MatchArchive classifies an archive file name or URL against the known
// feed series. Returns ArchiveTypeUnknown and false when nothing matches.
func MatchArchive(name string) (ArchiveType, bool) {
	for _, p := range archiveTypePatterns {
		if p.re.MatchString(name) {
			return p.t, true
		}
	}
	return ArchiveTypeUnknown, false
}

func (t ArchiveType) String() string {
	switch t {
	case ArchiveTypeExport:
		return "export"
	case ArchiveTypeMentions:
		return "mentions"
	}
	return "unknown"
}
