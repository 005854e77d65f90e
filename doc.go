// Package gdelt defines the core types shared by the components of the
// collector. The collector watches the GDELT translation feed, ingests the
// archives the feed advertises and hands the unpacked contents to
// downstream consumers over a message bus.
//
// Archive
//
// The unit of ingestion is an archive, a zip file advertised by the feed
// manifest together with its size and an MD5 the publisher asserts for it.
// An ArchiveDescriptor is the parsed manifest line; the descriptor's file
// name doubles as the archive's identity key for change detection.
//
// Members
//
// Every regular file inside an archive is a member. Members are persisted
// to the object store under their base name and announced downstream by
// URL. An ExtractedEvent carries the full set of URLs produced from one
// archive; a FileSendRecord tracks the delivery of a single URL until the
// broker acknowledges it.
//
// The concrete pipeline lives in the process package; storage, tracking and
// bus hold the durable collaborators.
package gdelt
