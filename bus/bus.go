// Package bus declares the outbound message path of the collector: topic
// resolution per archive series and the publisher pushing object URLs to
// the broker. The kafka subpackage holds the production implementation.
package bus

import (
	"github.com/eventmosaic/gdelt"
)

// Publisher sends object URLs to a topic. Send only enqueues; delivery is
// observed asynchronously and acknowledged sends are reported through the
// ack callback the implementation was constructed with. At-least-once with
// idempotent-producer semantics at the broker is the delivery contract.
type Publisher interface {
	// Send enqueues url for delivery on topic. An error means the message
	// never entered the outbound queue.
	Send(topic, url string) error

	// Close flushes the outbound queue and stops the delivery observers.
	Close() error
}

// TopicResolver maps archive file names onto destination topics by feed
// series.
type TopicResolver struct {
	event   string
	mention string
}

// NewTopicResolver builds a resolver with the configured topic per series.
func NewTopicResolver(eventTopic, mentionTopic string) *TopicResolver {
	return &TopicResolver{
		event:   eventTopic,
		mention: mentionTopic,
	}
}

// Resolve returns the destination topic for the archive file name. Names
// matching no known series fail with ErrUnknownArchiveType.
func (r *TopicResolver) Resolve(archiveFileName string) (string, error) {
	t, ok := gdelt.MatchArchive(archiveFileName)
	if !ok {
		return "", gdelt.ErrUnknownArchiveType{FileName: archiveFileName}
	}

	switch t {
	case gdelt.ArchiveTypeExport:
		return r.event, nil
	case gdelt.ArchiveTypeMentions:
		return r.mention, nil
	}
	return "", gdelt.ErrUnknownArchiveType{FileName: archiveFileName}
}
