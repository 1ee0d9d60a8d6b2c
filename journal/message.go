package journal

import "github.com/gocql/gocql"

// Message is a single event to be journaled.
type Message struct {
	// PersistenceID names the event stream the message belongs to.
	PersistenceID string

	// SequenceNr is the message's position in the stream. Sequence numbers
	// start at 1 and are strictly monotonic per persistence ID.
	SequenceNr int64

	// WriterUUID identifies the writing actor instance, used to disambiguate
	// replays from crashed writers.
	WriterUUID string

	// Payload is the event itself. It is encoded by the journal's codec
	// registry.
	Payload any

	// Meta is optional metadata carried alongside the event. It is encoded
	// independently of the payload; an unencodable value is stored as an
	// empty payload under envelope.UnknownMetaManifest rather than failing
	// the write.
	Meta any

	// Tags are the labels under which the event appears in the tag view.
	Tags []string

	// EventManifest is the event adapter manifest, recorded verbatim.
	EventManifest string
}

// AtomicWrite is an all-or-nothing group of messages for one persistence ID
// with contiguous sequence numbers.
type AtomicWrite struct {
	Messages []Message
}

// Event is a decoded journaled event, as delivered during replay.
type Event struct {
	PersistenceID string
	SequenceNr    int64
	TimeUUID      gocql.UUID
	WriterUUID    string
	Payload       any
	Meta          any
	Tags          []string
}
