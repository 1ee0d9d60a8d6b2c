// Package tagview defines the contract between the journal and the tag-view
// writer: the subsystem that maintains secondary materialized views of events
// by tag.
//
// The writer's batching internals are external to the journal. The journal
// hands over bulk writes in event order and never blocks on tag-view
// durability; an event is journaled once its messages-table row commits.
package tagview

import "github.com/dogmatiq/cassandrakit/envelope"

// Message is a submission to the tag writer.
type Message interface {
	isMessage()
}

// A Writer accepts messages from the journal.
//
// Delivery is fire-and-forget from the journal's perspective, but the writer
// must apply per-tag writes in the order received.
type Writer interface {
	Write(Message)
}

// TagWrite is the subsequence of a batch's events that carry a single tag, in
// original event order.
type TagWrite struct {
	Tag       string
	Envelopes []envelope.Envelope
}

// BulkWrite carries all tag-view work arising from one atomic-batch write.
type BulkWrite struct {
	TagWrites []TagWrite
	Untagged  []envelope.Envelope
}

func (BulkWrite) isMessage() {}

// TagProgress is the tag writer's recorded progress for one (persistence id,
// tag) pair.
type TagProgress struct {
	Tag              string
	SequenceNr       int64
	TagPidSequenceNr int64
}

// ProgressSnapshot publishes the recovered tag progress for a persistence id
// to the tag writer, so it can resume numbering where it left off.
type ProgressSnapshot struct {
	PersistenceID string
	Progress      []TagProgress
}

func (ProgressSnapshot) isMessage() {}

// ExtractBulkWrite groups a batch's serialized events by tag, preserving
// event order within each tag, and collects untagged events separately.
func ExtractBulkWrite(envs []envelope.Envelope) BulkWrite {
	// Single-event batches are the common case; avoid building maps for them.
	if len(envs) == 1 {
		env := envs[0]

		if len(env.Tags) == 0 {
			return BulkWrite{Untagged: envs}
		}

		bw := BulkWrite{
			TagWrites: make([]TagWrite, 0, len(env.Tags)),
		}
		for _, tag := range env.Tags {
			bw.TagWrites = append(bw.TagWrites, TagWrite{tag, envs})
		}

		return bw
	}

	var (
		bw    BulkWrite
		byTag = map[string]int{}
	)

	for _, env := range envs {
		if len(env.Tags) == 0 {
			bw.Untagged = append(bw.Untagged, env)
			continue
		}

		for _, tag := range env.Tags {
			i, ok := byTag[tag]
			if !ok {
				i = len(bw.TagWrites)
				byTag[tag] = i
				bw.TagWrites = append(bw.TagWrites, TagWrite{Tag: tag})
			}

			bw.TagWrites[i].Envelopes = append(bw.TagWrites[i].Envelopes, env)
		}
	}

	return bw
}
