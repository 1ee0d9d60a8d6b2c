// Package envelope serializes events into the rows stored by the journal's
// messages table, and deserializes them back.
package envelope

import (
	"fmt"
	"sync/atomic"

	"github.com/gocql/gocql"
)

// UnknownMetaManifest is the sentinel manifest recorded when event metadata
// cannot be serialized or deserialized. Metadata is carried opaquely rather
// than failing the event, so that readers that do not understand it can still
// recover the event itself.
const UnknownMetaManifest = "unknown-meta"

// Envelope is one serialized event, in the shape of a messages-table row.
type Envelope struct {
	PersistenceID string
	PartitionNr   int64
	SequenceNr    int64
	TimeUUID      gocql.UUID
	TimeBucket    string
	WriterUUID    string

	SerID         int32
	SerManifest   string
	EventManifest string
	Event         []byte
	Tags          []string

	HasMeta         bool
	Meta            []byte
	MetaSerID       int32
	MetaSerManifest string
}

// UnknownMeta is the opaque value produced when an event's metadata cannot be
// deserialized.
type UnknownMeta struct {
	Payload  []byte
	SerID    int32
	Manifest string
}

// ColumnFlags caches the presence of the messages table's optional columns.
//
// The storage schema may predate the meta columns or the tags set column, or
// may still carry the legacy tag1/tag2/tag3 columns. Presence is discovered
// from the first row read and cached in the ColumnFlags value. The cache is
// advisory: a stale miss merely causes another probe.
type ColumnFlags struct {
	meta       atomic.Int32
	tagsSet    atomic.Int32
	legacyTags atomic.Int32
}

const (
	columnUnknown int32 = iota
	columnPresent
	columnAbsent
)

// Probe records column presence from a row produced by MapScan on the
// messages table.
func (f *ColumnFlags) Probe(row map[string]any) {
	probe := func(flag *atomic.Int32, column string) {
		if flag.Load() != columnUnknown {
			return
		}
		if _, ok := row[column]; ok {
			flag.Store(columnPresent)
		} else {
			flag.Store(columnAbsent)
		}
	}

	probe(&f.meta, "meta")
	probe(&f.tagsSet, "tags")
	probe(&f.legacyTags, "tag1")
}

// HasMeta reports whether the messages table has the meta columns.
func (f *ColumnFlags) HasMeta() bool {
	return f.meta.Load() == columnPresent
}

// HasTagsSet reports whether the messages table has the tags set column.
func (f *ColumnFlags) HasTagsSet() bool {
	return f.tagsSet.Load() == columnPresent
}

// HasLegacyTags reports whether the messages table has the legacy
// tag1/tag2/tag3 columns.
func (f *ColumnFlags) HasLegacyTags() bool {
	return f.legacyTags.Load() == columnPresent
}

// FromRow builds an envelope from a messages-table row produced by MapScan,
// probing f for optional columns first.
func FromRow(row map[string]any, f *ColumnFlags) (Envelope, error) {
	f.Probe(row)

	env := Envelope{}

	var err error
	get := func(column string, dest any) {
		if err != nil {
			return
		}

		v, ok := row[column]
		if !ok {
			err = fmt.Errorf("messages table row is missing the %q column", column)
			return
		}

		if !assign(dest, v) {
			err = fmt.Errorf("messages table column %q has unexpected type %T", column, v)
		}
	}

	get("persistence_id", &env.PersistenceID)
	get("partition_nr", &env.PartitionNr)
	get("sequence_nr", &env.SequenceNr)
	get("timestamp", &env.TimeUUID)
	get("timebucket", &env.TimeBucket)
	get("writer_uuid", &env.WriterUUID)
	get("ser_id", &env.SerID)
	get("ser_manifest", &env.SerManifest)
	get("event_manifest", &env.EventManifest)
	get("event", &env.Event)

	if err != nil {
		return Envelope{}, err
	}

	if f.HasTagsSet() {
		if tags, ok := row["tags"].([]string); ok && len(tags) > 0 {
			env.Tags = tags
		}
	} else if f.HasLegacyTags() {
		for _, column := range [...]string{"tag1", "tag2", "tag3"} {
			if tag, ok := row[column].(string); ok && tag != "" {
				env.Tags = append(env.Tags, tag)
			}
		}
	}

	if f.HasMeta() {
		if payload, ok := row["meta"].([]byte); ok && payload != nil {
			env.HasMeta = true
			env.Meta = payload
			get("meta_ser_id", &env.MetaSerID)
			get("meta_ser_manifest", &env.MetaSerManifest)

			if err != nil {
				return Envelope{}, err
			}
		}
	}

	return env, nil
}

// assign copies v into the pointer dest, tolerating the integer widenings
// performed by CQL drivers.
func assign(dest, v any) bool {
	switch d := dest.(type) {
	case *string:
		s, ok := v.(string)
		*d = s
		return ok
	case *[]byte:
		b, ok := v.([]byte)
		*d = b
		return ok
	case *gocql.UUID:
		u, ok := v.(gocql.UUID)
		*d = u
		return ok
	case *int64:
		switch n := v.(type) {
		case int64:
			*d = n
		case int:
			*d = int64(n)
		case int32:
			*d = int64(n)
		default:
			return false
		}
		return true
	case *int32:
		switch n := v.(type) {
		case int32:
			*d = n
		case int:
			*d = int32(n)
		case int64:
			*d = int32(n)
		default:
			return false
		}
		return true
	}

	return false
}
