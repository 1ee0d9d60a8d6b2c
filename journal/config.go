package journal

import "fmt"

// DeleteToHighest is the sentinel passed to DeleteTo() to delete every event
// currently stored for a persistence ID.
const DeleteToHighest = int64(1<<63 - 1)

// Config encapsulates the journal's configuration.
type Config struct {
	// Keyspace is the keyspace holding the journal's tables.
	Keyspace string

	// Table is the name of the messages table.
	Table string

	// MetadataTable is the name of the table holding deleted-to markers.
	MetadataTable string

	// TagProgressTable is the name of the tag writer's progress table. It is
	// read (never written) during recovery fan-out.
	TagProgressTable string

	// TagScanningTable is the name of the tag writer's scanning table. It is
	// read (never written) during recovery fan-out.
	TagScanningTable string

	// TargetPartitionSize is the number of events stored per messages-table
	// partition. Changing it on an existing dataset is unsupported.
	TargetPartitionSize int64

	// MaxMessageBatchSize bounds the number of statements per unlogged batch.
	MaxMessageBatchSize int

	// MaxConcurrentDeletes bounds the per-persistence-ID queue of outstanding
	// DeleteTo() calls.
	MaxConcurrentDeletes int

	// DisableDeletes turns off the support-deletes switch: DeleteTo() fails
	// with ErrDeletesDisabled and the delete statements are never prepared.
	// Deletes are supported by default.
	DisableDeletes bool

	// Cassandra2XCompat selects the compatibility delete mode, which issues
	// per-row deletes instead of partition-range deletes.
	Cassandra2XCompat bool

	// EventsByTagEnabled enables fan-out to the tag writer and the recovery
	// tag-progress path.
	EventsByTagEnabled bool

	// TagScanStartSequenceNr bounds the pre-snapshot tag-write scan when the
	// tag scanning table has no row for the persistence ID.
	TagScanStartSequenceNr int64

	// WriteProfile is the execution profile name for writes.
	WriteProfile string

	// ReadProfile is the execution profile name for reads.
	ReadProfile string

	// CoordinatedShutdownOnError, when set, causes a fatal journal error to
	// invoke the ShutdownHook configured on the Journal, in addition to
	// stopping it.
	CoordinatedShutdownOnError bool
}

// DefaultConfig returns the journal's default configuration.
func DefaultConfig() Config {
	return Config{
		Keyspace:               "cassandrakit",
		Table:                  "messages",
		MetadataTable:          "metadata",
		TagProgressTable:       "tag_write_progress",
		TagScanningTable:       "tag_scanning",
		TargetPartitionSize:    500000,
		MaxMessageBatchSize:    150,
		MaxConcurrentDeletes:   16,
		TagScanStartSequenceNr: 1,
		WriteProfile:           "cassandrakit-write",
		ReadProfile:            "cassandrakit-read",
	}
}

// withDefaults fills any zero-valued field that has a default. Every boolean
// field's default IS its zero value, so only strings and integers need
// filling; a partially-populated Config therefore never has a default applied
// on top of an explicit choice.
func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.Keyspace == "" {
		c.Keyspace = def.Keyspace
	}
	if c.Table == "" {
		c.Table = def.Table
	}
	if c.MetadataTable == "" {
		c.MetadataTable = def.MetadataTable
	}
	if c.TagProgressTable == "" {
		c.TagProgressTable = def.TagProgressTable
	}
	if c.TagScanningTable == "" {
		c.TagScanningTable = def.TagScanningTable
	}
	if c.TargetPartitionSize == 0 {
		c.TargetPartitionSize = def.TargetPartitionSize
	}
	if c.MaxMessageBatchSize == 0 {
		c.MaxMessageBatchSize = def.MaxMessageBatchSize
	}
	if c.MaxConcurrentDeletes == 0 {
		c.MaxConcurrentDeletes = def.MaxConcurrentDeletes
	}
	if c.TagScanStartSequenceNr == 0 {
		c.TagScanStartSequenceNr = def.TagScanStartSequenceNr
	}
	if c.WriteProfile == "" {
		c.WriteProfile = def.WriteProfile
	}
	if c.ReadProfile == "" {
		c.ReadProfile = def.ReadProfile
	}

	return c
}

// validate panics if the configuration is unusable.
func (c Config) validate() {
	if c.TargetPartitionSize < 1 {
		panic(fmt.Sprintf("target partition size must be positive, got %d", c.TargetPartitionSize))
	}
	if c.MaxMessageBatchSize < 1 {
		panic(fmt.Sprintf("max message batch size must be positive, got %d", c.MaxMessageBatchSize))
	}
	if c.MaxConcurrentDeletes < 1 {
		panic(fmt.Sprintf("max concurrent deletes must be positive, got %d", c.MaxConcurrentDeletes))
	}
}
