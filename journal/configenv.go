package journal

import "github.com/dogmatiq/ferrite"

// FerriteRegistry is a registry of the environment variables used by the
// journal.
var FerriteRegistry = ferrite.NewRegistry(
	"dogmatiq.cassandrakit",
	"CassandraKit",
)

var (
	keyspaceEnv = ferrite.
			String("CASSANDRAKIT_KEYSPACE", "the keyspace holding the journal's tables").
			WithDefault("cassandrakit").
			Required(ferrite.WithRegistry(FerriteRegistry))

	targetPartitionSizeEnv = ferrite.
				Signed[int64]("CASSANDRAKIT_TARGET_PARTITION_SIZE", "the number of events stored per messages-table partition").
				WithDefault(500000).
				Required(ferrite.WithRegistry(FerriteRegistry))

	maxMessageBatchSizeEnv = ferrite.
				Signed[int]("CASSANDRAKIT_MAX_MESSAGE_BATCH_SIZE", "the maximum number of statements per unlogged batch").
				WithDefault(150).
				Required(ferrite.WithRegistry(FerriteRegistry))

	maxConcurrentDeletesEnv = ferrite.
				Signed[int]("CASSANDRAKIT_MAX_CONCURRENT_DELETES", "the maximum number of outstanding deletes per persistence ID").
				WithDefault(16).
				Required(ferrite.WithRegistry(FerriteRegistry))

	supportDeletesEnv = ferrite.
				Bool("CASSANDRAKIT_SUPPORT_DELETES", "enable the DeleteTo() operation").
				WithDefault(true).
				Required(ferrite.WithRegistry(FerriteRegistry))

	cassandra2XCompatEnv = ferrite.
				Bool("CASSANDRAKIT_CASSANDRA_2X_COMPAT", "use per-row deletes for Cassandra 2.x clusters").
				WithDefault(false).
				Required(ferrite.WithRegistry(FerriteRegistry))

	eventsByTagEnabledEnv = ferrite.
				Bool("CASSANDRAKIT_EVENTS_BY_TAG", "enable fan-out to the tag writer").
				WithDefault(false).
				Required(ferrite.WithRegistry(FerriteRegistry))

	writeProfileEnv = ferrite.
			String("CASSANDRAKIT_WRITE_PROFILE", "the execution profile used for writes").
			WithDefault("cassandrakit-write").
			Required(ferrite.WithRegistry(FerriteRegistry))

	readProfileEnv = ferrite.
			String("CASSANDRAKIT_READ_PROFILE", "the execution profile used for reads").
			WithDefault("cassandrakit-read").
			Required(ferrite.WithRegistry(FerriteRegistry))

	coordinatedShutdownEnv = ferrite.
				Bool("CASSANDRAKIT_COORDINATED_SHUTDOWN_ON_ERROR", "invoke the shutdown hook on a fatal journal error").
				WithDefault(false).
				Required(ferrite.WithRegistry(FerriteRegistry))
)

// ConfigFromEnv returns the journal configuration described by the
// environment.
func ConfigFromEnv() Config {
	c := DefaultConfig()

	c.Keyspace = keyspaceEnv.Value()
	c.TargetPartitionSize = targetPartitionSizeEnv.Value()
	c.MaxMessageBatchSize = maxMessageBatchSizeEnv.Value()
	c.MaxConcurrentDeletes = maxConcurrentDeletesEnv.Value()
	c.DisableDeletes = !supportDeletesEnv.Value()
	c.Cassandra2XCompat = cassandra2XCompatEnv.Value()
	c.EventsByTagEnabled = eventsByTagEnabledEnv.Value()
	c.WriteProfile = writeProfileEnv.Value()
	c.ReadProfile = readProfileEnv.Value()
	c.CoordinatedShutdownOnError = coordinatedShutdownEnv.Value()

	return c
}
