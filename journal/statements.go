package journal

import (
	"context"
	"fmt"

	"github.com/dogmatiq/cassandrakit/driver"
	"github.com/dogmatiq/cassandrakit/envelope"
)

// statements is the CQL text of every statement the journal executes.
type statements struct {
	InsertMessage       string
	InsertMessageNoMeta string

	SelectMessages          string
	SelectHighestSequenceNr string
	SelectLowestSequenceNr  string

	SelectDeletedTo string
	InsertDeletedTo string

	DeleteMessage       string
	RangeDeleteMessages string

	SelectTagProgress string
	SelectTagScanning string
}

// statementsFor builds the statement text for the given configuration.
func statementsFor(cfg Config) statements {
	messages := cfg.Keyspace + "." + cfg.Table
	metadata := cfg.Keyspace + "." + cfg.MetadataTable
	tagProgress := cfg.Keyspace + "." + cfg.TagProgressTable
	tagScanning := cfg.Keyspace + "." + cfg.TagScanningTable

	const columns = "persistence_id, partition_nr, sequence_nr, timestamp, timebucket, " +
		"writer_uuid, ser_id, ser_manifest, event_manifest, event, tags"

	return statements{
		InsertMessage: fmt.Sprintf(
			"INSERT INTO %s (%s, meta_ser_id, meta_ser_manifest, meta) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			messages,
			columns,
		),
		InsertMessageNoMeta: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			messages,
			columns,
		),

		// Optional columns vary across schema generations, so message rows
		// are read as SELECT * and probed by name.
		SelectMessages: fmt.Sprintf(
			"SELECT * FROM %s WHERE persistence_id = ? AND partition_nr = ? "+
				"AND sequence_nr >= ? AND sequence_nr <= ?",
			messages,
		),
		SelectHighestSequenceNr: fmt.Sprintf(
			"SELECT sequence_nr FROM %s WHERE persistence_id = ? AND partition_nr = ? "+
				"ORDER BY sequence_nr DESC LIMIT 1",
			messages,
		),
		SelectLowestSequenceNr: fmt.Sprintf(
			"SELECT sequence_nr FROM %s WHERE persistence_id = ? AND partition_nr = ? "+
				"AND sequence_nr >= ? LIMIT 1",
			messages,
		),

		SelectDeletedTo: fmt.Sprintf(
			"SELECT deleted_to FROM %s WHERE persistence_id = ?",
			metadata,
		),
		InsertDeletedTo: fmt.Sprintf(
			"INSERT INTO %s (persistence_id, deleted_to) VALUES (?, ?)",
			metadata,
		),

		DeleteMessage: fmt.Sprintf(
			"DELETE FROM %s WHERE persistence_id = ? AND partition_nr = ? AND sequence_nr = ?",
			messages,
		),
		RangeDeleteMessages: fmt.Sprintf(
			"DELETE FROM %s WHERE persistence_id = ? AND partition_nr = ? AND sequence_nr <= ?",
			messages,
		),

		SelectTagProgress: fmt.Sprintf(
			"SELECT tag, sequence_nr, tag_pid_sequence_nr FROM %s WHERE persistence_id = ?",
			tagProgress,
		),
		SelectTagScanning: fmt.Sprintf(
			"SELECT sequence_nr FROM %s WHERE persistence_id = ?",
			tagScanning,
		),
	}
}

// preparedStatements holds every statement the journal has prepared on its
// session.
//
// Statements gated by configuration (deletes, events-by-tag) are nil when
// disabled.
type preparedStatements struct {
	InsertMessage       driver.PreparedStatement
	InsertMessageNoMeta driver.PreparedStatement

	SelectMessages          driver.PreparedStatement
	SelectHighestSequenceNr driver.PreparedStatement
	SelectLowestSequenceNr  driver.PreparedStatement

	SelectDeletedTo driver.PreparedStatement
	InsertDeletedTo driver.PreparedStatement

	DeleteMessage       driver.PreparedStatement
	RangeDeleteMessages driver.PreparedStatement

	SelectTagProgress driver.PreparedStatement
	SelectTagScanning driver.PreparedStatement
}

// prepareStatements eagerly prepares every statement the configuration calls
// for, so that the first request does not pay the preparation round-trips.
func prepareStatements(
	ctx context.Context,
	s driver.Session,
	cfg Config,
) (*preparedStatements, error) {
	text := statementsFor(cfg)
	prepared := &preparedStatements{}

	prepare := func(dest *driver.PreparedStatement, cql string) error {
		ps, err := s.Prepare(ctx, cql)
		if err != nil {
			return fmt.Errorf("cannot prepare %q: %w", cql, err)
		}
		*dest = ps
		return nil
	}

	required := []struct {
		dest *driver.PreparedStatement
		cql  string
	}{
		{&prepared.InsertMessage, text.InsertMessage},
		{&prepared.InsertMessageNoMeta, text.InsertMessageNoMeta},
		{&prepared.SelectMessages, text.SelectMessages},
		{&prepared.SelectHighestSequenceNr, text.SelectHighestSequenceNr},
		{&prepared.SelectLowestSequenceNr, text.SelectLowestSequenceNr},
		{&prepared.SelectDeletedTo, text.SelectDeletedTo},
	}

	for _, st := range required {
		if err := prepare(st.dest, st.cql); err != nil {
			return nil, err
		}
	}

	if !cfg.DisableDeletes {
		for _, st := range []struct {
			dest *driver.PreparedStatement
			cql  string
		}{
			{&prepared.InsertDeletedTo, text.InsertDeletedTo},
			{&prepared.DeleteMessage, text.DeleteMessage},
			{&prepared.RangeDeleteMessages, text.RangeDeleteMessages},
		} {
			if err := prepare(st.dest, st.cql); err != nil {
				return nil, err
			}
		}
	}

	if cfg.EventsByTagEnabled {
		for _, st := range []struct {
			dest *driver.PreparedStatement
			cql  string
		}{
			{&prepared.SelectTagProgress, text.SelectTagProgress},
			{&prepared.SelectTagScanning, text.SelectTagScanning},
		} {
			if err := prepare(st.dest, st.cql); err != nil {
				return nil, err
			}
		}
	}

	return prepared, nil
}

// bindInsertArgs selects the insert shape for env, depending on whether it
// carries metadata, and builds its bind arguments. The two shapes let
// deployments that never store metadata keep a schema without the meta
// columns.
func (p *preparedStatements) bindInsertArgs(env envelope.Envelope) (driver.PreparedStatement, []any) {
	args := []any{
		env.PersistenceID,
		env.PartitionNr,
		env.SequenceNr,
		env.TimeUUID,
		env.TimeBucket,
		env.WriterUUID,
		env.SerID,
		env.SerManifest,
		env.EventManifest,
		env.Event,
		env.Tags,
	}

	if !env.HasMeta {
		return p.InsertMessageNoMeta, args
	}

	return p.InsertMessage, append(args, env.MetaSerID, env.MetaSerManifest, env.Meta)
}
