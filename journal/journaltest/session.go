// Package journaltest provides an in-memory driver.Session that implements
// the semantics of the journal's statements, for hermetic testing without a
// Cassandra cluster.
package journaltest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gocql/gocql"

	"github.com/dogmatiq/cassandrakit/driver"
	"github.com/dogmatiq/cassandrakit/envelope"
	"github.com/dogmatiq/cassandrakit/journal"
)

// Schema describes which optional columns the simulated messages table has,
// so tests can exercise the reader's column-presence probes against older
// schema generations.
type Schema struct {
	HasMetaColumns bool
	HasTagsSet     bool
	HasLegacyTags  bool
}

// ModernSchema is the current schema generation: meta columns and a tags set.
func ModernSchema() Schema {
	return Schema{
		HasMetaColumns: true,
		HasTagsSet:     true,
	}
}

// Session is an in-memory implementation of driver.Session that understands
// the statements prepared by the journal.
type Session struct {
	// BeforeExecute, if non-nil, is consulted before each statement is
	// applied, including statements within batches. Returning an error fails
	// the statement (or its batch).
	BeforeExecute func(cql string, args []any) error

	m sync.Mutex

	cfg    journal.Config
	schema Schema

	// messages is keyed by persistence ID, then partition, then sequence
	// number.
	messages    map[string]map[int64]map[int64]envelope.Envelope
	metadata    map[string]int64
	tagProgress map[string][]TagProgressRow
	tagScanning map[string]int64

	// Prepared records the text of every statement prepared on the session.
	Prepared []string

	// BatchSizes records the entry count of every executed batch, in
	// execution order.
	BatchSizes []int
}

// TagProgressRow is one row of the simulated tag progress table.
type TagProgressRow struct {
	Tag              string
	SequenceNr       int64
	TagPidSequenceNr int64
}

// NewSession returns an in-memory session simulating the tables named by cfg
// with the given schema generation.
func NewSession(cfg journal.Config, schema Schema) *Session {
	return &Session{
		cfg:         cfg,
		schema:      schema,
		messages:    map[string]map[int64]map[int64]envelope.Envelope{},
		metadata:    map[string]int64{},
		tagProgress: map[string][]TagProgressRow{},
		tagScanning: map[string]int64{},
	}
}

// SeedRow stores a message row directly, bypassing the write path. Tests use
// it to simulate pre-existing data, including data written by older schema
// generations.
func (s *Session) SeedRow(env envelope.Envelope) {
	s.m.Lock()
	defer s.m.Unlock()
	s.storeRow(env)
}

// SeedDeletedTo stores a deleted-to marker directly.
func (s *Session) SeedDeletedTo(pid string, deletedTo int64) {
	s.m.Lock()
	defer s.m.Unlock()
	s.metadata[pid] = deletedTo
}

// SeedTagProgress stores tag progress rows directly.
func (s *Session) SeedTagProgress(pid string, rows ...TagProgressRow) {
	s.m.Lock()
	defer s.m.Unlock()
	s.tagProgress[pid] = append(s.tagProgress[pid], rows...)
}

// SeedTagScanning stores a tag scanning marker directly.
func (s *Session) SeedTagScanning(pid string, seq int64) {
	s.m.Lock()
	defer s.m.Unlock()
	s.tagScanning[pid] = seq
}

// DeletedTo returns the stored deleted-to marker for pid, or zero.
func (s *Session) DeletedTo(pid string) int64 {
	s.m.Lock()
	defer s.m.Unlock()
	return s.metadata[pid]
}

// StoredSequenceNrs returns the sequence numbers physically stored for pid,
// ascending.
func (s *Session) StoredSequenceNrs(pid string) []int64 {
	s.m.Lock()
	defer s.m.Unlock()

	var seqs []int64
	for _, partition := range s.messages[pid] {
		for seq := range partition {
			seqs = append(seqs, seq)
		}
	}

	sort.Slice(seqs, func(i, k int) bool { return seqs[i] < seqs[k] })
	return seqs
}

// Prepare records and returns a prepared statement for the given CQL text.
func (s *Session) Prepare(ctx context.Context, cql string) (driver.PreparedStatement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := s.classify(cql); err != nil {
		return nil, err
	}

	s.m.Lock()
	s.Prepared = append(s.Prepared, cql)
	s.m.Unlock()

	return &preparedStatement{s, cql}, nil
}

// NewBatch returns an empty batch.
func (s *Session) NewBatch(driver.BatchKind) driver.Batch {
	return &batch{}
}

// ExecuteBatch applies every statement in the batch.
func (s *Session) ExecuteBatch(ctx context.Context, _ string, b driver.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mb := b.(*batch)

	for _, e := range mb.entries {
		if s.BeforeExecute != nil {
			if err := s.BeforeExecute(e.cql, e.args); err != nil {
				return err
			}
		}
	}

	s.m.Lock()
	defer s.m.Unlock()

	s.BatchSizes = append(s.BatchSizes, len(mb.entries))

	for _, e := range mb.entries {
		if err := s.apply(e.cql, e.args); err != nil {
			return err
		}
	}

	return nil
}

// Close is a no-op.
func (s *Session) Close() {}

type statementKind int

const (
	insertMessage statementKind = iota
	insertMessageNoMeta
	selectMessages
	selectHighestSequenceNr
	selectLowestSequenceNr
	selectDeletedTo
	insertDeletedTo
	deleteMessage
	rangeDeleteMessages
	selectTagProgress
	selectTagScanning
)

// classify recognizes a statement by its text.
func (s *Session) classify(cql string) (statementKind, error) {
	var (
		messages    = s.cfg.Keyspace + "." + s.cfg.Table
		metadata    = s.cfg.Keyspace + "." + s.cfg.MetadataTable
		tagProgress = s.cfg.Keyspace + "." + s.cfg.TagProgressTable
		tagScanning = s.cfg.Keyspace + "." + s.cfg.TagScanningTable
	)

	switch {
	case strings.HasPrefix(cql, "INSERT INTO "+messages+" "):
		if strings.Contains(cql, "meta_ser_id") {
			return insertMessage, nil
		}
		return insertMessageNoMeta, nil

	case strings.HasPrefix(cql, "SELECT * FROM "+messages+" "):
		return selectMessages, nil

	case strings.HasPrefix(cql, "SELECT sequence_nr FROM "+messages+" "):
		if strings.Contains(cql, "DESC") {
			return selectHighestSequenceNr, nil
		}
		return selectLowestSequenceNr, nil

	case strings.HasPrefix(cql, "SELECT deleted_to FROM "+metadata+" "):
		return selectDeletedTo, nil

	case strings.HasPrefix(cql, "INSERT INTO "+metadata+" "):
		return insertDeletedTo, nil

	case strings.HasPrefix(cql, "DELETE FROM "+messages+" "):
		if strings.Contains(cql, "sequence_nr <= ?") {
			return rangeDeleteMessages, nil
		}
		return deleteMessage, nil

	case strings.HasPrefix(cql, "SELECT tag, sequence_nr, tag_pid_sequence_nr FROM "+tagProgress+" "):
		return selectTagProgress, nil

	case strings.HasPrefix(cql, "SELECT sequence_nr FROM "+tagScanning+" "):
		return selectTagScanning, nil
	}

	return 0, fmt.Errorf("unrecognized statement: %s", cql)
}

// apply executes a mutating statement against the in-memory tables. The
// session mutex must be held.
func (s *Session) apply(cql string, args []any) error {
	kind, err := s.classify(cql)
	if err != nil {
		return err
	}

	switch kind {
	case insertMessage, insertMessageNoMeta:
		env := envelope.Envelope{
			PersistenceID: args[0].(string),
			PartitionNr:   args[1].(int64),
			SequenceNr:    args[2].(int64),
			TimeUUID:      args[3].(gocql.UUID),
			TimeBucket:    args[4].(string),
			WriterUUID:    args[5].(string),
			SerID:         args[6].(int32),
			SerManifest:   args[7].(string),
			EventManifest: args[8].(string),
			Event:         args[9].([]byte),
		}
		if tags, ok := args[10].([]string); ok {
			env.Tags = tags
		}
		if kind == insertMessage {
			env.HasMeta = true
			env.MetaSerID = args[11].(int32)
			env.MetaSerManifest = args[12].(string)
			env.Meta = args[13].([]byte)
		}
		s.storeRow(env)
		return nil

	case insertDeletedTo:
		s.metadata[args[0].(string)] = args[1].(int64)
		return nil

	case deleteMessage:
		pid, partition, seq := args[0].(string), args[1].(int64), args[2].(int64)
		delete(s.messages[pid][partition], seq)
		return nil

	case rangeDeleteMessages:
		pid, partition, toSeq := args[0].(string), args[1].(int64), args[2].(int64)
		for seq := range s.messages[pid][partition] {
			if seq <= toSeq {
				delete(s.messages[pid][partition], seq)
			}
		}
		return nil
	}

	return fmt.Errorf("statement is not executable without an iterator: %s", cql)
}

// query produces an iterator for a read statement. The session mutex must be
// held.
func (s *Session) query(cql string, args []any) (*iter, error) {
	kind, err := s.classify(cql)
	if err != nil {
		return nil, err
	}

	switch kind {
	case selectMessages:
		pid, partition := args[0].(string), args[1].(int64)
		from, to := args[2].(int64), args[3].(int64)

		var rows []envelope.Envelope
		for seq, env := range s.messages[pid][partition] {
			if seq >= from && seq <= to {
				rows = append(rows, env)
			}
		}
		sort.Slice(rows, func(i, k int) bool {
			return rows[i].SequenceNr < rows[k].SequenceNr
		})

		it := &iter{}
		for _, env := range rows {
			it.maps = append(it.maps, s.rowToMap(env))
		}
		return it, nil

	case selectHighestSequenceNr, selectLowestSequenceNr:
		pid, partition := args[0].(string), args[1].(int64)

		var (
			best  int64
			found bool
		)
		for seq := range s.messages[pid][partition] {
			if kind == selectLowestSequenceNr && seq < args[2].(int64) {
				continue
			}
			if !found ||
				(kind == selectHighestSequenceNr && seq > best) ||
				(kind == selectLowestSequenceNr && seq < best) {
				best = seq
				found = true
			}
		}

		it := &iter{}
		if found {
			it.rows = [][]any{{best}}
		}
		return it, nil

	case selectDeletedTo:
		it := &iter{}
		if deletedTo, ok := s.metadata[args[0].(string)]; ok {
			it.rows = [][]any{{deletedTo}}
		}
		return it, nil

	case selectTagProgress:
		it := &iter{}
		for _, row := range s.tagProgress[args[0].(string)] {
			it.rows = append(it.rows, []any{row.Tag, row.SequenceNr, row.TagPidSequenceNr})
		}
		return it, nil

	case selectTagScanning:
		it := &iter{}
		if seq, ok := s.tagScanning[args[0].(string)]; ok {
			it.rows = [][]any{{seq}}
		}
		return it, nil
	}

	return nil, fmt.Errorf("statement does not produce rows: %s", cql)
}

// storeRow upserts a message row. The session mutex must be held.
func (s *Session) storeRow(env envelope.Envelope) {
	partitions, ok := s.messages[env.PersistenceID]
	if !ok {
		partitions = map[int64]map[int64]envelope.Envelope{}
		s.messages[env.PersistenceID] = partitions
	}

	rows, ok := partitions[env.PartitionNr]
	if !ok {
		rows = map[int64]envelope.Envelope{}
		partitions[env.PartitionNr] = rows
	}

	rows[env.SequenceNr] = env
}

// rowToMap renders a stored row the way MapScan would, exposing only the
// columns the simulated schema has.
func (s *Session) rowToMap(env envelope.Envelope) map[string]any {
	row := map[string]any{
		"persistence_id": env.PersistenceID,
		"partition_nr":   env.PartitionNr,
		"sequence_nr":    env.SequenceNr,
		"timestamp":      env.TimeUUID,
		"timebucket":     env.TimeBucket,
		"writer_uuid":    env.WriterUUID,
		"ser_id":         env.SerID,
		"ser_manifest":   env.SerManifest,
		"event_manifest": env.EventManifest,
		"event":          env.Event,
	}

	if s.schema.HasTagsSet {
		row["tags"] = env.Tags
	}

	if s.schema.HasLegacyTags {
		for i, column := range [...]string{"tag1", "tag2", "tag3"} {
			tag := ""
			if i < len(env.Tags) {
				tag = env.Tags[i]
			}
			row[column] = tag
		}
	}

	if s.schema.HasMetaColumns {
		var meta []byte
		if env.HasMeta {
			meta = env.Meta
			if meta == nil {
				meta = []byte{}
			}
		}
		row["meta"] = meta
		row["meta_ser_id"] = env.MetaSerID
		row["meta_ser_manifest"] = env.MetaSerManifest
	}

	return row
}

type preparedStatement struct {
	session *Session
	cql     string
}

func (ps *preparedStatement) CQL() string {
	return ps.cql
}

func (ps *preparedStatement) Bind(args ...any) driver.BoundStatement {
	return &boundStatement{ps.session, ps.cql, args}
}

type boundStatement struct {
	session *Session
	cql     string
	args    []any
}

func (bs *boundStatement) Exec(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if bs.session.BeforeExecute != nil {
		if err := bs.session.BeforeExecute(bs.cql, bs.args); err != nil {
			return err
		}
	}

	bs.session.m.Lock()
	defer bs.session.m.Unlock()

	return bs.session.apply(bs.cql, bs.args)
}

func (bs *boundStatement) Iter(ctx context.Context, _ string) driver.Iter {
	if err := ctx.Err(); err != nil {
		return &iter{err: err}
	}

	if bs.session.BeforeExecute != nil {
		if err := bs.session.BeforeExecute(bs.cql, bs.args); err != nil {
			return &iter{err: err}
		}
	}

	bs.session.m.Lock()
	defer bs.session.m.Unlock()

	it, err := bs.session.query(bs.cql, bs.args)
	if err != nil {
		return &iter{err: err}
	}

	return it
}

type batch struct {
	entries []batchEntry
}

type batchEntry struct {
	cql  string
	args []any
}

func (b *batch) Add(ps driver.PreparedStatement, args ...any) {
	b.entries = append(b.entries, batchEntry{ps.CQL(), args})
}

func (b *batch) Len() int {
	return len(b.entries)
}

type iter struct {
	rows [][]any
	maps []map[string]any
	next int
	err  error
}

func (i *iter) Scan(dest ...any) bool {
	if i.err != nil || i.next >= len(i.rows) {
		return false
	}

	row := i.rows[i.next]
	i.next++

	if len(dest) != len(row) {
		i.err = fmt.Errorf("scan expects %d destinations, got %d", len(row), len(dest))
		return false
	}

	for n, v := range row {
		if !scanInto(dest[n], v) {
			i.err = fmt.Errorf("cannot scan %T into %T", v, dest[n])
			return false
		}
	}

	return true
}

func (i *iter) MapScan(m map[string]any) bool {
	if i.err != nil || i.next >= len(i.maps) {
		return false
	}

	for k, v := range i.maps[i.next] {
		m[k] = v
	}
	i.next++

	return true
}

func (i *iter) Columns() []driver.ColumnInfo {
	if len(i.maps) == 0 {
		return nil
	}

	var cols []driver.ColumnInfo
	for name := range i.maps[0] {
		cols = append(cols, driver.ColumnInfo{Name: name})
	}
	return cols
}

func (i *iter) Close() error {
	return i.err
}

func scanInto(dest, v any) bool {
	switch d := dest.(type) {
	case *int64:
		n, ok := v.(int64)
		*d = n
		return ok
	case *int32:
		n, ok := v.(int32)
		*d = n
		return ok
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
	}

	return false
}
