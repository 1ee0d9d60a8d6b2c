// Package gocqldriver implements the driver contract over a gocql session.
package gocqldriver

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/dogmatiq/cassandrakit/driver"
)

// Profile bundles the per-request execution options applied to statements
// executed under a named execution profile.
type Profile struct {
	// Consistency is the consistency level of the request.
	Consistency gocql.Consistency

	// SerialConsistency is the consistency level for the serial phase of
	// lightweight transactions. Zero means the driver default.
	SerialConsistency gocql.SerialConsistency

	// PageSize is the result page size for reads. Zero means the driver
	// default.
	PageSize int
}

// Session is an implementation of driver.Session backed by a gocql session.
type Session struct {
	// DB is the gocql session to use.
	DB *gocql.Session

	// Profiles maps execution profile names to the options applied to
	// statements executed under that profile. Statements executed under an
	// unknown profile use the session's defaults.
	Profiles map[string]Profile
}

// Prepare returns a prepared statement for the given CQL text.
//
// gocql prepares statements lazily and caches them per connection, so this
// merely captures the text; repeated calls are idempotent.
func (s *Session) Prepare(ctx context.Context, cql string) (driver.PreparedStatement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &preparedStatement{s, cql}, nil
}

// NewBatch returns an empty batch of the given kind.
func (s *Session) NewBatch(kind driver.BatchKind) driver.Batch {
	k := gocql.LoggedBatch
	if kind == driver.UnloggedBatch {
		k = gocql.UnloggedBatch
	}

	return &batch{b: s.DB.NewBatch(k)}
}

// ExecuteBatch executes every statement in the batch under the named
// execution profile.
func (s *Session) ExecuteBatch(ctx context.Context, profile string, b driver.Batch) error {
	gb, ok := b.(*batch)
	if !ok {
		return fmt.Errorf("unsupported batch type %T", b)
	}

	gb.b = gb.b.WithContext(ctx)

	if p, ok := s.Profiles[profile]; ok {
		gb.b.Cons = p.Consistency
		if p.SerialConsistency != 0 {
			gb.b.SerialConsistency(p.SerialConsistency)
		}
	}

	return s.DB.ExecuteBatch(gb.b)
}

// Close releases the underlying gocql session.
func (s *Session) Close() {
	s.DB.Close()
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

func (bs *boundStatement) query(ctx context.Context, profile string) *gocql.Query {
	q := bs.session.DB.Query(bs.cql, bs.args...).WithContext(ctx)

	if p, ok := bs.session.Profiles[profile]; ok {
		q = q.Consistency(p.Consistency)
		if p.SerialConsistency != 0 {
			q = q.SerialConsistency(p.SerialConsistency)
		}
		if p.PageSize > 0 {
			q = q.PageSize(p.PageSize)
		}
	}

	return q
}

func (bs *boundStatement) Exec(ctx context.Context, profile string) error {
	return bs.query(ctx, profile).Exec()
}

func (bs *boundStatement) Iter(ctx context.Context, profile string) driver.Iter {
	return &iter{it: bs.query(ctx, profile).Iter()}
}

type iter struct {
	it *gocql.Iter
}

func (i *iter) Scan(dest ...any) bool {
	return i.it.Scan(dest...)
}

func (i *iter) MapScan(m map[string]any) bool {
	return i.it.MapScan(m)
}

func (i *iter) Columns() []driver.ColumnInfo {
	cols := i.it.Columns()

	out := make([]driver.ColumnInfo, len(cols))
	for n, c := range cols {
		out[n] = driver.ColumnInfo{
			Keyspace: c.Keyspace,
			Table:    c.Table,
			Name:     c.Name,
		}
	}

	return out
}

func (i *iter) Close() error {
	return i.it.Close()
}

type batch struct {
	b *gocql.Batch
}

func (b *batch) Add(ps driver.PreparedStatement, args ...any) {
	b.b.Query(ps.CQL(), args...)
}

func (b *batch) Len() int {
	return b.b.Size()
}
