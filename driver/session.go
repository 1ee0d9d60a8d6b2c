// Package driver defines the contract between the journal and the
// Cassandra-family session that executes its statements.
//
// The production implementation is in the gocqldriver sub-package. The
// journal only ever executes prepared statements; connection pooling,
// statement caching and retry policy belong to the driver.
package driver

import "context"

// Session is a connection to a Cassandra-family cluster, capable of preparing
// and executing statements.
type Session interface {
	// Prepare returns a prepared statement for the given CQL text.
	//
	// Preparing the same text more than once is permitted and must be
	// idempotent.
	Prepare(ctx context.Context, cql string) (PreparedStatement, error)

	// NewBatch returns an empty batch of the given kind.
	NewBatch(kind BatchKind) Batch

	// ExecuteBatch executes every statement in the batch under the named
	// execution profile.
	ExecuteBatch(ctx context.Context, profile string, b Batch) error

	// Close releases the session's resources.
	Close()
}

// PreparedStatement is a statement that has been prepared on a session.
type PreparedStatement interface {
	// CQL returns the statement text.
	CQL() string

	// Bind binds the statement's positional parameters.
	Bind(args ...any) BoundStatement
}

// BoundStatement is a prepared statement with bound parameters, ready for
// execution.
type BoundStatement interface {
	// Exec executes the statement under the named execution profile,
	// discarding any result rows.
	Exec(ctx context.Context, profile string) error

	// Iter executes the statement under the named execution profile and
	// returns an iterator over the result rows.
	Iter(ctx context.Context, profile string) Iter
}

// Iter iterates over the rows produced by a statement.
type Iter interface {
	// Scan copies the next row's columns into dest, returning false when no
	// rows remain.
	Scan(dest ...any) bool

	// MapScan copies the next row into m, keyed by column name, returning
	// false when no rows remain. Only columns present in the result set
	// appear as keys.
	MapScan(m map[string]any) bool

	// Columns describes the columns of the result set.
	Columns() []ColumnInfo

	// Close releases the iterator and reports any error encountered during
	// iteration.
	Close() error
}

// ColumnInfo describes a single column of a result set.
type ColumnInfo struct {
	Keyspace string
	Table    string
	Name     string
}

// BatchKind is the kind of a statement batch.
type BatchKind int

const (
	// LoggedBatch is an atomic (logged) batch.
	LoggedBatch BatchKind = iota

	// UnloggedBatch is a non-atomic batch, atomic only within a single
	// partition.
	UnloggedBatch
)

// Batch is an ordered collection of bound statements executed as a unit.
type Batch interface {
	// Add appends a bound statement to the batch.
	Add(ps PreparedStatement, args ...any)

	// Len returns the number of statements in the batch.
	Len() int
}
