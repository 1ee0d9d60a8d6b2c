// Package journal implements a durable event journal backed by a
// Cassandra-family store.
//
// Events are persisted per persistence ID with strictly monotonic sequence
// numbers, sharded across bounded row-group partitions. The journal supports
// atomic batch writes, replay, logical+physical deletion up to a sequence
// number, and fan-out to a tag-view writer.
package journal

import (
	"context"
	"errors"
	"sync"

	"github.com/dogmatiq/cassandrakit/driver"
	"github.com/dogmatiq/cassandrakit/envelope"
	"github.com/dogmatiq/cassandrakit/internal/telemetry"
	"github.com/dogmatiq/cassandrakit/tagview"
)

// Journal is the journal controller. It owns the per-persistence-ID
// coordination state and mediates between incoming requests and the workers
// that execute them.
//
// Populate the exported fields, then call Run(). The other methods may be
// called from any goroutine while Run() is executing.
type Journal struct {
	// Session is the backing-store session. It is shared process-wide; its
	// internal pool enforces concurrency limits.
	Session driver.Session

	// Config is the journal's configuration. Zero-valued fields assume their
	// defaults, per DefaultConfig().
	Config Config

	// Codecs serializes event payloads and metadata. If it is nil, a registry
	// containing the protobuf and JSON codecs is used.
	Codecs *envelope.Registry

	// TagWriter receives tag-view work. It may be nil when events-by-tag is
	// disabled.
	TagWriter tagview.Writer

	// UUIDs mints the time-based UUIDs assigned to events. If it is nil, Run()
	// creates a monotonic source owned by this journal.
	UUIDs UUIDSource

	// Telemetry provides tracing, metrics and logging.
	Telemetry *telemetry.Provider

	// ShutdownHook, if non-nil, is invoked when the journal stops due to a
	// fatal error and CoordinatedShutdownOnError is set.
	ShutdownHook func()

	initOnce  sync.Once
	stopOnce  sync.Once
	readyOnce sync.Once
	mailbox   chan message
	stopped   chan struct{}
	ready     chan struct{}

	// The fields below are owned exclusively by the Run() loop.
	cfg      Config
	stmts    *preparedStatements
	codecs   *envelope.Registry
	uuids    UUIDSource
	rec      *telemetry.Recorder
	inFlight int

	// writeInProgress records the completion future of the most recently
	// accepted write per persistence ID. Reads of the highest sequence number
	// defer until it completes; this substitutes for the backing store's lack
	// of session-level read-your-writes consistency.
	writeInProgress map[string]chan struct{}

	// pendingDeletes serializes deletes per persistence ID. The head of each
	// queue is executing; the rest start as their predecessors settle.
	pendingDeletes map[string][]*deleteRequest
}

// A message is one unit of work consumed by the Run() loop: a request
// submitted by a caller, or a completion self-message sent by a worker when
// its operation settles. Everything that mutates the per-persistence-ID state
// flows through this single mailbox.
type message interface {
	journalMessage()
}

// A callerRequest is a message that carries a reply channel back to a caller.
type callerRequest interface {
	message

	// deny fails the request without servicing it.
	deny(err error)
}

// writeRequest asks the journal to persist the batches of one
// WriteAtomicBatches() call.
type writeRequest struct {
	pid     string
	batches []AtomicWrite
	result  chan writeResult
}

type writeResult struct {
	results []error
	err     error
}

func (*writeRequest) journalMessage() {}

func (r *writeRequest) deny(err error) {
	r.result <- writeResult{err: err}
}

func (r *writeRequest) succeed(results []error) {
	r.result <- writeResult{results: results}
}

// deleteRequest asks the journal to delete one persistence ID's events up to
// a sequence number.
type deleteRequest struct {
	pid    string
	toSeq  int64
	result chan error
}

func (*deleteRequest) journalMessage() {}

func (r *deleteRequest) settle(err error) {
	r.result <- err
}

func (r *deleteRequest) deny(err error) {
	r.settle(err)
}

// highestRequest asks the journal for a persistence ID's highest stored
// sequence number. Unlike writes and deletes, the probe is canceled with its
// caller, so it carries the caller's context.
type highestRequest struct {
	ctx    context.Context
	pid    string
	from   int64
	result chan highestResult
}

type highestResult struct {
	highest int64
	err     error
}

func (*highestRequest) journalMessage() {}

func (r *highestRequest) deny(err error) {
	r.result <- highestResult{err: err}
}

// writeFinished is the self-message a write worker sends when its batches
// have settled, so the in-progress future map can be cleaned up.
type writeFinished struct {
	pid  string
	done chan struct{}
}

func (writeFinished) journalMessage() {}

// deleteFinished is the self-message a delete worker sends when its pipeline
// has settled, so the head of the queue can be resolved and the next queued
// delete started.
type deleteFinished struct {
	pid string
	err error
}

func (deleteFinished) journalMessage() {}

// initialize creates the channels shared between the Run() loop and callers.
func (j *Journal) initialize() {
	j.initOnce.Do(func() {
		j.mailbox = make(chan message)
		j.stopped = make(chan struct{})
		j.ready = make(chan struct{})
	})
}

// markStopped permanently fails future requests with ErrShuttingDown.
func (j *Journal) markStopped() {
	j.initialize()
	j.stopOnce.Do(func() {
		close(j.stopped)
	})
}

// Run prepares the journal's statements, then consumes the mailbox until ctx
// is canceled or a fatal error occurs.
//
// The journal is not resumable: once Run() returns, subsequent requests fail
// with ErrShuttingDown.
func (j *Journal) Run(ctx context.Context) (err error) {
	j.initialize()

	defer func() {
		j.markStopped()

		if err != nil &&
			!errors.Is(err, context.Canceled) &&
			j.cfg.CoordinatedShutdownOnError &&
			j.ShutdownHook != nil {
			j.ShutdownHook()
		}
	}()

	j.cfg = j.Config.withDefaults()
	j.cfg.validate()

	j.codecs = j.Codecs
	if j.codecs == nil {
		j.codecs = envelope.NewRegistry(
			envelope.ProtoCodec{},
			envelope.NewJSONCodec(),
		)
	}

	j.uuids = j.UUIDs
	if j.uuids == nil {
		j.uuids = monotonicUUIDSource()
	}

	j.rec = j.Telemetry.Recorder("journal")

	j.stmts, err = prepareStatements(ctx, j.Session, j.cfg)
	if err != nil {
		return err
	}

	j.writeInProgress = map[string]chan struct{}{}
	j.pendingDeletes = map[string][]*deleteRequest{}

	j.readyOnce.Do(func() {
		close(j.ready)
	})

	j.rec.Logger().DebugContext(ctx, "journal started")
	defer j.rec.Logger().DebugContext(ctx, "journal stopped")

	for {
		select {
		case <-ctx.Done():
			return j.drain(ctx.Err())

		case m := <-j.mailbox:
			switch m := m.(type) {
			case *writeRequest:
				j.acceptWrite(ctx, m)
			case *deleteRequest:
				j.acceptDelete(ctx, m)
			case *highestRequest:
				j.acceptHighest(m)
			case writeFinished:
				j.finishWrite(m)
			case deleteFinished:
				j.finishDelete(ctx, m, true)
			}
		}
	}
}

// drain waits for every dispatched worker to settle, denying any further
// requests, then fails the deletes that never started.
//
// Accepted work is never canceled; a write or delete runs to completion even
// while the journal is stopping.
func (j *Journal) drain(cause error) error {
	j.markStopped()

	for j.inFlight > 0 {
		switch m := (<-j.mailbox).(type) {
		case writeFinished:
			j.finishWrite(m)
		case deleteFinished:
			j.finishDelete(context.Background(), m, false)
		case callerRequest:
			m.deny(ErrShuttingDown)
		}
	}

	for pid, queue := range j.pendingDeletes {
		for _, r := range queue {
			r.deny(ErrShuttingDown)
		}
		delete(j.pendingDeletes, pid)
	}

	return cause
}

// acceptWrite registers the write's completion future and dispatches it to a
// worker goroutine.
func (j *Journal) acceptWrite(ctx context.Context, req *writeRequest) {
	prev := j.writeInProgress[req.pid]
	done := make(chan struct{})
	j.writeInProgress[req.pid] = done
	j.inFlight++

	go j.runWrite(ctx, req, prev, done)
}

// finishWrite removes the completed write from the in-progress map, unless a
// later write has already replaced it.
func (j *Journal) finishWrite(m writeFinished) {
	j.inFlight--

	if j.writeInProgress[m.pid] == m.done {
		delete(j.writeInProgress, m.pid)
	}
}

// acceptDelete enqueues a delete request, starting it immediately if it is
// the only one outstanding for its persistence ID.
func (j *Journal) acceptDelete(ctx context.Context, req *deleteRequest) {
	queue := j.pendingDeletes[req.pid]

	if len(queue) >= j.cfg.MaxConcurrentDeletes {
		req.deny(ErrTooManyDeletes)
		return
	}

	j.pendingDeletes[req.pid] = append(queue, req)

	if len(queue) == 0 {
		j.startDelete(ctx, req)
	}
}

// startDelete dispatches the head of a persistence ID's delete queue to a
// worker goroutine.
func (j *Journal) startDelete(ctx context.Context, req *deleteRequest) {
	wip := j.writeInProgress[req.pid]
	j.inFlight++

	go j.runDelete(ctx, req, wip)
}

// finishDelete resolves the head of the queue with the worker's outcome and,
// if startNext is set, starts the next queued request.
func (j *Journal) finishDelete(ctx context.Context, m deleteFinished, startNext bool) {
	j.inFlight--

	queue := j.pendingDeletes[m.pid]
	if len(queue) == 0 {
		return
	}

	queue[0].settle(m.err)

	queue = queue[1:]
	if len(queue) == 0 {
		delete(j.pendingDeletes, m.pid)
		return
	}

	j.pendingDeletes[m.pid] = queue

	if startNext {
		j.startDelete(ctx, queue[0])
	}
}

// acceptHighest dispatches a highest-sequence-number probe to its own
// goroutine, first capturing the persistence ID's in-progress write future so
// the probe can await it.
func (j *Journal) acceptHighest(req *highestRequest) {
	wip := j.writeInProgress[req.pid]

	go j.runHighest(req, wip)
}

// WriteAtomicBatches persists the given atomic writes, which must share one
// persistence ID.
//
// The returned slice corresponds 1:1 positionally to batches; each element is
// nil on success or the backing-store failure that rejected that batch. The
// second return value reports call-level failures (precondition violations,
// serialization errors, shutdown), in which case no per-batch vector is
// produced. Serialization errors deliberately fail the whole call: swallowing
// them into per-batch results would create sequence-number holes visible to
// the tag index.
func (j *Journal) WriteAtomicBatches(
	ctx context.Context,
	batches []AtomicWrite,
) ([]error, error) {
	if len(batches) == 0 {
		return nil, nil
	}

	pid, err := j.validateBatches(batches)
	if err != nil {
		return nil, err
	}

	req := &writeRequest{
		pid:     pid,
		batches: batches,
		result:  make(chan writeResult, 1),
	}

	if err := j.submit(ctx, req); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-req.result:
		return res.results, res.err
	}
}

// DeleteTo logically deletes all events with a sequence number of toSeq or
// lower, then removes their rows. Pass DeleteToHighest to delete everything
// currently stored.
//
// Deletes for one persistence ID are serialized; at most MaxConcurrentDeletes
// may be outstanding, beyond which the call fails fast with ErrTooManyDeletes.
func (j *Journal) DeleteTo(ctx context.Context, pid string, toSeq int64) error {
	if j.Config.DisableDeletes {
		return ErrDeletesDisabled
	}

	req := &deleteRequest{
		pid:    pid,
		toSeq:  toSeq,
		result: make(chan error, 1),
	}

	if err := j.submit(ctx, req); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.result:
		return err
	}
}

// HighestSequenceNr returns the highest sequence number stored for the given
// persistence ID in the partition holding from or any later partition, or
// from if none of those partitions holds an event. A value below from is
// returned when from's partition holds only lower sequence numbers.
//
// The probe defers until any in-progress write for the persistence ID has
// completed, so a write accepted before this call is always observed.
func (j *Journal) HighestSequenceNr(ctx context.Context, pid string, from int64) (int64, error) {
	req := &highestRequest{
		ctx:    ctx,
		pid:    pid,
		from:   from,
		result: make(chan highestResult, 1),
	}

	if err := j.submit(ctx, req); err != nil {
		return 0, err
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-req.result:
		return res.highest, res.err
	}
}

// submit places a request in the mailbox, failing fast with ErrShuttingDown
// once the journal has stopped.
func (j *Journal) submit(ctx context.Context, req callerRequest) error {
	j.initialize()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-j.stopped:
		return ErrShuttingDown
	case j.mailbox <- req:
		return nil
	}
}

// validateBatches checks the call-level preconditions and returns the
// persistence ID shared by all batches.
func (j *Journal) validateBatches(batches []AtomicWrite) (string, error) {
	cfg := j.Config.withDefaults()

	pid := ""
	for _, b := range batches {
		if len(b.Messages) == 0 {
			return "", ErrEmptyAtomicWrite
		}

		for i, m := range b.Messages {
			if pid == "" {
				pid = m.PersistenceID
			} else if m.PersistenceID != pid {
				return "", ErrMixedPersistenceIDs
			}

			if i > 0 && m.SequenceNr != b.Messages[i-1].SequenceNr+1 {
				return "", errors.New("atomic write sequence numbers are not contiguous")
			}
		}
	}

	// An accepted call may span at most two adjacent partitions; the replay
	// reader scans a partition and its successor, never further.
	first := batches[0].Messages[0].SequenceNr
	last := batches[len(batches)-1]
	lastSeq := last.Messages[len(last.Messages)-1].SequenceNr

	if PartitionOf(lastSeq, cfg.TargetPartitionSize)-PartitionOf(first, cfg.TargetPartitionSize) > 1 {
		return "", ErrAtomicWriteSpansPartitions
	}

	return pid, nil
}

// awaitFuture waits for a write-in-progress future, if any.
func awaitFuture(ctx context.Context, future <-chan struct{}) error {
	if future == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-future:
		return nil
	}
}

// awaitReady blocks until the journal's statements have been prepared.
func (j *Journal) awaitReady(ctx context.Context) error {
	j.initialize()

	select {
	case <-j.ready:
		return nil
	case <-j.stopped:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}
