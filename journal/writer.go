package journal

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dogmatiq/cassandrakit/driver"
	"github.com/dogmatiq/cassandrakit/envelope"
	"github.com/dogmatiq/cassandrakit/tagview"
)

// runWrite executes one accepted WriteAtomicBatches() call in its own
// goroutine.
//
// The in-progress future is resolved regardless of the outcome, so that
// deferred reads can proceed, and a writeFinished self-message is always sent
// so the in-progress map is cleaned up.
func (j *Journal) runWrite(
	ctx context.Context,
	req *writeRequest,
	prev <-chan struct{},
	done chan struct{},
) {
	defer close(done)

	// The Run() loop consumes the mailbox until every dispatched worker has
	// reported, even while shutting down, so the send is unconditional.
	defer func() {
		j.mailbox <- writeFinished{req.pid, done}
	}()

	octx, span := j.rec.StartSpan(
		ctx,
		"journal.write",
		attribute.String("persistence_id", req.pid),
		attribute.Int("batches", len(req.batches)),
	)
	defer span.End()

	// Writes for one persistence ID complete in acceptance order.
	if err := awaitFuture(octx, prev); err != nil {
		span.Error(octx, err)
		req.deny(err)
		return
	}

	envs, err := j.serializeBatches(octx, req.batches)
	if err != nil {
		// A serialization failure fails the whole call before anything is
		// written; it never becomes a per-batch result.
		span.Error(octx, err)
		req.deny(err)
		return
	}

	results, written := j.executeGroups(octx, span.Logger(), envs)

	if len(written) > 0 && j.cfg.EventsByTagEnabled && j.TagWriter != nil {
		j.TagWriter.Write(tagview.ExtractBulkWrite(written))
	}

	req.succeed(results)
}

// serializeBatches serializes every message of every batch, in parallel, and
// assigns partition numbers and time UUIDs.
func (j *Journal) serializeBatches(
	ctx context.Context,
	batches []AtomicWrite,
) ([][]envelope.Envelope, error) {
	envs := make([][]envelope.Envelope, len(batches))

	// UUIDs are minted sequentially, before the parallel encode, so their
	// timestamps are non-decreasing in event order.
	for bi, b := range batches {
		envs[bi] = make([]envelope.Envelope, len(b.Messages))

		for mi, m := range b.Messages {
			u := j.uuids()

			envs[bi][mi] = envelope.Envelope{
				PersistenceID: m.PersistenceID,
				PartitionNr:   PartitionOf(m.SequenceNr, j.cfg.TargetPartitionSize),
				SequenceNr:    m.SequenceNr,
				TimeUUID:      u,
				TimeBucket:    timeBucketOf(u),
				WriterUUID:    m.WriterUUID,
				EventManifest: m.EventManifest,
				Tags:          m.Tags,
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	for bi, b := range batches {
		for mi, m := range b.Messages {
			bi, mi, m := bi, mi, m

			g.Go(func() error {
				enc, err := j.codecs.EncodeEvent(gctx, m.Payload)
				if err != nil {
					return err
				}

				env := &envs[bi][mi]
				env.Event = enc.Payload
				env.SerID = enc.SerID
				env.SerManifest = enc.Manifest

				if m.Meta != nil {
					meta := j.codecs.EncodeMeta(gctx, m.Meta)
					env.HasMeta = true
					env.Meta = meta.Payload
					env.MetaSerID = meta.SerID
					env.MetaSerManifest = meta.Manifest
				}

				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return envs, nil
}

// executeGroups writes the serialized batches to the store and returns the
// per-batch result vector along with the envelopes that were durably written,
// in event order.
//
// When the events fit within MaxMessageBatchSize they are sent as a single
// unlogged batch; otherwise they are regrouped, preserving event order, and
// the groups are executed strictly sequentially so that a failure never
// leaves later events committed ahead of earlier ones.
func (j *Journal) executeGroups(
	ctx context.Context,
	logger *slog.Logger,
	envs [][]envelope.Envelope,
) (results []error, written []envelope.Envelope) {
	results = make([]error, len(envs))

	var groups [][]int // batch indices per execution group
	{
		total := 0
		for _, b := range envs {
			total += len(b)
		}

		if total <= j.cfg.MaxMessageBatchSize {
			group := make([]int, len(envs))
			for i := range envs {
				group[i] = i
			}
			groups = [][]int{group}
		} else {
			var (
				group []int
				n     int
			)
			for i, b := range envs {
				if len(group) > 0 && n+len(b) >= j.cfg.MaxMessageBatchSize {
					groups = append(groups, group)
					group, n = nil, 0
				}
				group = append(group, i)
				n += len(b)
			}
			groups = append(groups, group)
		}
	}

	var failed error

	for _, group := range groups {
		if failed == nil {
			failed = j.executeGroup(ctx, group, envs)
		}

		for _, bi := range group {
			results[bi] = failed
			if failed == nil {
				written = append(written, envs[bi]...)
			}
		}
	}

	if failed != nil {
		logger.WarnContext(
			ctx,
			"atomic batch write failed",
			slog.String("error", failed.Error()),
		)
	} else {
		last := envs[len(envs)-1]
		logger.DebugContext(
			ctx,
			"wrote atomic batches",
			slog.Int("batches", len(envs)),
			slog.Int64("highest_sequence_nr", last[len(last)-1].SequenceNr),
		)
	}

	return results, written
}

// executeGroup writes one execution group. A group with a single event skips
// batch construction and executes the bound insert directly.
func (j *Journal) executeGroup(
	ctx context.Context,
	group []int,
	envs [][]envelope.Envelope,
) error {
	if len(group) == 1 && len(envs[group[0]]) == 1 {
		ps, args := j.stmts.bindInsertArgs(envs[group[0]][0])
		return ps.Bind(args...).Exec(ctx, j.cfg.WriteProfile)
	}

	b := j.Session.NewBatch(driver.UnloggedBatch)

	for _, bi := range group {
		for _, env := range envs[bi] {
			ps, args := j.stmts.bindInsertArgs(env)
			b.Add(ps, args...)
		}
	}

	return j.Session.ExecuteBatch(ctx, j.cfg.WriteProfile, b)
}
