package journal

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dogmatiq/cassandrakit/driver"
)

// physicalDeleteParallelism bounds the number of partitions whose rows are
// removed concurrently during one delete.
const physicalDeleteParallelism = 4

// runDelete executes the head of a persistence ID's delete queue in its own
// goroutine, then sends a deleteFinished self-message so the next queued
// delete can start.
func (j *Journal) runDelete(
	ctx context.Context,
	req *deleteRequest,
	wip <-chan struct{},
) {
	err := j.performDelete(ctx, req, wip)

	// The Run() loop consumes the mailbox until every dispatched worker has
	// reported, even while shutting down, so the send is unconditional.
	j.mailbox <- deleteFinished{req.pid, err}
}

// performDelete runs the two-phase delete pipeline.
//
// The logical delete (advancing the deleted-to marker) is authoritative; a
// physical-delete failure is logged and swallowed, leaving rows that readers
// already skip.
func (j *Journal) performDelete(
	ctx context.Context,
	req *deleteRequest,
	wip <-chan struct{},
) error {
	ctx, span := j.rec.StartSpan(
		ctx,
		"journal.delete",
		attribute.String("persistence_id", req.pid),
		attribute.Int64("to_sequence_nr", req.toSeq),
	)
	defer span.End()

	fail := func(err error) error {
		span.Error(ctx, err)
		return err
	}

	deletedTo, err := j.readDeletedTo(ctx, req.pid)
	if err != nil {
		return fail(err)
	}

	target := req.toSeq
	if target == DeleteToHighest {
		if err := awaitFuture(ctx, wip); err != nil {
			return fail(err)
		}

		target, err = j.readHighestSequenceNr(ctx, req.pid, deletedTo)
		if err != nil {
			return fail(err)
		}
	}

	if target > deletedTo {
		ps := j.stmts.InsertDeletedTo
		if err := ps.Bind(req.pid, target).Exec(ctx, j.cfg.WriteProfile); err != nil {
			return fail(fmt.Errorf("cannot advance deleted-to marker: %w", err))
		}
	}

	if target < deletedTo+1 {
		// Retried or stale request; the marker already covers it.
		return nil
	}

	// The +1 covers atomic writes that straddled a partition boundary: their
	// trailing rows live one partition past the target's.
	fromPartition := PartitionOf(deletedTo+1, j.cfg.TargetPartitionSize)
	toPartition := PartitionOf(target, j.cfg.TargetPartitionSize) + 1

	if err := j.physicalDelete(ctx, req.pid, fromPartition, toPartition, target); err != nil {
		span.Logger().WarnContext(
			ctx,
			"physical delete failed; rows at or below the deleted-to marker remain and must be removed manually",
			slog.String("persistence_id", req.pid),
			slog.Int64("from_partition", fromPartition),
			slog.Int64("to_partition", toPartition),
			slog.Int64("deleted_to", target),
			slog.String("error", err.Error()),
		)
		j.rec.Error(ctx, err)
	}

	return nil
}

// physicalDelete removes the rows of partitions [fromPartition, toPartition]
// up to and including toSeq.
func (j *Journal) physicalDelete(
	ctx context.Context,
	pid string,
	fromPartition, toPartition, toSeq int64,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(physicalDeleteParallelism)

	for p := fromPartition; p <= toPartition; p++ {
		p := p

		g.Go(func() error {
			if j.cfg.Cassandra2XCompat {
				return j.deletePartitionRows(gctx, pid, p, toSeq)
			}

			return j.stmts.RangeDeleteMessages.
				Bind(pid, p, toSeq).
				Exec(gctx, j.cfg.WriteProfile)
		})
	}

	return g.Wait()
}

// deletePartitionRows removes a partition's rows one sequence number at a
// time, in unlogged batches, for clusters that predate range deletes.
func (j *Journal) deletePartitionRows(
	ctx context.Context,
	pid string,
	partition, toSeq int64,
) error {
	lowest, ok, err := j.lowestInPartition(ctx, pid, partition)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	highest := MinSeqOf(partition+1, j.cfg.TargetPartitionSize) - 1
	if toSeq < highest {
		highest = toSeq
	}

	for from := lowest; from <= highest; from += int64(j.cfg.MaxMessageBatchSize) {
		to := from + int64(j.cfg.MaxMessageBatchSize) - 1
		if to > highest {
			to = highest
		}

		b := j.Session.NewBatch(driver.UnloggedBatch)
		for seq := from; seq <= to; seq++ {
			b.Add(j.stmts.DeleteMessage, pid, partition, seq)
		}

		if err := j.Session.ExecuteBatch(ctx, j.cfg.WriteProfile, b); err != nil {
			return err
		}
	}

	return nil
}

// lowestInPartition returns the lowest stored sequence number within one
// partition.
func (j *Journal) lowestInPartition(
	ctx context.Context,
	pid string,
	partition int64,
) (int64, bool, error) {
	it := j.stmts.SelectLowestSequenceNr.
		Bind(pid, partition, MinSeqOf(partition, j.cfg.TargetPartitionSize)).
		Iter(ctx, j.cfg.ReadProfile)

	var seq int64
	ok := it.Scan(&seq)

	if err := it.Close(); err != nil {
		return 0, false, err
	}

	return seq, ok, nil
}

// readDeletedTo returns the persistence ID's deleted-to marker, or zero if
// none has been recorded.
func (j *Journal) readDeletedTo(ctx context.Context, pid string) (int64, error) {
	it := j.stmts.SelectDeletedTo.
		Bind(pid).
		Iter(ctx, j.cfg.ReadProfile)

	var deletedTo int64
	it.Scan(&deletedTo)

	if err := it.Close(); err != nil {
		return 0, err
	}

	return deletedTo, nil
}
