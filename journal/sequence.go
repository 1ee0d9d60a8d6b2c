package journal

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// runHighest services one HighestSequenceNr() probe in its own goroutine.
//
// When the probe finds nothing beyond the caller's starting point, recovery
// will replay zero events, so the "replay drives tag progress" path never
// fires; the probe compensates by fanning recovered tag progress out to the
// tag writer before replying.
func (j *Journal) runHighest(req *highestRequest, wip <-chan struct{}) {
	ctx, span := j.rec.StartSpan(
		req.ctx,
		"journal.highest_sequence_nr",
		attribute.String("persistence_id", req.pid),
		attribute.Int64("from_sequence_nr", req.from),
	)
	defer span.End()

	// A probe must observe any write accepted before it.
	if err := awaitFuture(ctx, wip); err != nil {
		span.Error(ctx, err)
		req.deny(err)
		return
	}

	highest, err := j.readHighestSequenceNr(ctx, req.pid, req.from)
	if err != nil {
		span.Error(ctx, err)
		req.deny(err)
		return
	}

	if highest == req.from && j.cfg.EventsByTagEnabled && j.TagWriter != nil {
		if err := j.recoverTagProgress(ctx, req.pid, highest); err != nil {
			span.Error(ctx, err)
			req.deny(err)
			return
		}
	}

	req.result <- highestResult{highest: highest}
}

// readHighestSequenceNr walks the persistence ID's partitions upward from the
// partition holding from, returning the highest stored sequence number seen,
// or from if none is stored.
//
// A single empty partition does not terminate the walk: a fully deleted
// partition reads as empty even though later partitions hold rows, and an
// atomic write whose first row lands exactly one past a partition boundary
// leaves the prior partition empty. Two consecutive empty partitions do.
func (j *Journal) readHighestSequenceNr(
	ctx context.Context,
	pid string,
	from int64,
) (int64, error) {
	start := from
	if start < 1 {
		start = 1
	}

	var (
		partition = PartitionOf(start, j.cfg.TargetPartitionSize)
		highest   = from
		empty     = false
	)

	for {
		it := j.stmts.SelectHighestSequenceNr.
			Bind(pid, partition).
			Iter(ctx, j.cfg.ReadProfile)

		var seq int64
		found := it.Scan(&seq)

		if err := it.Close(); err != nil {
			return 0, err
		}

		if !found || seq == 0 {
			if empty {
				return highest, nil
			}
			empty = true
		} else {
			highest = seq
			empty = false
		}

		partition++
	}
}

// readLowestSequenceNr returns the sequence number of the first live event at
// or above from, honoring the deleted-to marker, or from itself if no such
// event is stored.
func (j *Journal) readLowestSequenceNr(
	ctx context.Context,
	pid string,
	from, deletedTo int64,
) (int64, bool, error) {
	start := from
	if start <= deletedTo {
		start = deletedTo + 1
	}
	if start < 1 {
		start = 1
	}

	var (
		partition = PartitionOf(start, j.cfg.TargetPartitionSize)
		empty     = false
	)

	for {
		it := j.stmts.SelectLowestSequenceNr.
			Bind(pid, partition, start).
			Iter(ctx, j.cfg.ReadProfile)

		var seq int64
		found := it.Scan(&seq)

		if err := it.Close(); err != nil {
			return 0, false, err
		}

		if found && seq > 0 {
			return seq, true, nil
		}

		if empty {
			return from, false, nil
		}

		empty = true
		partition++
	}
}
