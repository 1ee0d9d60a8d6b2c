package journal

import (
	"context"

	"github.com/dogmatiq/cassandrakit/envelope"
)

// EventsByPersistenceID scans the stored rows of one persistence ID in
// ascending sequence order, invoking extract for each row with a sequence
// number in [from, to], up to max rows.
//
// Rows at or below the deleted-to marker are never delivered, even when their
// physical rows still exist. Each committed row in range is delivered exactly
// once.
func (j *Journal) EventsByPersistenceID(
	ctx context.Context,
	pid string,
	from, to, max int64,
	extract func(envelope.Envelope) error,
) error {
	if err := j.awaitReady(ctx); err != nil {
		return err
	}

	if from < 1 {
		from = 1
	}
	if max <= 0 || to < from {
		return nil
	}

	deletedTo, err := j.readDeletedTo(ctx, pid)
	if err != nil {
		return err
	}

	start, ok, err := j.readLowestSequenceNr(ctx, pid, from, deletedTo)
	if err != nil {
		return err
	}
	if !ok || start > to {
		return nil
	}

	var (
		partition = PartitionOf(start, j.cfg.TargetPartitionSize)
		count     = int64(0)
		empty     = false
	)

	for {
		it := j.stmts.SelectMessages.
			Bind(pid, partition, start, to).
			Iter(ctx, j.cfg.ReadProfile)

		found := false

		for {
			row := map[string]any{}
			if !it.MapScan(row) {
				break
			}
			found = true

			env, err := envelope.FromRow(row, &j.codecs.Columns)
			if err != nil {
				it.Close()
				return err
			}

			if env.SequenceNr <= deletedTo {
				continue
			}

			if err := extract(env); err != nil {
				it.Close()
				return err
			}

			count++
			if count >= max {
				return it.Close()
			}
		}

		if err := it.Close(); err != nil {
			return err
		}

		// An atomic write may leave a partition empty without ending the
		// stream; only two consecutive empty partitions do.
		if !found {
			if empty {
				return nil
			}
			empty = true
		} else {
			empty = false
		}

		partition++
		if MinSeqOf(partition, j.cfg.TargetPartitionSize) > to {
			return nil
		}
	}
}

// ReplayMessages replays the stored events of one persistence ID in ascending
// sequence order, decoded, invoking fn for each event with a sequence number
// in [from, to], up to max events.
//
// A payload that cannot be decoded fails the replay. Metadata that cannot be
// decoded is delivered as an envelope.UnknownMeta value instead.
func (j *Journal) ReplayMessages(
	ctx context.Context,
	pid string,
	from, to, max int64,
	fn func(Event) error,
) error {
	return j.EventsByPersistenceID(
		ctx,
		pid,
		from, to, max,
		func(env envelope.Envelope) error {
			payload, err := j.codecs.DecodeEvent(env)
			if err != nil {
				return err
			}

			return fn(Event{
				PersistenceID: env.PersistenceID,
				SequenceNr:    env.SequenceNr,
				TimeUUID:      env.TimeUUID,
				WriterUUID:    env.WriterUUID,
				Payload:       payload,
				Meta:          j.codecs.DecodeMeta(env),
				Tags:          env.Tags,
			})
		},
	)
}
