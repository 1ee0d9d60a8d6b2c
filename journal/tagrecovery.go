package journal

import (
	"context"

	"github.com/dogmatiq/cassandrakit/envelope"
	"github.com/dogmatiq/cassandrakit/tagview"
)

// recoverTagProgress republishes a recovering persistence ID's tag-view state
// to the tag writer.
//
// It publishes the tag writer's recorded per-tag progress, then scans for
// stored events that are not yet reflected in the tag view and submits them
// as a bulk write. The scan starts at the persistence ID's recorded scanning
// point (or the configured starting sequence number when none is recorded)
// and never revisits events below the slowest tag's progress.
func (j *Journal) recoverTagProgress(
	ctx context.Context,
	pid string,
	highest int64,
) error {
	progress, err := j.readTagProgress(ctx, pid)
	if err != nil {
		return err
	}

	j.TagWriter.Write(tagview.ProgressSnapshot{
		PersistenceID: pid,
		Progress:      progress,
	})

	scanFrom := j.cfg.TagScanStartSequenceNr
	if seq, ok, err := j.readTagScanning(ctx, pid); err != nil {
		return err
	} else if ok {
		scanFrom = seq
	}

	minProgress := int64(0)
	for i, p := range progress {
		if i == 0 || p.SequenceNr < minProgress {
			minProgress = p.SequenceNr
		}
	}

	if minProgress+1 > scanFrom {
		scanFrom = minProgress + 1
	}

	if scanFrom > highest {
		return nil
	}

	var missing []envelope.Envelope

	if err := j.EventsByPersistenceID(
		ctx,
		pid,
		scanFrom, highest, highest-scanFrom+1,
		func(env envelope.Envelope) error {
			if len(env.Tags) > 0 {
				missing = append(missing, env)
			}
			return nil
		},
	); err != nil {
		return err
	}

	if len(missing) > 0 {
		j.TagWriter.Write(tagview.ExtractBulkWrite(missing))
	}

	return nil
}

// readTagProgress returns the tag writer's recorded progress for each of the
// persistence ID's tags.
func (j *Journal) readTagProgress(
	ctx context.Context,
	pid string,
) ([]tagview.TagProgress, error) {
	it := j.stmts.SelectTagProgress.
		Bind(pid).
		Iter(ctx, j.cfg.ReadProfile)

	var (
		progress []tagview.TagProgress
		p        tagview.TagProgress
	)

	for it.Scan(&p.Tag, &p.SequenceNr, &p.TagPidSequenceNr) {
		progress = append(progress, p)
	}

	if err := it.Close(); err != nil {
		return nil, err
	}

	return progress, nil
}

// readTagScanning returns the recorded scanning point for the persistence ID,
// if any.
func (j *Journal) readTagScanning(
	ctx context.Context,
	pid string,
) (int64, bool, error) {
	it := j.stmts.SelectTagScanning.
		Bind(pid).
		Iter(ctx, j.cfg.ReadProfile)

	var seq int64
	ok := it.Scan(&seq)

	if err := it.Close(); err != nil {
		return 0, false, err
	}

	return seq, ok, nil
}
