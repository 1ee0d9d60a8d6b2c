package journal_test

import (
	"testing"

	"github.com/dogmatiq/cassandrakit/internal/test"
	"github.com/dogmatiq/cassandrakit/journal/journaltest"
	"github.com/dogmatiq/cassandrakit/tagview"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func TestTagFanOut(t *testing.T) {
	t.Parallel()

	t.Run("it hands per-tag writes to the tag writer in event order", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())

		writeOK(t, f, atomicWrite("A", 1, 5, "red"))
		writeOK(t, f, atomicWrite("A", 6, 7, "red", "blue"))

		byTag := f.TagWriter.SequenceNrsByTag()

		tags := maps.Keys(byTag)
		slices.Sort(tags)
		test.Expect(t, tags, []string{"blue", "red"})

		test.Expect(t, byTag["red"], []int64{1, 2, 3, 4, 5, 6, 7})
		test.Expect(t, byTag["blue"], []int64{6, 7})
	})

	t.Run("it collects untagged events separately", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())

		writeOK(t, f, atomicWrite("A", 1, 2))

		messages := f.TagWriter.Messages()
		test.Expect(t, len(messages), 1)

		bw := messages[0].(tagview.BulkWrite)
		test.Expect(t, len(bw.TagWrites), 0)
		test.Expect(t, len(bw.Untagged), 2)
	})

	t.Run("it stays silent when events-by-tag is disabled", func(t *testing.T) {
		t.Parallel()

		cfg := scenarioConfig()
		cfg.EventsByTagEnabled = false
		f := setup(t, cfg)

		writeOK(t, f, atomicWrite("A", 1, 3, "red"))

		test.Expect(t, len(f.TagWriter.Messages()), 0)
	})
}

func TestTagRecovery(t *testing.T) {
	t.Parallel()

	t.Run("it republishes tag state when recovery will replay nothing", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())
		ctx := test.Context(t)

		writeOK(t, f, atomicWrite("A", 1, 3, "red"))

		// Forget the fan-out that accompanied the write.
		f.TagWriter.Reset()

		// The caller already knows about sequence 3, so recovery replays
		// nothing and the journal must republish tag state itself.
		highest, err := f.Journal.HighestSequenceNr(ctx, "A", 3)
		if err != nil {
			t.Fatal(err)
		}
		test.Expect(t, highest, int64(3))

		messages := f.TagWriter.Messages()
		test.Expect(t, len(messages), 2)

		test.Expect(
			t,
			messages[0].(tagview.ProgressSnapshot),
			tagview.ProgressSnapshot{PersistenceID: "A"},
		)

		bw := messages[1].(tagview.BulkWrite)
		test.Expect(t, len(bw.TagWrites), 1)
		test.Expect(t, bw.TagWrites[0].Tag, "red")
		test.Expect(t, len(bw.TagWrites[0].Envelopes), 3)
	})

	t.Run("it scans only above the slowest tag's recorded progress", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())
		ctx := test.Context(t)

		writeOK(t, f, atomicWrite("A", 1, 3, "red"))
		f.TagWriter.Reset()

		f.Session.SeedTagProgress("A", journaltest.TagProgressRow{
			Tag:              "red",
			SequenceNr:       2,
			TagPidSequenceNr: 2,
		})

		if _, err := f.Journal.HighestSequenceNr(ctx, "A", 3); err != nil {
			t.Fatal(err)
		}

		messages := f.TagWriter.Messages()
		test.Expect(t, len(messages), 2)

		snapshot := messages[0].(tagview.ProgressSnapshot)
		test.Expect(t, snapshot.Progress, []tagview.TagProgress{
			{Tag: "red", SequenceNr: 2, TagPidSequenceNr: 2},
		})

		bw := messages[1].(tagview.BulkWrite)
		test.Expect(t, len(bw.TagWrites), 1)
		test.Expect(t, len(bw.TagWrites[0].Envelopes), 1)
		test.Expect(t, bw.TagWrites[0].Envelopes[0].SequenceNr, int64(3))
	})

	t.Run("it does not fire when recovery will replay events", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())
		ctx := test.Context(t)

		writeOK(t, f, atomicWrite("A", 1, 3, "red"))
		f.TagWriter.Reset()

		// Recovery from 0 replays events 1..3, which drives tag progress
		// through the normal path.
		if _, err := f.Journal.HighestSequenceNr(ctx, "A", 0); err != nil {
			t.Fatal(err)
		}

		test.Expect(t, len(f.TagWriter.Messages()), 0)
	})
}
