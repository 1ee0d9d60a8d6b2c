package journal_test

import (
	"testing"

	"github.com/dogmatiq/cassandrakit/internal/test"
)

func TestHighestSequenceNr(t *testing.T) {
	t.Parallel()

	t.Run("it returns the starting point when nothing is stored", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())
		ctx := test.Context(t)

		highest, err := f.Journal.HighestSequenceNr(ctx, "A", 42)
		if err != nil {
			t.Fatal(err)
		}
		test.Expect(t, highest, int64(42))
	})

	t.Run("it finds events in a partition whose first sequence numbers are missing", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())
		ctx := test.Context(t)

		// With 5-event partitions, sequence 1 lands in partition 0 and
		// sequence 10 in partition 1, leaving the tail of partition 0 and the
		// head of partition 1 sparse.
		writeOK(t, f, atomicWrite("A", 1, 1))
		writeOK(t, f, atomicWrite("A", 10, 10))

		highest, err := f.Journal.HighestSequenceNr(ctx, "A", 1)
		if err != nil {
			t.Fatal(err)
		}
		test.Expect(t, highest, int64(10))
	})

	t.Run("it tolerates a fully deleted partition", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())
		ctx := test.Context(t)

		writeOK(t, f, atomicWrite("A", 1, 5))
		writeOK(t, f, atomicWrite("A", 6, 7))

		if err := f.Journal.DeleteTo(ctx, "A", 5); err != nil {
			t.Fatal(err)
		}

		// Partition 0 now reads as empty even though partition 1 holds rows.
		highest, err := f.Journal.HighestSequenceNr(ctx, "A", 1)
		if err != nil {
			t.Fatal(err)
		}
		test.Expect(t, highest, int64(7))
	})

	t.Run("it stops after two consecutive empty partitions", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())
		ctx := test.Context(t)

		writeOK(t, f, atomicWrite("A", 1, 3))

		highest, err := f.Journal.HighestSequenceNr(ctx, "A", 1)
		if err != nil {
			t.Fatal(err)
		}
		test.Expect(t, highest, int64(3))
	})
}
