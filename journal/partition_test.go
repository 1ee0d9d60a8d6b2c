package journal_test

import (
	"testing"

	. "github.com/dogmatiq/cassandrakit/journal"
	"pgregory.net/rapid"
)

func TestPartitionMapping(t *testing.T) {
	t.Parallel()

	t.Run("it maps the boundary sequence numbers of a 5-event partition", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			seq  int64
			want int64
		}{
			{1, 0},
			{5, 0},
			{6, 1},
			{10, 1},
			{11, 2},
		}

		for _, c := range cases {
			if got := PartitionOf(c.seq, 5); got != c.want {
				t.Fatalf("PartitionOf(%d, 5) = %d, want %d", c.seq, got, c.want)
			}
		}
	})

	t.Run("every sequence number falls within its partition's bounds", func(t *testing.T) {
		t.Parallel()

		rapid.Check(t, func(t *rapid.T) {
			size := rapid.
				Int64Range(1, 1<<20).
				Draw(t, "size")
			seq := rapid.
				Int64Range(1, 1<<40).
				Draw(t, "seq")

			p := PartitionOf(seq, size)

			if MinSeqOf(p, size) > seq {
				t.Fatalf(
					"sequence %d is below the lower bound %d of its partition %d",
					seq,
					MinSeqOf(p, size),
					p,
				)
			}

			if seq >= MinSeqOf(p+1, size) {
				t.Fatalf(
					"sequence %d reaches into partition %d, which begins at %d",
					seq,
					p+1,
					MinSeqOf(p+1, size),
				)
			}
		})
	})

	t.Run("partitions begin immediately after their predecessor ends", func(t *testing.T) {
		t.Parallel()

		rapid.Check(t, func(t *rapid.T) {
			size := rapid.
				Int64Range(1, 1<<20).
				Draw(t, "size")
			p := rapid.
				Int64Range(0, 1<<20).
				Draw(t, "partition")

			if PartitionOf(MinSeqOf(p, size), size) != p {
				t.Fatalf(
					"the first sequence of partition %d does not map back to it",
					p,
				)
			}

			if PartitionOf(MinSeqOf(p+1, size)-1, size) != p {
				t.Fatalf(
					"the last sequence of partition %d does not map back to it",
					p,
				)
			}
		})
	})
}
