package tagview_test

import (
	"testing"

	"github.com/dogmatiq/cassandrakit/envelope"
	"github.com/dogmatiq/cassandrakit/internal/test"
	. "github.com/dogmatiq/cassandrakit/tagview"
)

func env(seq int64, tags ...string) envelope.Envelope {
	return envelope.Envelope{
		PersistenceID: "A",
		SequenceNr:    seq,
		Tags:          tags,
	}
}

func TestExtractBulkWrite(t *testing.T) {
	t.Parallel()

	t.Run("it groups events by tag preserving event order", func(t *testing.T) {
		t.Parallel()

		bw := ExtractBulkWrite([]envelope.Envelope{
			env(1, "red"),
			env(2, "red", "blue"),
			env(3),
			env(4, "blue"),
		})

		test.Expect(t, bw, BulkWrite{
			TagWrites: []TagWrite{
				{
					Tag: "red",
					Envelopes: []envelope.Envelope{
						env(1, "red"),
						env(2, "red", "blue"),
					},
				},
				{
					Tag: "blue",
					Envelopes: []envelope.Envelope{
						env(2, "red", "blue"),
						env(4, "blue"),
					},
				},
			},
			Untagged: []envelope.Envelope{
				env(3),
			},
		})
	})

	t.Run("it handles a single tagged event without intermediate maps", func(t *testing.T) {
		t.Parallel()

		bw := ExtractBulkWrite([]envelope.Envelope{
			env(1, "red", "blue"),
		})

		test.Expect(t, bw, BulkWrite{
			TagWrites: []TagWrite{
				{Tag: "red", Envelopes: []envelope.Envelope{env(1, "red", "blue")}},
				{Tag: "blue", Envelopes: []envelope.Envelope{env(1, "red", "blue")}},
			},
		})
	})

	t.Run("it handles a single untagged event", func(t *testing.T) {
		t.Parallel()

		bw := ExtractBulkWrite([]envelope.Envelope{env(1)})

		test.Expect(t, bw, BulkWrite{
			Untagged: []envelope.Envelope{env(1)},
		})
	})
}
