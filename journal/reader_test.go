package journal_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dogmatiq/cassandrakit/envelope"
	"github.com/dogmatiq/cassandrakit/internal/test"
	. "github.com/dogmatiq/cassandrakit/journal"
	"github.com/dogmatiq/cassandrakit/journal/journaltest"
	"github.com/gocql/gocql"
)

func TestReplayMessages(t *testing.T) {
	t.Parallel()

	t.Run("it delivers only the requested window", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())

		writeOK(t, f, atomicWrite("A", 1, 7))

		test.Expect(
			t,
			sequenceNrs(replay(t, f, "A", 2, 4)),
			[]int64{2, 3, 4},
		)
	})

	t.Run("it honors the event cap", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())
		ctx := test.Context(t)

		writeOK(t, f, atomicWrite("A", 1, 7))

		var events []Event
		if err := f.Journal.ReplayMessages(
			ctx,
			"A",
			1, int64(1<<62), 2,
			func(ev Event) error {
				events = append(events, ev)
				return nil
			},
		); err != nil {
			t.Fatal(err)
		}

		test.Expect(t, sequenceNrs(events), []int64{1, 2})
	})

	t.Run("it stops when the callback fails", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())
		ctx := test.Context(t)

		writeOK(t, f, atomicWrite("A", 1, 3))

		enough := errors.New("enough")
		seen := 0

		err := f.Journal.ReplayMessages(
			ctx,
			"A",
			1, int64(1<<62), int64(1<<62),
			func(Event) error {
				seen++
				return enough
			},
		)
		if !errors.Is(err, enough) {
			t.Fatalf("expected the callback error, got %v", err)
		}
		test.Expect(t, seen, 1)
	})

	t.Run("it round-trips event metadata", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())

		w := atomicWrite("A", 1, 1)
		w.Messages[0].Meta = exampleMeta{Origin: "cluster-1"}
		writeOK(t, f, w)

		events := replay(t, f, "A", 1, 1)
		test.Expect(t, len(events), 1)
		test.Expect(t, events[0].Meta.(*exampleMeta), &exampleMeta{Origin: "cluster-1"})
	})

	t.Run("it degrades unencodable metadata to an opaque value", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())

		type unregistered struct{}

		w := atomicWrite("A", 1, 1)
		w.Messages[0].Meta = unregistered{}
		writeOK(t, f, w)

		events := replay(t, f, "A", 1, 1)
		test.Expect(t, len(events), 1)
		test.Expect(
			t,
			events[0].Meta.(envelope.UnknownMeta).Manifest,
			envelope.UnknownMetaManifest,
		)
	})

	t.Run("it fails when an event payload cannot be decoded", func(t *testing.T) {
		t.Parallel()

		f := setup(t, scenarioConfig())
		ctx := test.Context(t)

		f.Session.SeedRow(envelope.Envelope{
			PersistenceID: "A",
			PartitionNr:   0,
			SequenceNr:    1,
			TimeUUID:      gocql.TimeUUID(),
			TimeBucket:    "20260805",
			WriterUUID:    "writer-1",
			SerID:         99,
			SerManifest:   "no-such-codec",
			Event:         []byte("opaque"),
		})

		err := f.Journal.ReplayMessages(
			ctx,
			"A",
			1, int64(1<<62), int64(1<<62),
			func(Event) error { return nil },
		)
		if err == nil {
			t.Fatal("expected a decode failure")
		}
	})

	t.Run("it reads rows written under the legacy tag columns", func(t *testing.T) {
		t.Parallel()

		cfg := scenarioConfig()
		ctx := test.Context(t)

		session := journaltest.NewSession(cfg, journaltest.Schema{
			HasLegacyTags: true,
		})

		codecs := newCodecs()
		enc, err := codecs.EncodeEvent(context.Background(), exampleEvent{Value: "legacy"})
		if err != nil {
			t.Fatal(err)
		}

		session.SeedRow(envelope.Envelope{
			PersistenceID: "A",
			PartitionNr:   0,
			SequenceNr:    1,
			TimeUUID:      gocql.TimeUUID(),
			TimeBucket:    "20260805",
			WriterUUID:    "writer-1",
			SerID:         enc.SerID,
			SerManifest:   enc.Manifest,
			Event:         enc.Payload,
			Tags:          []string{"red", "blue"},
		})

		j := &Journal{
			Session: session,
			Config:  cfg,
			Codecs:  codecs,
		}
		test.RunInBackground(t, j.Run)

		var events []Event
		if err := j.ReplayMessages(
			ctx,
			"A",
			1, int64(1<<62), int64(1<<62),
			func(ev Event) error {
				events = append(events, ev)
				return nil
			},
		); err != nil {
			t.Fatal(err)
		}

		test.Expect(t, len(events), 1)
		test.Expect(t, events[0].Tags, []string{"red", "blue"})
		test.Expect(t, events[0].Payload.(*exampleEvent), &exampleEvent{Value: "legacy"})
	})
}
