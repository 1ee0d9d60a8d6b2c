package journal_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dogmatiq/cassandrakit/envelope"
	"github.com/dogmatiq/cassandrakit/internal/test"
	. "github.com/dogmatiq/cassandrakit/journal"
	"github.com/dogmatiq/cassandrakit/journal/journaltest"
	"github.com/dogmatiq/cassandrakit/tagview"
)

// exampleEvent is the event type used throughout the journal's tests.
type exampleEvent struct {
	Value string
}

// exampleMeta is the metadata type used throughout the journal's tests.
type exampleMeta struct {
	Origin string
}

// newCodecs returns a registry that can encode the test event types.
func newCodecs() *envelope.Registry {
	json := envelope.NewJSONCodec()
	json.RegisterAs("example-event", exampleEvent{})
	json.RegisterAs("example-meta", exampleMeta{})

	return envelope.NewRegistry(
		envelope.ProtoCodec{},
		json,
	)
}

// tagWriterStub records the messages submitted to the tag writer.
type tagWriterStub struct {
	m        sync.Mutex
	messages []tagview.Message
}

func (w *tagWriterStub) Write(m tagview.Message) {
	w.m.Lock()
	defer w.m.Unlock()
	w.messages = append(w.messages, m)
}

// Reset forgets the recorded messages.
func (w *tagWriterStub) Reset() {
	w.m.Lock()
	defer w.m.Unlock()
	w.messages = nil
}

// Messages returns the submitted messages, in submission order.
func (w *tagWriterStub) Messages() []tagview.Message {
	w.m.Lock()
	defer w.m.Unlock()
	return append([]tagview.Message(nil), w.messages...)
}

// SequenceNrsByTag flattens the recorded bulk writes into the per-tag
// sequence-number order the tag writer observed.
func (w *tagWriterStub) SequenceNrsByTag() map[string][]int64 {
	byTag := map[string][]int64{}

	for _, m := range w.Messages() {
		bw, ok := m.(tagview.BulkWrite)
		if !ok {
			continue
		}

		for _, tw := range bw.TagWrites {
			for _, env := range tw.Envelopes {
				byTag[tw.Tag] = append(byTag[tw.Tag], env.SequenceNr)
			}
		}
	}

	return byTag
}

// fixture wires a journal to an in-memory session for testing.
type fixture struct {
	Session   *journaltest.Session
	Journal   *Journal
	TagWriter *tagWriterStub
	Task      *test.Task
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		Session:   journaltest.NewSession(cfg, journaltest.ModernSchema()),
		TagWriter: &tagWriterStub{},
	}

	f.Journal = &Journal{
		Session:   f.Session,
		Config:    cfg,
		Codecs:    newCodecs(),
		TagWriter: f.TagWriter,
	}

	f.Task = test.RunInBackground(t, f.Journal.Run)

	return f
}

// stop stops the journal's Run() loop and waits for it to return.
func stop(t *testing.T, f *fixture) {
	t.Helper()

	if err := f.Task.Stop(); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("journal stopped with an unexpected error: %s", err)
	}
}

// scenarioConfig is the configuration used by the concrete test scenarios.
func scenarioConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetPartitionSize = 5
	cfg.MaxMessageBatchSize = 10
	cfg.EventsByTagEnabled = true
	return cfg
}

// atomicWrite builds an atomic write of events [from, to] for pid, each event
// carrying the given tags.
func atomicWrite(pid string, from, to int64, tags ...string) AtomicWrite {
	var w AtomicWrite

	for seq := from; seq <= to; seq++ {
		w.Messages = append(w.Messages, Message{
			PersistenceID: pid,
			SequenceNr:    seq,
			WriterUUID:    "writer-1",
			Payload:       exampleEvent{Value: fmt.Sprintf("event-%d", seq)},
			Tags:          tags,
		})
	}

	return w
}

// writeOK writes the given batches and fails the test on any call-level or
// per-batch error.
func writeOK(t *testing.T, f *fixture, batches ...AtomicWrite) {
	t.Helper()

	ctx := test.Context(t)

	results, err := f.Journal.WriteAtomicBatches(ctx, batches)
	if err != nil {
		t.Fatalf("unexpected call-level write failure: %s", err)
	}

	for i, res := range results {
		if res != nil {
			t.Fatalf("unexpected failure for batch %d: %s", i, res)
		}
	}
}

// replay replays [from, to] for pid and returns the delivered events.
func replay(t *testing.T, f *fixture, pid string, from, to int64) []Event {
	t.Helper()

	ctx := test.Context(t)

	var events []Event
	if err := f.Journal.ReplayMessages(
		ctx,
		pid,
		from, to, int64(1<<62),
		func(ev Event) error {
			events = append(events, ev)
			return nil
		},
	); err != nil {
		t.Fatalf("unexpected replay failure: %s", err)
	}

	return events
}

// sequenceNrs extracts the sequence numbers of the given events.
func sequenceNrs(events []Event) []int64 {
	var seqs []int64
	for _, ev := range events {
		seqs = append(seqs, ev.SequenceNr)
	}
	return seqs
}
