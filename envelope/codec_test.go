package envelope_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/dogmatiq/cassandrakit/envelope"
	"github.com/dogmatiq/cassandrakit/internal/test"
	"google.golang.org/protobuf/types/known/durationpb"
)

type widgetInstalled struct {
	Widget string
}

func newTestRegistry() *Registry {
	json := NewJSONCodec()
	json.RegisterAs("widget-installed", widgetInstalled{})

	return NewRegistry(
		ProtoCodec{},
		json,
	)
}

func TestRegistryEncodeEvent(t *testing.T) {
	t.Parallel()

	t.Run("it round-trips a JSON event", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		ctx := test.Context(t)

		enc, err := r.EncodeEvent(ctx, widgetInstalled{Widget: "sprocket"})
		if err != nil {
			t.Fatal(err)
		}
		test.Expect(t, enc.SerID, int32(JSONSerializerID))
		test.Expect(t, enc.Manifest, "widget-installed")

		v, err := r.DecodeEvent(Envelope{
			SerID:       enc.SerID,
			SerManifest: enc.Manifest,
			Event:       enc.Payload,
		})
		if err != nil {
			t.Fatal(err)
		}
		test.Expect(t, v.(*widgetInstalled), &widgetInstalled{Widget: "sprocket"})
	})

	t.Run("it round-trips a protobuf event", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		ctx := test.Context(t)

		enc, err := r.EncodeEvent(ctx, durationpb.New(3*time.Second))
		if err != nil {
			t.Fatal(err)
		}
		test.Expect(t, enc.SerID, int32(ProtoSerializerID))
		test.Expect(t, enc.Manifest, "google.protobuf.Duration")

		v, err := r.DecodeEvent(Envelope{
			SerID:       enc.SerID,
			SerManifest: enc.Manifest,
			Event:       enc.Payload,
		})
		if err != nil {
			t.Fatal(err)
		}
		test.Expect(t, v.(*durationpb.Duration), durationpb.New(3*time.Second))
	})

	t.Run("it fails for an unregistered type", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		ctx := test.Context(t)

		type unregistered struct{}

		if _, err := r.EncodeEvent(ctx, unregistered{}); err == nil {
			t.Fatal("expected an encoding failure")
		}
	})

	t.Run("it awaits asynchronous codecs", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry(&asyncCodecStub{})
		ctx := test.Context(t)

		enc, err := r.EncodeEvent(ctx, widgetInstalled{Widget: "async"})
		if err != nil {
			t.Fatal(err)
		}
		test.Expect(t, string(enc.Payload), "async-payload")
		test.Expect(t, enc.Manifest, "async-manifest")
	})
}

func TestRegistryMeta(t *testing.T) {
	t.Parallel()

	t.Run("it degrades an unencodable value to the sentinel", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()
		ctx := test.Context(t)

		type unregistered struct{}

		enc := r.EncodeMeta(ctx, unregistered{})
		test.Expect(t, enc.Manifest, UnknownMetaManifest)
	})

	t.Run("it degrades an undecodable value to an opaque blob", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()

		meta := r.DecodeMeta(Envelope{
			HasMeta:         true,
			Meta:            []byte("opaque"),
			MetaSerID:       99,
			MetaSerManifest: "no-such-codec",
		})

		test.Expect(t, meta.(UnknownMeta), UnknownMeta{
			Payload:  []byte("opaque"),
			SerID:    99,
			Manifest: "no-such-codec",
		})
	})

	t.Run("it returns nil when the envelope has no metadata", func(t *testing.T) {
		t.Parallel()

		r := newTestRegistry()

		if meta := r.DecodeMeta(Envelope{}); meta != nil {
			t.Fatalf("expected nil metadata, got %v", meta)
		}
	})
}

// asyncCodecStub is an AsyncCodec that resolves on a separate goroutine.
type asyncCodecStub struct{}

func (*asyncCodecStub) ID() int32 {
	return 1000
}

func (*asyncCodecStub) CanEncode(any) bool {
	return true
}

func (*asyncCodecStub) Encode(any) ([]byte, string, error) {
	return nil, "", errors.New("use EncodeAsync")
}

func (*asyncCodecStub) Decode([]byte, string) (any, error) {
	return nil, errors.New("not decodable")
}

func (*asyncCodecStub) EncodeAsync(ctx context.Context, v any) <-chan EncodeResult {
	results := make(chan EncodeResult, 1)

	go func() {
		results <- EncodeResult{
			Payload:  []byte("async-payload"),
			Manifest: "async-manifest",
		}
	}()

	return results
}
