package envelope

import (
	"context"
	"fmt"
	"sync"
)

// Encoded is the result of encoding a single value.
type Encoded struct {
	Payload  []byte
	SerID    int32
	Manifest string
}

// EncodeResult is the result of an asynchronous encode.
type EncodeResult struct {
	Payload  []byte
	Manifest string
	Err      error
}

// A Codec encodes and decodes event payloads of some family of types.
type Codec interface {
	// ID is the codec's stable serializer ID, stored alongside each payload.
	ID() int32

	// CanEncode reports whether the codec can encode v.
	CanEncode(v any) bool

	// Encode encodes v, returning the payload and its manifest.
	Encode(v any) (payload []byte, manifest string, err error)

	// Decode decodes a payload previously produced by Encode.
	Decode(payload []byte, manifest string) (any, error)
}

// An AsyncCodec is a codec whose encoder may complete asynchronously, for
// example because it consults a remote schema registry.
type AsyncCodec interface {
	Codec

	// EncodeAsync begins encoding v. The result is delivered on the returned
	// channel.
	EncodeAsync(ctx context.Context, v any) <-chan EncodeResult
}

// Registry is a set of codecs, selected per event type on encode and per
// serializer ID on decode.
type Registry struct {
	mu     sync.RWMutex
	codecs []Codec
	byID   map[int32]Codec

	// Columns caches the presence of the messages table's optional columns.
	Columns ColumnFlags
}

// NewRegistry returns a registry containing the given codecs, consulted in
// order on encode.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{
		byID: map[int32]Codec{},
	}

	for _, c := range codecs {
		r.Register(c)
	}

	return r
}

// Register adds a codec to the registry.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[c.ID()]; ok {
		panic(fmt.Sprintf("codec with serializer ID %d is already registered", c.ID()))
	}

	r.codecs = append(r.codecs, c)
	r.byID[c.ID()] = c
}

func (r *Registry) codecFor(v any) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.codecs {
		if c.CanEncode(v) {
			return c, true
		}
	}

	return nil, false
}

func (r *Registry) codecByID(id int32) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	return c, ok
}

// EncodeEvent encodes an event payload.
//
// Synchronous and asynchronous codecs are normalized behind this call; an
// asynchronous encode is awaited here, in the calling goroutine.
func (r *Registry) EncodeEvent(ctx context.Context, v any) (Encoded, error) {
	c, ok := r.codecFor(v)
	if !ok {
		return Encoded{}, fmt.Errorf("no codec can encode events of type %T", v)
	}

	if ac, ok := c.(AsyncCodec); ok {
		select {
		case <-ctx.Done():
			return Encoded{}, ctx.Err()
		case res := <-ac.EncodeAsync(ctx, v):
			if res.Err != nil {
				return Encoded{}, res.Err
			}
			return Encoded{res.Payload, c.ID(), res.Manifest}, nil
		}
	}

	payload, manifest, err := c.Encode(v)
	if err != nil {
		return Encoded{}, err
	}

	return Encoded{payload, c.ID(), manifest}, nil
}

// EncodeMeta encodes an event's metadata.
//
// Metadata that cannot be encoded is recorded as an empty payload under
// [UnknownMetaManifest] rather than failing the event; forward compatibility
// is more valuable than strict recovery of unknown metadata types.
func (r *Registry) EncodeMeta(ctx context.Context, v any) Encoded {
	enc, err := r.EncodeEvent(ctx, v)
	if err != nil {
		return Encoded{Manifest: UnknownMetaManifest}
	}

	return enc
}

// DecodeEvent decodes an envelope's event payload.
func (r *Registry) DecodeEvent(env Envelope) (any, error) {
	c, ok := r.codecByID(env.SerID)
	if !ok {
		return nil, fmt.Errorf(
			"no codec is registered for serializer ID %d (manifest %q)",
			env.SerID,
			env.SerManifest,
		)
	}

	return c.Decode(env.Event, env.SerManifest)
}

// DecodeMeta decodes an envelope's metadata, if any.
//
// Metadata that cannot be decoded is returned as an [UnknownMeta] value; it
// never fails the event.
func (r *Registry) DecodeMeta(env Envelope) any {
	if !env.HasMeta {
		return nil
	}

	if env.MetaSerManifest != UnknownMetaManifest {
		if c, ok := r.codecByID(env.MetaSerID); ok {
			if v, err := c.Decode(env.Meta, env.MetaSerManifest); err == nil {
				return v
			}
		}
	}

	return UnknownMeta{
		Payload:  env.Meta,
		SerID:    env.MetaSerID,
		Manifest: env.MetaSerManifest,
	}
}
