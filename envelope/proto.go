package envelope

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// ProtoSerializerID is the serializer ID of the built-in protobuf codec.
const ProtoSerializerID = 2

// ProtoCodec encodes any proto.Message using its fully-qualified message name
// as the manifest.
type ProtoCodec struct{}

// ID returns the codec's serializer ID.
func (ProtoCodec) ID() int32 {
	return ProtoSerializerID
}

// CanEncode reports whether v is a protobuf message.
func (ProtoCodec) CanEncode(v any) bool {
	_, ok := v.(proto.Message)
	return ok
}

// Encode encodes v in the protobuf wire format.
func (ProtoCodec) Encode(v any) ([]byte, string, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, "", fmt.Errorf("type %T is not a protobuf message", v)
	}

	payload, err := proto.Marshal(m)
	if err != nil {
		return nil, "", err
	}

	return payload, string(m.ProtoReflect().Descriptor().FullName()), nil
}

// Decode decodes a payload into a new message of the manifest's type, which
// must be linked into the binary.
func (ProtoCodec) Decode(payload []byte, manifest string) (any, error) {
	mt, err := protoregistry.GlobalTypes.FindMessageByName(
		protoreflect.FullName(manifest),
	)
	if err != nil {
		return nil, fmt.Errorf("unknown protobuf message %q: %w", manifest, err)
	}

	m := mt.New().Interface()
	if err := proto.Unmarshal(payload, m); err != nil {
		return nil, err
	}

	return m, nil
}
