package param

import (
	"google.golang.org/protobuf/proto"

	"rpcx/message"
)

// protobufCodec backs message.SerializeProtobuf with
// google.golang.org/protobuf/proto, the same library
// _examples/other_examples/51ca0343_l3dlp-sandbox-goridge__pkg-rpc-codec.go.go
// wires into its own RPC codec dispatch next to msgpack. Bytes passes
// through unchanged; otherwise v must implement proto.Message, and anything
// else is a Serialization error, not a panic.
type protobufCodec struct{}

func (protobufCodec) Marshal(v any) ([]byte, error) {
	if b, ok := v.(Bytes); ok {
		return b, nil
	}
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, &SerializationError{Kind: message.SerializeProtobuf, Err: errNotProtoMessage}
	}
	return proto.Marshal(msg)
}

func (protobufCodec) Unmarshal(data []byte, v any) error {
	if b, ok := v.(*Bytes); ok {
		*b = data
		return nil
	}
	msg, ok := v.(proto.Message)
	if !ok {
		return &SerializationError{Kind: message.SerializeProtobuf, Err: errNotProtoMessage}
	}
	return proto.Unmarshal(data, msg)
}

type protoTypeError struct{}

func (protoTypeError) Error() string { return "protobuf codec requires a proto.Message" }

var errNotProtoMessage = protoTypeError{}
