// Package param provides the serialization layer for rpcx payloads.
//
// It generalizes the teacher's codec.Codec (a single Encode/Decode pair
// picked by a byte tag) into one Codec per message.SerializeKind, so the
// wire's SerializeKind actually reaches a concrete library: JSON via the
// standard library, Protobuf via google.golang.org/protobuf, MsgPack via
// vmihailenco/msgpack, Thrift via apache/thrift, and raw bytes as the
// identity case.
//
// A handler's argument and reply types flow through Codec.Marshal/Unmarshal
// exactly like the teacher's businessHandler flows them through
// json.Unmarshal/json.Marshal — only the kind selection is new.
package param

import (
	"errors"
	"fmt"

	"rpcx/message"
)

// Codec serializes and deserializes a value under one SerializeKind.
// Implementations must report an error (not panic) when v's concrete type
// is unsupported for the kind — that becomes a Serialization error, which
// per the error model never tears down the session.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// SerializationError wraps a failure to encode/decode a value under a given
// kind. It never indicates a session-fatal condition.
type SerializationError struct {
	Kind message.SerializeKind
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("param: %s serialization failed: %v", e.Kind, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// CodecFor returns the Codec implementing kind, or a SerializationError if
// the kind is not one of the four enumerated in message.SerializeKind (or
// the raw/none case).
func CodecFor(kind message.SerializeKind) (Codec, error) {
	switch kind {
	case message.SerializeNone:
		return rawCodec{}, nil
	case message.SerializeJSON:
		return jsonCodec{}, nil
	case message.SerializeProtobuf:
		return protobufCodec{}, nil
	case message.SerializeMsgPack:
		return msgpackCodec{}, nil
	case message.SerializeThrift:
		return thriftCodec{}, nil
	default:
		return nil, &SerializationError{Kind: kind, Err: errors.New("unknown serialize kind")}
	}
}

// Bytes is the identity Param: it satisfies every SerializeKind by passing
// the buffer through unchanged, which is how heartbeat and raw-passthrough
// calls avoid paying for a codec they don't need.
type Bytes []byte
