package param

import (
	"context"

	"github.com/apache/thrift/lib/go/thrift"

	"rpcx/message"
)

// thriftCodec backs message.SerializeThrift with the reference Apache Thrift
// Go runtime, using the compact protocol (the same choice rpcx's thrift
// codec makes — compact is the default wire form for generated Thrift
// structs). Bytes passes through unchanged; otherwise v must be a
// thrift.TStruct, the interface every thrift-compiler-generated type
// implements, and anything else is a Serialization error.
type thriftCodec struct{}

func (thriftCodec) Marshal(v any) ([]byte, error) {
	if b, ok := v.(Bytes); ok {
		return b, nil
	}
	ts, ok := v.(thrift.TStruct)
	if !ok {
		return nil, &SerializationError{Kind: message.SerializeThrift, Err: errNotThriftStruct}
	}
	serializer := thrift.NewTSerializer()
	serializer.Protocol = thrift.NewTCompactProtocolFactory().GetProtocol(serializer.Transport)
	return serializer.Write(context.Background(), ts)
}

func (thriftCodec) Unmarshal(data []byte, v any) error {
	if b, ok := v.(*Bytes); ok {
		*b = data
		return nil
	}
	ts, ok := v.(thrift.TStruct)
	if !ok {
		return &SerializationError{Kind: message.SerializeThrift, Err: errNotThriftStruct}
	}
	deserializer := thrift.NewTDeserializer()
	deserializer.Protocol = thrift.NewTCompactProtocolFactory().GetProtocol(deserializer.Transport)
	return deserializer.Read(context.Background(), ts, data)
}

type thriftTypeError struct{}

func (thriftTypeError) Error() string { return "thrift codec requires a thrift.TStruct" }

var errNotThriftStruct = thriftTypeError{}
