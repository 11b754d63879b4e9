package param

import "github.com/vmihailenco/msgpack/v5"

// msgpackCodec backs message.SerializeMsgPack with vmihailenco/msgpack,
// grounded on the same goridge RPC codec file that wires
// google.golang.org/protobuf/proto for the Protobuf kind — that file uses
// the same msgpack family for its own codec dispatch.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	if b, ok := v.(Bytes); ok {
		return b, nil
	}
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	if b, ok := v.(*Bytes); ok {
		*b = data
		return nil
	}
	return msgpack.Unmarshal(data, v)
}
