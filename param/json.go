package param

import "encoding/json"

// jsonCodec is the teacher's codec.JSONCodec unchanged: encoding/json,
// human-readable, the default for every worked example in spec.md §8.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if b, ok := v.(Bytes); ok {
		return b, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if b, ok := v.(*Bytes); ok {
		*b = data
		return nil
	}
	return json.Unmarshal(data, v)
}

// rawCodec is the identity codec for message.SerializeNone: it requires v
// to already be (or point to) a byte slice, mirroring how the teacher's
// BinaryCodec treats Payload as opaque bytes it never reinterprets.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case Bytes:
		return b, nil
	case []byte:
		return b, nil
	default:
		return nil, &SerializationError{Err: errUnsupportedRawType}
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	switch b := v.(type) {
	case *Bytes:
		*b = data
		return nil
	case *[]byte:
		*b = data
		return nil
	default:
		return &SerializationError{Err: errUnsupportedRawType}
	}
}

var errUnsupportedRawType = rawTypeError{}

type rawTypeError struct{}

func (rawTypeError) Error() string { return "raw codec requires []byte or *[]byte" }
