// Package message implements the rpcx wire format: a 12-byte bit-packed
// header followed by a length-prefixed body.
//
// It replaces the teacher's split between protocol.Header (bit layout) and
// message.RPCMessage (the request/response envelope) with a single type,
// because on the wire the two are the same thing: every header bit is a
// property of the Message it precedes.
//
// Frame format:
//
//	0      1       2       3        4                 12
//	┌──────┬───────┬───────┬────────┬─────────────────┐
//	│magic │version│ flags │ser/rsv │   seq (uint64)   │
//	│ 0x08 │  u8   │  u8   │  u8    │   big-endian     │
//	└──────┴───────┴───────┴────────┴─────────────────┘
//	followed by: bodyLen(4) | sp_len(4) sp | sm_len(4) sm
//	             | meta_len(4) meta | payload_len(4) payload
//
// flags (byte 2): bit7 msg-kind | bit6 heartbeat | bit5 one-way
//
//	| bits4..2 compress | bits1..0 status
//
// byte 3: bits7..4 serialize kind | bits3..0 reserved
package message

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// Magic identifies an rpcx frame. Any other leading byte is rejected outright,
// which lets a server tell a misdirected HTTP client from a real rpcx client.
const Magic byte = 0x08

// SerializeKind identifies the payload encoding, stored in the high nibble
// of the header's fourth byte.
type SerializeKind byte

const (
	SerializeNone     SerializeKind = 0
	SerializeJSON     SerializeKind = 1
	SerializeProtobuf SerializeKind = 2
	SerializeMsgPack  SerializeKind = 3
	SerializeThrift   SerializeKind = 4
)

func (k SerializeKind) String() string {
	switch k {
	case SerializeNone:
		return "none"
	case SerializeJSON:
		return "json"
	case SerializeProtobuf:
		return "protobuf"
	case SerializeMsgPack:
		return "msgpack"
	case SerializeThrift:
		return "thrift"
	default:
		return fmt.Sprintf("serialize(%d)", byte(k))
	}
}

// CompressKind identifies payload compression, stored in bits 4..2 of flags.
type CompressKind byte

const (
	CompressNone CompressKind = 0
	CompressGzip CompressKind = 1
)

// Kind distinguishes a request frame from a response frame (flags bit 7).
type Kind byte

const (
	KindRequest  Kind = 0
	KindResponse Kind = 1
)

// StatusKind marks whether a response succeeded (flags bits 1..0).
type StatusKind byte

const (
	StatusNormal StatusKind = 0
	StatusError  StatusKind = 1
)

// ErrorMetaKey is the reserved metadata key carrying a server-reported error
// message on a response with StatusError.
const ErrorMetaKey = "__rpcx_error__"

const (
	flagBitResponse   = 1 << 7
	flagBitHeartbeat  = 1 << 6
	flagBitOneway     = 1 << 5
	flagShiftCompress = 2
	flagMaskCompress  = 0x7 << flagShiftCompress
	flagMaskStatus    = 0x3
)

// Message is one framed request or response.
type Message struct {
	Version       byte
	Seq           uint64
	Kind          Kind
	Heartbeat     bool
	Oneway        bool
	CompressKind  CompressKind
	StatusKind    StatusKind
	SerializeKind SerializeKind
	ServicePath   string
	ServiceMethod string
	Metadata      map[string]string
	Payload       []byte
}

// NewRequest builds a bare request Message; callers fill in Payload after
// choosing a SerializeKind and (optionally) compressing it.
func NewRequest(seq uint64, servicePath, serviceMethod string) *Message {
	return &Message{
		Seq:           seq,
		Kind:          KindRequest,
		ServicePath:   servicePath,
		ServiceMethod: serviceMethod,
		Metadata:      make(map[string]string),
	}
}

// ReplyOf builds the response shell for a request: same seq, path, method,
// serialize and compress kind, response bit set, heartbeat/one-way cleared,
// empty metadata and payload. Callers fill in Payload/StatusKind/Metadata.
func ReplyOf(req *Message) *Message {
	return &Message{
		Version:       req.Version,
		Seq:           req.Seq,
		Kind:          KindResponse,
		CompressKind:  req.CompressKind,
		SerializeKind: req.SerializeKind,
		ServicePath:   req.ServicePath,
		ServiceMethod: req.ServiceMethod,
		Metadata:      make(map[string]string),
	}
}

func (m *Message) flags() byte {
	var f byte
	if m.Kind == KindResponse {
		f |= flagBitResponse
	}
	if m.Heartbeat {
		f |= flagBitHeartbeat
	}
	if m.Oneway {
		f |= flagBitOneway
	}
	f |= byte(m.CompressKind&0x7) << flagShiftCompress
	f |= byte(m.StatusKind) & flagMaskStatus
	return f
}

func parseFlags(f byte) (kind Kind, heartbeat, oneway bool, compress CompressKind, status StatusKind) {
	if f&flagBitResponse != 0 {
		kind = KindResponse
	} else {
		kind = KindRequest
	}
	heartbeat = f&flagBitHeartbeat != 0
	oneway = f&flagBitOneway != 0
	compress = CompressKind((f & flagMaskCompress) >> flagShiftCompress)
	status = StatusKind(f & flagMaskStatus)
	return
}

// Encode writes the full frame (header + length-prefixed body) to w.
func (m *Message) Encode(w io.Writer) error {
	meta := encodeMetadata(m.Metadata)

	spBytes := []byte(m.ServicePath)
	smBytes := []byte(m.ServiceMethod)

	bodyLen := 4 + len(spBytes) + 4 + len(smBytes) + 4 + len(meta) + 4 + len(m.Payload)

	buf := make([]byte, 12+4+bodyLen)
	buf[0] = Magic
	buf[1] = m.Version
	buf[2] = m.flags()
	buf[3] = byte(m.SerializeKind&0xf) << 4
	binary.BigEndian.PutUint64(buf[4:12], m.Seq)
	binary.BigEndian.PutUint32(buf[12:16], uint32(bodyLen))

	off := 16
	off = putLP(buf, off, spBytes)
	off = putLP(buf, off, smBytes)
	off = putLP(buf, off, meta)
	putLP(buf, off, m.Payload)

	_, err := w.Write(buf)
	return err
}

func putLP(buf []byte, off int, data []byte) int {
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(data)))
	off += 4
	copy(buf[off:off+len(data)], data)
	return off + len(data)
}

// codecError reports a malformed frame; the session must treat it as fatal.
type codecError struct{ msg string }

func (e *codecError) Error() string { return "message: " + e.msg }

// IsCodecError reports whether err came from Decode rejecting a malformed frame.
func IsCodecError(err error) bool {
	_, ok := err.(*codecError)
	return ok
}

// Decode reads one complete frame from r. Any io error from a short read
// (including io.EOF on a clean close) is returned unwrapped so callers can
// tell "peer went away" from "peer sent garbage".
func Decode(r io.Reader) (*Message, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != Magic {
		return nil, &codecError{fmt.Sprintf("bad magic %#x", header[0])}
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf)

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	kind, heartbeat, oneway, compress, status := parseFlags(header[2])
	serializeKind := SerializeKind(header[3] >> 4)

	m := &Message{
		Version:       header[1],
		Seq:           binary.BigEndian.Uint64(header[4:12]),
		Kind:          kind,
		Heartbeat:     heartbeat,
		Oneway:        oneway,
		CompressKind:  compress,
		StatusKind:    status,
		SerializeKind: serializeKind,
	}

	rest := body

	sp, rest, err := takeLP(rest)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(sp) {
		return nil, &codecError{"service path is not valid UTF-8"}
	}
	m.ServicePath = string(sp)

	sm, rest, err := takeLP(rest)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(sm) {
		return nil, &codecError{"service method is not valid UTF-8"}
	}
	m.ServiceMethod = string(sm)

	metaBytes, rest, err := takeLP(rest)
	if err != nil {
		return nil, err
	}
	m.Metadata, err = decodeMetadata(metaBytes)
	if err != nil {
		return nil, err
	}

	payload, rest, err := takeLP(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, &codecError{"payload does not exhaust body"}
	}
	m.Payload = payload

	return m, nil
}

// takeLP reads one uint32-length-prefixed region from data and returns it
// along with the remainder. A length exceeding what remains is a Codec error.
func takeLP(data []byte) (value, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, &codecError{"short length prefix"}
	}
	n := binary.BigEndian.Uint32(data[0:4])
	data = data[4:]
	if uint64(n) > uint64(len(data)) {
		return nil, nil, &codecError{"length prefix exceeds remaining body"}
	}
	return data[:n], data[n:], nil
}

func encodeMetadata(meta map[string]string) []byte {
	total := 0
	for k, v := range meta {
		total += 4 + len(k) + 4 + len(v)
	}
	buf := make([]byte, total)
	off := 0
	for k, v := range meta {
		off = putLP(buf, off, []byte(k))
		off = putLP(buf, off, []byte(v))
	}
	return buf
}

// decodeMetadata parses a sequence of klen|k|vlen|v pairs. It tolerates the
// legacy form where the final pair's value-length field is entirely absent
// (the key simply runs to the end of the region) — readers must accept this,
// writers (encodeMetadata) never produce it.
func decodeMetadata(data []byte) (map[string]string, error) {
	meta := make(map[string]string)
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, &codecError{"truncated metadata key length"}
		}
		klen := binary.BigEndian.Uint32(data[0:4])
		data = data[4:]
		if uint64(klen) > uint64(len(data)) {
			return nil, &codecError{"metadata key length exceeds remaining region"}
		}
		key := string(data[:klen])
		data = data[klen:]

		if len(data) == 0 {
			// Legacy tail: a key with no value-length field at all.
			meta[key] = ""
			break
		}
		if len(data) < 4 {
			return nil, &codecError{"truncated metadata value length"}
		}
		vlen := binary.BigEndian.Uint32(data[0:4])
		data = data[4:]
		if uint64(vlen) > uint64(len(data)) {
			return nil, &codecError{"metadata value length exceeds remaining region"}
		}
		meta[key] = string(data[:vlen])
		data = data[vlen:]
	}
	return meta, nil
}
