package param

import (
	"bytes"
	"testing"

	"rpcx/message"
)

type addArgs struct {
	A, B int
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c, err := CodecFor(message.SerializeJSON)
	if err != nil {
		t.Fatalf("CodecFor failed: %v", err)
	}
	data, err := c.Marshal(&addArgs{A: 3, B: 4})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got addArgs
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.A != 3 || got.B != 4 {
		t.Fatalf("got %+v", got)
	}
}

func TestMsgPackCodecRoundTrip(t *testing.T) {
	c, err := CodecFor(message.SerializeMsgPack)
	if err != nil {
		t.Fatalf("CodecFor failed: %v", err)
	}
	data, err := c.Marshal(&addArgs{A: 1, B: 2})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got addArgs
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.A != 1 || got.B != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestRawCodecIsIdentity(t *testing.T) {
	c, err := CodecFor(message.SerializeNone)
	if err != nil {
		t.Fatalf("CodecFor failed: %v", err)
	}
	want := []byte{1, 2, 3}
	data, err := c.Marshal(Bytes(want))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("got %v want %v", data, want)
	}
	var got Bytes
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestProtobufCodecRejectsNonProtoMessage(t *testing.T) {
	c, err := CodecFor(message.SerializeProtobuf)
	if err != nil {
		t.Fatalf("CodecFor failed: %v", err)
	}
	if _, err := c.Marshal(&addArgs{}); err == nil {
		t.Fatal("expected a Serialization error for a non-proto.Message value")
	}
}

func TestCodecForUnknownKind(t *testing.T) {
	if _, err := CodecFor(message.SerializeKind(99)); err == nil {
		t.Fatal("expected an error for an unknown serialize kind")
	}
}

func TestGzipCompressorRoundTrip(t *testing.T) {
	c, err := CompressorFor(message.CompressGzip)
	if err != nil {
		t.Fatalf("CompressorFor failed: %v", err)
	}
	want := bytes.Repeat([]byte("rpcx"), 100)
	compressed, err := c.Compress(want)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if bytes.Equal(compressed, want) {
		t.Fatal("expected compressed output to differ from input")
	}
	got, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("round trip did not reproduce the original bytes")
	}
}
