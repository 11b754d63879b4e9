package param

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"rpcx/message"
)

// Compressor compresses/decompresses a payload under one message.CompressKind.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// CompressorFor returns the Compressor for kind. CompressNone is the
// identity compressor so callers never need to special-case it.
func CompressorFor(kind message.CompressKind) (Compressor, error) {
	switch kind {
	case message.CompressNone:
		return noneCompressor{}, nil
	case message.CompressGzip:
		return gzipCompressor{}, nil
	default:
		return nil, fmt.Errorf("param: unsupported compress kind %d", kind)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

// gzipCompressor backs message.CompressGzip with klauspost/compress/gzip,
// a drop-in replacement for compress/gzip's Reader/Writer with a faster
// implementation — grounded on _examples/bearlytools-claw/go.mod, which
// takes it as a direct dependency rather than reaching for the stdlib
// package of the same shape.
type gzipCompressor struct{}

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
