package persistence

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names recorded in the snapshot header. Loading always uses
// the name written at save time, so the configured compression can change
// between runs without breaking old snapshots.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Compressor compresses and decompresses snapshot payloads.
type Compressor interface {
	// Name returns the identifier recorded in the snapshot header.
	Name() string

	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// CompressorByName returns the compressor registered under name.
func CompressorByName(name string) (Compressor, error) {
	switch name {
	case CompressionNone:
		return noneCompressor{}, nil
	case CompressionZstd:
		return zstdCompressor{}, nil
	case CompressionLZ4:
		return lz4Compressor{}, nil
	default:
		return nil, fmt.Errorf("persistence: unknown compression %q", name)
	}
}

type noneCompressor struct{}

func (noneCompressor) Name() string { return CompressionNone }

func (noneCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type zstdCompressor struct{}

func (zstdCompressor) Name() string { return CompressionZstd }

func (zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	out := enc.EncodeAll(data, nil)
	_ = enc.Close()

	return out, nil
}

func (zstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	return dec.DecodeAll(data, nil)
}

type lz4Compressor struct{}

func (lz4Compressor) Name() string { return CompressionLZ4 }

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
