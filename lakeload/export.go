package lakeload

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// -----------------------------------------------------------------------------
// Compressors
// -----------------------------------------------------------------------------

// Compressor wraps an export stream with compression.
type Compressor interface {
	// Name returns the compressor identifier ("none", "gzip", "zstd").
	Name() string

	// Extension returns the file extension (".gz", ".zst", "").
	Extension() string

	// Compress wraps a writer with compression.
	Compress(w io.Writer) (io.WriteCloser, error)

	// Decompress wraps a reader with decompression.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// CompressorByName returns the compressor for "none" (or ""), "gzip", or "zstd".
func CompressorByName(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return noopCompressor{}, nil
	case "gzip":
		return gzipCompressor{}, nil
	case "zstd":
		return zstdCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q (want none, gzip or zstd)", name)
	}
}

type gzipCompressor struct{}

func (gzipCompressor) Name() string      { return "gzip" }
func (gzipCompressor) Extension() string { return ".gz" }

func (gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string      { return "zstd" }
func (zstdCompressor) Extension() string { return ".zst" }

func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zstdCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

type noopCompressor struct{}

func (noopCompressor) Name() string      { return "none" }
func (noopCompressor) Extension() string { return "" }

func (noopCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noopCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// -----------------------------------------------------------------------------
// JSONL export
// -----------------------------------------------------------------------------

// WriteJSONL writes the frame's rows to w as newline-delimited JSON, one
// object per row. Timestamps are encoded as RFC 3339 strings and binary
// values as base64. Returns the number of rows written.
func (f *Frame) WriteJSONL(ctx context.Context, w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	stream := json.BorrowStream(bw)
	defer json.ReturnStream(stream)

	var n int64
	err := f.Scan(ctx, func(rec map[string]any) error {
		stream.WriteVal(rec)
		stream.WriteRaw("\n")
		if stream.Error != nil {
			return fmt.Errorf("encoding row %d: %w", n, stream.Error)
		}
		if err := stream.Flush(); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, bw.Flush()
}
