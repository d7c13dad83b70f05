package trace

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// CompressionType defines the compression algorithm to use
type CompressionType int

const (
	// NoCompression indicates no compression
	NoCompression CompressionType = iota
	// ZstdCompression indicates Zstandard compression
	ZstdCompression
)

// String returns the string representation of the CompressionType
func (c CompressionType) String() string {
	switch c {
	case NoCompression:
		return "none"
	case ZstdCompression:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression parses "none" or "zstd"
func ParseCompression(s string) (CompressionType, error) {
	switch s {
	case "", "none":
		return NoCompression, nil
	case "zstd":
		return ZstdCompression, nil
	}
	return 0, fmt.Errorf("trace: unknown compression %q", s)
}

var (
	// encoder and decoder for zstd are reusable and thread-safe
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)

	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// CompressData compresses a byte slice using the specified compression algorithm
func CompressData(data []byte, compressionType CompressionType) ([]byte, error) {
	if compressionType == NoCompression {
		return data, nil
	}

	// Currently we only support Zstd
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// DecompressData decompresses a byte slice using the specified compression algorithm
func DecompressData(data []byte, compressionType CompressionType) ([]byte, error) {
	if compressionType == NoCompression {
		return data, nil
	}

	// Currently we only support Zstd
	return zstdDecoder.DecodeAll(data, nil)
}

// IsZstd reports whether data starts with a zstd frame
func IsZstd(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// NewCompressedWriter returns a writer that compresses data before writing.
// Close it with CloseCompressedWriter to flush the final frame.
func NewCompressedWriter(w io.Writer, compressionType CompressionType) (io.Writer, error) {
	if compressionType == NoCompression {
		return w, nil
	}

	// Currently we only support Zstd
	return zstd.NewWriter(w)
}

// NewCompressedReader returns a reader that decompresses data after reading
func NewCompressedReader(r io.Reader, compressionType CompressionType) (io.Reader, error) {
	if compressionType == NoCompression {
		return r, nil
	}

	// Currently we only support Zstd
	return zstd.NewReader(r)
}

// CloseCompressedWriter closes the compressed writer if needed
func CloseCompressedWriter(w io.Writer) error {
	// Close the writer if it's a zstd writer
	if zw, ok := w.(*zstd.Encoder); ok {
		return zw.Close()
	}
	return nil
}
