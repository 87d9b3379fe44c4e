package http

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression algorithms accepted in Config.Compression.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// contentEncodings maps an algorithm to its Content-Encoding header value.
var contentEncodings = map[string]string{
	CompressionNone:   "",
	CompressionGzip:   "gzip",
	CompressionZstd:   "zstd",
	CompressionZlib:   "deflate",
	CompressionSnappy: "snappy",
}

// Compressor encodes request bodies.
type Compressor struct {
	algorithm string
	zstd      *zstd.Encoder
}

// NewCompressor creates a Compressor. An empty algorithm means none.
func NewCompressor(algorithm string) (*Compressor, error) {
	if algorithm == "" {
		algorithm = CompressionNone
	}

	if _, ok := contentEncodings[algorithm]; !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{algorithm: algorithm}

	if algorithm == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstd = enc
	}

	return c, nil
}

// Compress returns data encoded with the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionGzip:
		return writeThrough(data, func(buf *bytes.Buffer) io.WriteCloser {
			return gzip.NewWriter(buf)
		})
	case CompressionZlib:
		return writeThrough(data, func(buf *bytes.Buffer) io.WriteCloser {
			return zlib.NewWriter(buf)
		})
	case CompressionZstd:
		return c.zstd.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return data, nil
	}
}

// ContentEncoding returns the Content-Encoding header value, empty when
// the body is sent as is.
func (c *Compressor) ContentEncoding() string {
	return contentEncodings[c.algorithm]
}

// Close releases encoder resources. Safe to call more than once.
func (c *Compressor) Close() error {
	if c.zstd == nil {
		return nil
	}

	err := c.zstd.Close()
	c.zstd = nil

	return err
}

func writeThrough(data []byte, open func(*bytes.Buffer) io.WriteCloser) ([]byte, error) {
	var buf bytes.Buffer

	w := open(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("writing compressed body: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing compressed body: %w", err)
	}

	return buf.Bytes(), nil
}
