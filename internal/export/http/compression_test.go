package http

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var compressible = bytes.Repeat(
	[]byte(`{"key":"ns.key","count":1,"sample_rate":1},`),
	20,
)

func decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

func decompressZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

func decompressZstd(data []byte) ([]byte, error) {
	d, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	return d.DecodeAll(data, nil)
}

func TestCompressor_RoundTrip(t *testing.T) {
	tests := []struct {
		algorithm  string
		encoding   string
		decompress func([]byte) ([]byte, error)
	}{
		{algorithm: CompressionGzip, encoding: "gzip", decompress: decompressGzip},
		{algorithm: CompressionZlib, encoding: "deflate", decompress: decompressZlib},
		{algorithm: CompressionZstd, encoding: "zstd", decompress: decompressZstd},
		{algorithm: CompressionSnappy, encoding: "snappy", decompress: func(b []byte) ([]byte, error) {
			return snappy.Decode(nil, b)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			c, err := NewCompressor(tt.algorithm)
			require.NoError(t, err)
			defer c.Close()

			compressed, err := c.Compress(compressible)
			require.NoError(t, err)
			assert.Equal(t, tt.encoding, c.ContentEncoding())

			decompressed, err := tt.decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, compressible, decompressed)
		})
	}
}

func TestCompressor_None(t *testing.T) {
	for _, algorithm := range []string{"", CompressionNone} {
		c, err := NewCompressor(algorithm)
		require.NoError(t, err)

		out, err := c.Compress(compressible)
		require.NoError(t, err)

		assert.Equal(t, compressible, out)
		assert.Empty(t, c.ContentEncoding())
		assert.NoError(t, c.Close())
	}
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor("brotli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}
