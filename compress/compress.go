// Package compress provides codecs for znode payloads.
//
// A Provider is installed on the client with zk.WithCompression: data is
// compressed before create and set, and decompressed after get. Every node
// read through a compressing client must have been written by one using the
// same provider.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Provider compresses and decompresses the data of the node at path.
type Provider interface {
	Compress(path string, data []byte) ([]byte, error)
	Decompress(path string, compressed []byte) ([]byte, error)
}

// ErrUnknownCodec is returned by Parse.
var ErrUnknownCodec = errors.New("compress: unknown codec")

// Parse returns the provider named "none", "gzip", "zstd" or "lz4".
func Parse(name string) (Provider, error) {
	switch name {
	case "", "none":
		return None(), nil
	case "gzip":
		return Gzip(), nil
	case "zstd":
		return Zstd()
	case "lz4":
		return LZ4(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

type noneProvider struct{}

// None keeps data unchanged.
func None() Provider { return noneProvider{} }

func (noneProvider) Compress(_ string, data []byte) ([]byte, error) {
	return data, nil
}

func (noneProvider) Decompress(_ string, compressed []byte) ([]byte, error) {
	return compressed, nil
}

type gzipProvider struct{}

// Gzip uses the gzip stream format, readable by other ZooKeeper clients
// that compress with gzip.
func Gzip() Provider { return gzipProvider{} }

func (gzipProvider) Compress(path string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

func (gzipProvider) Decompress(path string, compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress %s: %w", path, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress %s: %w", path, err)
	}
	return data, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use of EncodeAll
// and DecodeAll.
type zstdProvider struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Zstd uses zstd frames at the default level.
func Zstd() (Provider, error) {
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdProvider{encoder: encoder, decoder: decoder}, nil
}

func (p *zstdProvider) Compress(_ string, data []byte) ([]byte, error) {
	return p.encoder.EncodeAll(data, nil), nil
}

func (p *zstdProvider) Decompress(path string, compressed []byte) ([]byte, error) {
	data, err := p.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress %s: %w", path, err)
	}
	return data, nil
}

type lz4Provider struct{}

// LZ4 uses the LZ4 frame format.
func LZ4() Provider { return lz4Provider{} }

func (lz4Provider) Compress(path string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

func (lz4Provider) Decompress(path string, compressed []byte) ([]byte, error) {
	data, err := io.ReadAll(lz4.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress %s: %w", path, err)
	}
	return data, nil
}
