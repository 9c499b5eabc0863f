// Package snapshot encodes the full tree stored with every commit.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"relgit/internal/object"

	"github.com/klauspost/compress/zstd"
)

// Codec turns a commit's tree into bytes and back. Storage only ever sees
// the encoded form, so a delta encoding can replace the default without
// touching tree, diff or merge code.
type Codec interface {
	Encode(t *object.Tree) ([]byte, error)
	Decode(data []byte) (*object.Tree, error)
}

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Options configures compression behavior
type Options struct {
	// Minimum encoded size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 4=best)
	Level int
}

func DefaultOptions() Options {
	return Options{
		MinSize: 512,
		Level:   2, // Balanced speed/compression
	}
}

// ZstdJSON encodes trees as JSON, compressing anything at least MinSize
// bytes long with zstd. Decode accepts both forms.
type ZstdJSON struct {
	opts     Options
	encoders sync.Pool
	decoders sync.Pool
}

var _ Codec = (*ZstdJSON)(nil)

func NewZstdJSON(opts Options) (*ZstdJSON, error) {
	// Validate options once up front; pooled constructors assume they work.
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	enc.Close()

	c := &ZstdJSON{opts: opts}
	c.encoders.New = func() any {
		enc, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
			zstd.WithEncoderConcurrency(1),
		)
		return enc
	}
	c.decoders.New = func() any {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return dec
	}
	return c, nil
}

// Default returns a codec with DefaultOptions.
func Default() *ZstdJSON {
	c, err := NewZstdJSON(DefaultOptions())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *ZstdJSON) Encode(t *object.Tree) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding tree %s: %w", t.OID, err)
	}
	if len(data) < c.opts.MinSize {
		return data, nil
	}

	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *ZstdJSON) Decode(data []byte) (*object.Tree, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		dec := c.decoders.Get().(*zstd.Decoder)
		defer c.decoders.Put(dec)

		raw, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing tree: %w", err)
		}
		data = raw
	}

	var t object.Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding tree: %w", err)
	}
	return &t, nil
}
