package zarr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec decodes one stage of a chunk's byte pipeline.
type Codec interface {
	Decode(src []byte) ([]byte, error)
}

type codecFunc func([]byte) ([]byte, error)

func (f codecFunc) Decode(src []byte) ([]byte, error) { return f(src) }

var zstdDecoderPool sync.Pool

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// newCompressor returns the decoder for a .zarray compressor entry. A nil
// config means raw chunks.
func newCompressor(cfg CodecConfig) (Codec, error) {
	if cfg == nil {
		return codecFunc(func(b []byte) ([]byte, error) { return b, nil }), nil
	}
	switch id := cfg.ID(); id {
	case "zlib":
		return codecFunc(decodeZlib), nil
	case "gzip":
		return codecFunc(decodeGzip), nil
	case "zstd":
		return codecFunc(decodeZstd), nil
	case "lz4":
		return codecFunc(decodeNumcodecsLZ4), nil
	case "blosc":
		return codecFunc(decodeBlosc), nil
	default:
		return nil, fmt.Errorf("compressor %q: %w", id, ErrUnsupported)
	}
}

func decodeZlib(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func decodeGzip(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func decodeZstd(src []byte) ([]byte, error) {
	dec, err := getZstdDecoder()
	if err != nil {
		return nil, err
	}
	defer putZstdDecoder(dec)
	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

// decodeNumcodecsLZ4 handles the numcodecs LZ4 framing: a little-endian
// uint32 uncompressed size followed by one LZ4 block.
func decodeNumcodecsLZ4(src []byte) ([]byte, error) {
	if len(src) < 4 {
		return nil, errors.New("lz4: short header")
	}
	size := binary.LittleEndian.Uint32(src)
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(src[4:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if uint32(n) != size {
		return nil, errors.New("lz4: decompressed size mismatch")
	}
	return out, nil
}
