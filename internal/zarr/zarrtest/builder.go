// Package zarrtest writes small Zarr v2 hierarchies into a blob store for
// tests and fixtures.
package zarrtest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"path"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"cellxplore/internal/blob"
)

// Compressor names accepted by Builder.
const (
	None      = ""
	Zlib      = "zlib"
	Gzip      = "gzip"
	Zstd      = "zstd"
	LZ4       = "lz4"
	BloscLZ4  = "blosc-lz4"
	BloscZstd = "blosc-zstd"
)

// Builder writes groups and 1-D arrays under a key prefix.
type Builder struct {
	ctx    context.Context
	w      blob.Writer
	prefix string

	// Compressor applied to every subsequently written array.
	Compressor string
	// ChunkSize is the element count per chunk; 0 means a single chunk.
	ChunkSize int
	// BlockSize is the blosc block size in bytes; 0 means one block per chunk.
	BlockSize int

	docs map[string]json.RawMessage
}

// New returns a builder writing below prefix and creates the root group.
func New(ctx context.Context, w blob.Writer, prefix string) (*Builder, error) {
	b := &Builder{ctx: ctx, w: w, prefix: strings.Trim(prefix, "/"), docs: map[string]json.RawMessage{}}
	if err := b.Group("", nil); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Builder) key(rel string) string {
	if b.prefix == "" {
		return rel
	}
	return b.prefix + "/" + rel
}

func (b *Builder) put(rel string, data []byte) error {
	_, err := b.w.Put(b.ctx, b.key(rel), bytes.NewReader(data), blob.PutOptions{})
	return err
}

func (b *Builder) putDoc(rel string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	b.docs[rel] = raw
	return b.put(rel, raw)
}

// Group writes a group node with optional attributes.
func (b *Builder) Group(p string, attrs map[string]any) error {
	if err := b.putDoc(path.Join(p, ".zgroup"), map[string]any{"zarr_format": 2}); err != nil {
		return err
	}
	if len(attrs) > 0 {
		return b.putDoc(path.Join(p, ".zattrs"), attrs)
	}
	return nil
}

// Array writes a 1-D array. values is []float64, []float32, []int64, []int32,
// []int8, []bool or []string (written as a vlen-utf8 object array).
func (b *Builder) Array(p string, values any, attrs map[string]any) error {
	raw, typesize, dtype, n, fill, err := encodeValues(values)
	if err != nil {
		return fmt.Errorf("array %s: %w", p, err)
	}
	chunk := b.ChunkSize
	if chunk <= 0 || chunk > n {
		chunk = max(n, 1)
	}
	meta := map[string]any{
		"zarr_format": 2,
		"shape":       []int{n},
		"chunks":      []int{chunk},
		"dtype":       dtype,
		"compressor":  compressorConfig(b.Compressor),
		"fill_value":  fill,
		"order":       "C",
		"filters":     nil,
	}
	if dtype == "|O" {
		meta["filters"] = []map[string]any{{"id": "vlen-utf8"}}
	}
	if err := b.putDoc(path.Join(p, ".zarray"), meta); err != nil {
		return err
	}
	if len(attrs) > 0 {
		if err := b.putDoc(path.Join(p, ".zattrs"), attrs); err != nil {
			return err
		}
	}
	for i := 0; i*chunk < n; i++ {
		lo, hi := i*chunk, min((i+1)*chunk, n)
		var data []byte
		if strs, ok := values.([]string); ok {
			data = encodeVLen(strs[lo:hi])
		} else {
			// Edge chunks are padded to the full chunk length.
			data = make([]byte, chunk*typesize)
			copy(data, raw[lo*typesize:hi*typesize])
		}
		enc, err := b.compress(data, typesize)
		if err != nil {
			return err
		}
		if err := b.put(fmt.Sprintf("%s/%d", p, i), enc); err != nil {
			return err
		}
	}
	return nil
}

// RawArrayMeta writes only an array metadata document, leaving every chunk
// missing so reads produce the fill value.
func (b *Builder) RawArrayMeta(p string, meta map[string]any) error {
	return b.putDoc(path.Join(p, ".zarray"), meta)
}

// Put writes an arbitrary key relative to the builder prefix.
func (b *Builder) Put(rel string, data []byte) error {
	return b.put(rel, data)
}

// Consolidate writes .zmetadata covering every document written so far.
func (b *Builder) Consolidate() error {
	doc := map[string]any{
		"zarr_consolidated_format": 1,
		"metadata":                 b.docs,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return b.put(".zmetadata", raw)
}

func encodeValues(values any) (raw []byte, typesize int, dtype string, n int, fill any, err error) {
	var buf bytes.Buffer
	switch v := values.(type) {
	case []float64:
		for _, f := range v {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float64bits(f))
		}
		return buf.Bytes(), 8, "<f8", len(v), "NaN", nil
	case []float32:
		for _, f := range v {
			_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(f))
		}
		return buf.Bytes(), 4, "<f4", len(v), "NaN", nil
	case []int64:
		_ = binary.Write(&buf, binary.LittleEndian, v)
		return buf.Bytes(), 8, "<i8", len(v), 0, nil
	case []int32:
		_ = binary.Write(&buf, binary.LittleEndian, v)
		return buf.Bytes(), 4, "<i4", len(v), 0, nil
	case []int8:
		_ = binary.Write(&buf, binary.LittleEndian, v)
		return buf.Bytes(), 1, "|i1", len(v), 0, nil
	case []bool:
		for _, x := range v {
			if x {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
		return buf.Bytes(), 1, "|b1", len(v), false, nil
	case []string:
		return nil, 1, "|O", len(v), nil, nil
	default:
		return nil, 0, "", 0, nil, fmt.Errorf("unsupported fixture type %T", values)
	}
}

func encodeVLen(items []string) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(items)))
	for _, s := range items {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(s)))
		buf.WriteString(s)
	}
	return buf.Bytes()
}

func compressorConfig(name string) any {
	switch name {
	case None:
		return nil
	case BloscLZ4:
		return map[string]any{"id": "blosc", "cname": "lz4", "clevel": 5, "shuffle": 1, "blocksize": 0}
	case BloscZstd:
		return map[string]any{"id": "blosc", "cname": "zstd", "clevel": 5, "shuffle": 1, "blocksize": 0}
	case Zlib, Gzip:
		return map[string]any{"id": name, "level": 1}
	case LZ4:
		return map[string]any{"id": "lz4", "acceleration": 1}
	default:
		return map[string]any{"id": name}
	}
}

func (b *Builder) compress(data []byte, typesize int) ([]byte, error) {
	switch b.Compressor {
	case None:
		return data, nil
	case Zlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case LZ4:
		out := make([]byte, 4+lz4.CompressBlockBound(len(data)))
		binary.LittleEndian.PutUint32(out, uint32(len(data)))
		n, err := lz4.CompressBlock(data, out[4:], nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return append(out[:4], literalLZ4Block(data)...), nil
		}
		return out[:4+n], nil
	case BloscLZ4:
		return BloscFrame(data, typesize, b.BlockSize, 1)
	case BloscZstd:
		return BloscFrame(data, typesize, b.BlockSize, 4)
	default:
		return nil, fmt.Errorf("unknown fixture compressor %q", b.Compressor)
	}
}

// BloscFrame builds a byte-shuffled blosc1 frame with the given inner codec
// (1 = lz4, 4 = zstd). Splits follow the c-blosc rules so the decoder's split
// path is exercised when blocks are large enough.
func BloscFrame(data []byte, typesize, blocksize, compcode int) ([]byte, error) {
	nbytes := len(data)
	if blocksize <= 0 || blocksize > nbytes {
		blocksize = max(nbytes, 1)
	}
	nblocks := (nbytes + blocksize - 1) / blocksize
	leftover := nbytes % blocksize

	flags := byte(0x01) | byte(compcode<<5)
	body := &bytes.Buffer{}
	starts := make([]uint32, nblocks)
	headerLen := 16 + 4*nblocks
	for j := 0; j < nblocks; j++ {
		starts[j] = uint32(headerLen + body.Len())
		bsize := blocksize
		last := j == nblocks-1 && leftover > 0
		if last {
			bsize = leftover
		}
		block := data[j*blocksize : j*blocksize+bsize]
		shuffled := make([]byte, bsize)
		if typesize > 1 {
			shuffle(typesize, block, shuffled)
		} else {
			copy(shuffled, block)
		}
		nsplits := 1
		if typesize <= 16 && blocksize/typesize >= 128 && !last {
			nsplits = typesize
		}
		neblock := bsize / nsplits
		for s := 0; s < nsplits; s++ {
			part := shuffled[s*neblock : (s+1)*neblock]
			comp, err := compressInner(part, compcode)
			if err != nil {
				return nil, err
			}
			if len(comp) == 0 || len(comp) >= neblock {
				comp = part
			}
			_ = binary.Write(body, binary.LittleEndian, uint32(len(comp)))
			body.Write(comp)
		}
	}
	out := make([]byte, headerLen, headerLen+body.Len())
	out[0] = 2
	out[1] = 1
	out[2] = flags
	out[3] = byte(typesize)
	binary.LittleEndian.PutUint32(out[4:], uint32(nbytes))
	binary.LittleEndian.PutUint32(out[8:], uint32(blocksize))
	binary.LittleEndian.PutUint32(out[12:], uint32(headerLen+body.Len()))
	for j, s := range starts {
		binary.LittleEndian.PutUint32(out[16+4*j:], s)
	}
	return append(out, body.Bytes()...), nil
}

func compressInner(part []byte, compcode int) ([]byte, error) {
	switch compcode {
	case 1:
		dst := make([]byte, lz4.CompressBlockBound(len(part)))
		n, err := lz4.CompressBlock(part, dst, nil)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	case 4:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(part, nil), nil
	default:
		return nil, fmt.Errorf("unsupported blosc fixture codec %d", compcode)
	}
}

// literalLZ4Block encodes data as a single literal-only LZ4 sequence, which
// is how incompressible input is represented.
func literalLZ4Block(data []byte) []byte {
	n := len(data)
	var out []byte
	if n < 15 {
		out = append(out, byte(n<<4))
	} else {
		out = append(out, 0xF0)
		rest := n - 15
		for rest >= 255 {
			out = append(out, 255)
			rest -= 255
		}
		out = append(out, byte(rest))
	}
	return append(out, data...)
}

func shuffle(typesize int, src, dst []byte) {
	n := len(src) / typesize
	for i := 0; i < n; i++ {
		for j := 0; j < typesize; j++ {
			dst[j*n+i] = src[i*typesize+j]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
}
