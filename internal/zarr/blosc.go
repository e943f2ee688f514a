package zarr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Blosc1 frame layout.
const (
	bloscHeaderSize = 16

	bloscDoShuffle    = 0x01
	bloscMemcpyed     = 0x02
	bloscDoBitShuffle = 0x04
	bloscDontSplit    = 0x10

	bloscMaxSplits     = 16
	bloscMinBufferSize = 128
)

// Blosc inner compressor codes (flags bits 5..7).
const (
	bloscBloscLZ = 0
	bloscLZ4     = 1
	bloscSnappy  = 2
	bloscZlib    = 3
	bloscZstd    = 4
)

var errBloscCorrupt = errors.New("blosc: corrupt frame")

type bloscHeader struct {
	flags     byte
	typesize  int
	nbytes    int
	blocksize int
	cbytes    int
}

func parseBloscHeader(src []byte) (bloscHeader, error) {
	if len(src) < bloscHeaderSize {
		return bloscHeader{}, errBloscCorrupt
	}
	h := bloscHeader{
		flags:     src[2],
		typesize:  int(src[3]),
		nbytes:    int(binary.LittleEndian.Uint32(src[4:])),
		blocksize: int(binary.LittleEndian.Uint32(src[8:])),
		cbytes:    int(binary.LittleEndian.Uint32(src[12:])),
	}
	if h.cbytes > len(src) || h.typesize == 0 {
		return h, errBloscCorrupt
	}
	if h.nbytes > 0 && h.blocksize <= 0 {
		return h, errBloscCorrupt
	}
	return h, nil
}

// decodeBlosc decompresses a blosc1 frame as written by numcodecs.Blosc.
func decodeBlosc(src []byte) ([]byte, error) {
	h, err := parseBloscHeader(src)
	if err != nil {
		return nil, err
	}
	out := make([]byte, h.nbytes)
	if h.nbytes == 0 {
		return out, nil
	}
	if h.flags&bloscMemcpyed != 0 {
		if len(src) < bloscHeaderSize+h.nbytes {
			return nil, errBloscCorrupt
		}
		copy(out, src[bloscHeaderSize:bloscHeaderSize+h.nbytes])
		return out, nil
	}
	if h.flags&bloscDoBitShuffle != 0 && h.typesize > 1 {
		return nil, fmt.Errorf("blosc bitshuffle: %w", ErrUnsupported)
	}
	compcode := int(h.flags >> 5)
	inner, err := bloscInner(compcode)
	if err != nil {
		return nil, err
	}

	nblocks := h.nbytes / h.blocksize
	leftover := h.nbytes % h.blocksize
	if leftover > 0 {
		nblocks++
	}
	if len(src) < bloscHeaderSize+4*nblocks {
		return nil, errBloscCorrupt
	}
	tmp := make([]byte, h.blocksize)
	for j := 0; j < nblocks; j++ {
		start := int(binary.LittleEndian.Uint32(src[bloscHeaderSize+4*j:]))
		bsize := h.blocksize
		last := j == nblocks-1 && leftover > 0
		if last {
			bsize = leftover
		}
		dest := out[j*h.blocksize : j*h.blocksize+bsize]
		block := tmp[:bsize]
		if err := bloscBlock(src, start, block, h, last, inner); err != nil {
			return nil, fmt.Errorf("blosc block %d: %w", j, err)
		}
		if h.flags&bloscDoShuffle != 0 && h.typesize > 1 {
			unshuffle(h.typesize, block, dest)
		} else {
			copy(dest, block)
		}
	}
	return out, nil
}

func bloscBlock(src []byte, pos int, block []byte, h bloscHeader, leftoverBlock bool, inner func(src, dst []byte) (int, error)) error {
	nsplits := 1
	if h.flags&bloscDontSplit == 0 && h.typesize <= bloscMaxSplits &&
		h.blocksize/h.typesize >= bloscMinBufferSize && !leftoverBlock {
		nsplits = h.typesize
	}
	neblock := len(block) / nsplits
	for s := 0; s < nsplits; s++ {
		if pos+4 > len(src) {
			return errBloscCorrupt
		}
		cbytes := int(binary.LittleEndian.Uint32(src[pos:]))
		pos += 4
		if cbytes < 0 || pos+cbytes > len(src) {
			return errBloscCorrupt
		}
		dst := block[s*neblock : (s+1)*neblock]
		if cbytes == neblock {
			copy(dst, src[pos:pos+cbytes])
		} else {
			n, err := inner(src[pos:pos+cbytes], dst)
			if err != nil {
				return err
			}
			if n != neblock {
				return errBloscCorrupt
			}
		}
		pos += cbytes
	}
	return nil
}

func bloscInner(code int) (func(src, dst []byte) (int, error), error) {
	switch code {
	case bloscLZ4:
		return lz4.UncompressBlock, nil
	case bloscZlib:
		return func(src, dst []byte) (int, error) {
			r, err := zlib.NewReader(bytes.NewReader(src))
			if err != nil {
				return 0, err
			}
			defer r.Close()
			return io.ReadFull(r, dst)
		}, nil
	case bloscZstd:
		return func(src, dst []byte) (int, error) {
			dec, err := getZstdDecoder()
			if err != nil {
				return 0, err
			}
			defer putZstdDecoder(dec)
			out, err := dec.DecodeAll(src, dst[:0:len(dst)])
			if err != nil {
				return 0, err
			}
			if len(out) > len(dst) {
				return 0, errBloscCorrupt
			}
			return copy(dst, out), nil
		}, nil
	case bloscBloscLZ:
		return nil, fmt.Errorf("blosc inner codec blosclz: %w", ErrUnsupported)
	case bloscSnappy:
		return nil, fmt.Errorf("blosc inner codec snappy: %w", ErrUnsupported)
	default:
		return nil, fmt.Errorf("blosc inner codec %d: %w", code, ErrUnsupported)
	}
}

// unshuffle reverses the blosc byte shuffle: src holds byte-plane j of every
// element contiguously. Trailing bytes that do not fill an element are copied
// unchanged.
func unshuffle(typesize int, src, dst []byte) {
	n := len(src) / typesize
	for i := 0; i < n; i++ {
		for j := 0; j < typesize; j++ {
			dst[i*typesize+j] = src[j*n+i]
		}
	}
	copy(dst[n*typesize:], src[n*typesize:])
}
