package zarr

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// chunkReadConcurrency bounds the chunk fetches in flight per array read.
const chunkReadConcurrency = 8

// Array is an opened 1-D or N-D array node. Only 1-D arrays can be read.
type Array struct {
	store      *Store
	path       string
	meta       ArrayMeta
	dtype      dtype
	compressor Codec
	vlen       bool
}

func newArray(s *Store, p string, meta ArrayMeta) (*Array, error) {
	dt, err := parseDType(meta.DType)
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", p, err)
	}
	comp, err := newCompressor(meta.Compressor)
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", p, err)
	}
	a := &Array{store: s, path: p, meta: meta, dtype: dt, compressor: comp}
	for _, f := range meta.Filters {
		switch f.ID() {
		case "vlen-utf8", "vlen-bytes":
			a.vlen = true
		default:
			return nil, fmt.Errorf("array %s filter %q: %w", p, f.ID(), ErrUnsupported)
		}
	}
	if dt.kind == 'O' && !a.vlen {
		return nil, fmt.Errorf("array %s: object dtype without vlen codec: %w", p, ErrUnsupported)
	}
	return a, nil
}

// Path returns the array path relative to the store root.
func (a *Array) Path() string { return a.path }

// Shape returns a copy of the array shape.
func (a *Array) Shape() []int { return append([]int(nil), a.meta.Shape...) }

// DType returns the numpy type string.
func (a *Array) DType() string { return a.dtype.raw }

// Attrs returns the array attributes.
func (a *Array) Attrs(ctx context.Context) (map[string]any, error) {
	return a.store.attrs(ctx, a.path)
}

// Read decodes the whole 1-D array. Chunks are fetched concurrently; chunks
// missing from the store take the fill value.
func (a *Array) Read(ctx context.Context) (Values, error) {
	if len(a.meta.Shape) != 1 {
		return nil, fmt.Errorf("array %s has rank %d: %w", a.path, len(a.meta.Shape), ErrUnsupported)
	}
	n := a.meta.Shape[0]
	size := a.meta.Chunks[0]
	out := a.dtype.alloc(n)
	nchunks := (n + size - 1) / size

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkReadConcurrency)
	for i := 0; i < nchunks; i++ {
		lo := i * size
		hi := min(lo+size, n)
		g.Go(func() error {
			return a.readChunk(gctx, i, out, lo, hi)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Array) readChunk(ctx context.Context, i int, out Values, lo, hi int) error {
	key := a.path + "/" + strconv.Itoa(i)
	raw, err := a.store.read(ctx, key)
	if errors.Is(err, ErrNotFound) {
		a.dtype.fill(out, lo, hi, a.meta.FillValue)
		return nil
	}
	if err != nil {
		return err
	}
	b, err := a.compressor.Decode(raw)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", key, err)
	}
	if a.vlen {
		items, err := decodeVLenUTF8(b)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", key, err)
		}
		if len(items) < hi-lo {
			return fmt.Errorf("chunk %s holds %d items, need %d", key, len(items), hi-lo)
		}
		copy(out.(Strings)[lo:hi], items)
		return nil
	}
	if err := a.dtype.decodeInto(out, lo, hi, b); err != nil {
		return fmt.Errorf("chunk %s: %w", key, err)
	}
	return nil
}
