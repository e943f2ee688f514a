package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	json "github.com/json-iterator/go"
)

// Values is the decoded content of a 1-D array: one of Float64s, Int64s,
// Bools or Strings.
type Values interface {
	Len() int
	At(i int) any
}

type (
	Float64s []float64
	Int64s   []int64
	Bools    []bool
	Strings  []string
)

func (v Float64s) Len() int     { return len(v) }
func (v Float64s) At(i int) any { return v[i] }
func (v Int64s) Len() int       { return len(v) }
func (v Int64s) At(i int) any   { return v[i] }
func (v Bools) Len() int        { return len(v) }
func (v Bools) At(i int) any    { return v[i] }
func (v Strings) Len() int      { return len(v) }
func (v Strings) At(i int) any  { return v[i] }

// dtype is a parsed numpy type string such as "<f8", "|b1", "<U12" or "|O".
type dtype struct {
	raw   string
	kind  byte
	size  int
	order binary.ByteOrder
}

func parseDType(raw json.RawMessage) (dtype, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return dtype{}, fmt.Errorf("structured dtype %s: %w", string(raw), ErrUnsupported)
	}
	if len(s) < 2 {
		return dtype{}, fmt.Errorf("dtype %q: %w", s, ErrUnsupported)
	}
	dt := dtype{raw: s, order: binary.LittleEndian}
	switch s[0] {
	case '<', '|', '=':
	case '>':
		dt.order = binary.BigEndian
	default:
		return dt, fmt.Errorf("dtype %q: %w", s, ErrUnsupported)
	}
	dt.kind = s[1]
	if dt.kind == 'O' {
		return dt, nil
	}
	n, err := strconv.Atoi(s[2:])
	if err != nil || n <= 0 {
		return dt, fmt.Errorf("dtype %q: %w", s, ErrUnsupported)
	}
	dt.size = n
	switch dt.kind {
	case 'f':
		if n != 4 && n != 8 {
			return dt, fmt.Errorf("dtype %q: %w", s, ErrUnsupported)
		}
	case 'i', 'u':
		if n != 1 && n != 2 && n != 4 && n != 8 {
			return dt, fmt.Errorf("dtype %q: %w", s, ErrUnsupported)
		}
	case 'b':
		if n != 1 {
			return dt, fmt.Errorf("dtype %q: %w", s, ErrUnsupported)
		}
	case 'U':
		dt.size = 4 * n
	case 'S':
	default:
		return dt, fmt.Errorf("dtype %q: %w", s, ErrUnsupported)
	}
	return dt, nil
}

// alloc returns a zeroed Values of length n for the dtype.
func (dt dtype) alloc(n int) Values {
	switch dt.kind {
	case 'f':
		return make(Float64s, n)
	case 'i', 'u':
		return make(Int64s, n)
	case 'b':
		return make(Bools, n)
	default:
		return make(Strings, n)
	}
}

// fill writes the array fill value into out[lo:hi] for chunks that were never
// written.
func (dt dtype) fill(out Values, lo, hi int, fillValue json.RawMessage) {
	switch v := out.(type) {
	case Float64s:
		f := fillFloat(fillValue)
		for i := lo; i < hi; i++ {
			v[i] = f
		}
	case Int64s:
		n := fillInt(fillValue)
		for i := lo; i < hi; i++ {
			v[i] = n
		}
	case Bools:
		b := fillBool(fillValue)
		for i := lo; i < hi; i++ {
			v[i] = b
		}
	case Strings:
		s := fillString(fillValue)
		for i := lo; i < hi; i++ {
			v[i] = s
		}
	}
}

// decodeInto decodes the fixed-width elements of one chunk into out[lo:hi].
// The chunk may hold padding beyond hi-lo elements.
func (dt dtype) decodeInto(out Values, lo, hi int, b []byte) error {
	count := hi - lo
	if len(b) < count*dt.size {
		return fmt.Errorf("chunk holds %d bytes, need %d", len(b), count*dt.size)
	}
	switch v := out.(type) {
	case Float64s:
		for k := 0; k < count; k++ {
			p := b[k*dt.size:]
			if dt.size == 8 {
				v[lo+k] = math.Float64frombits(dt.order.Uint64(p))
			} else {
				v[lo+k] = float64(math.Float32frombits(dt.order.Uint32(p)))
			}
		}
	case Int64s:
		for k := 0; k < count; k++ {
			v[lo+k] = dt.integer(b[k*dt.size:])
		}
	case Bools:
		for k := 0; k < count; k++ {
			v[lo+k] = b[k] != 0
		}
	case Strings:
		for k := 0; k < count; k++ {
			p := b[k*dt.size : (k+1)*dt.size]
			if dt.kind == 'U' {
				v[lo+k] = decodeUTF32(p, dt.order)
			} else {
				v[lo+k] = strings.TrimRight(string(p), "\x00")
			}
		}
	}
	return nil
}

func (dt dtype) integer(p []byte) int64 {
	signed := dt.kind == 'i'
	switch dt.size {
	case 1:
		if signed {
			return int64(int8(p[0]))
		}
		return int64(p[0])
	case 2:
		u := dt.order.Uint16(p)
		if signed {
			return int64(int16(u))
		}
		return int64(u)
	case 4:
		u := dt.order.Uint32(p)
		if signed {
			return int64(int32(u))
		}
		return int64(u)
	default:
		return int64(dt.order.Uint64(p))
	}
}

func decodeUTF32(p []byte, order binary.ByteOrder) string {
	var sb strings.Builder
	for i := 0; i+4 <= len(p); i += 4 {
		r := rune(order.Uint32(p[i:]))
		if r == 0 {
			break
		}
		if !utf8.ValidRune(r) {
			r = utf8.RuneError
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// decodeVLenUTF8 parses the numcodecs VLenUTF8 layout: a uint32 item count
// followed by length-prefixed UTF-8 items.
func decodeVLenUTF8(b []byte) ([]string, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("vlen-utf8: short header")
	}
	n := int(binary.LittleEndian.Uint32(b))
	pos := 4
	out := make([]string, n)
	for i := 0; i < n; i++ {
		if pos+4 > len(b) {
			return nil, fmt.Errorf("vlen-utf8: truncated at item %d", i)
		}
		l := int(binary.LittleEndian.Uint32(b[pos:]))
		pos += 4
		if pos+l > len(b) {
			return nil, fmt.Errorf("vlen-utf8: truncated at item %d", i)
		}
		out[i] = string(b[pos : pos+l])
		pos += l
	}
	return out, nil
}
