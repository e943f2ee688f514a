// Package zarr reads Zarr v2 hierarchies (groups, attributes and 1-D arrays)
// from a blob.Store. Only the read path is implemented; stores are produced
// by external tooling.
package zarr

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	json "github.com/json-iterator/go"
)

// Metadata document keys.
const (
	groupKey        = ".zgroup"
	arrayKey        = ".zarray"
	attrsKey        = ".zattrs"
	consolidatedKey = ".zmetadata"
)

var (
	// ErrNotFound reports a node (group, array or attribute document) that does not exist.
	ErrNotFound = errors.New("zarr: node not found")
	// ErrUnsupported reports a codec, dtype or layout the reader cannot decode.
	ErrUnsupported = errors.New("zarr: unsupported")
)

// CodecConfig is a compressor or filter entry from .zarray.
type CodecConfig map[string]any

// ID returns the numcodecs identifier of the codec.
func (c CodecConfig) ID() string {
	if c == nil {
		return ""
	}
	id, _ := c["id"].(string)
	return id
}

// ArrayMeta mirrors the .zarray document.
type ArrayMeta struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int           `json:"shape"`
	Chunks             []int           `json:"chunks"`
	DType              json.RawMessage `json:"dtype"`
	Compressor         CodecConfig     `json:"compressor"`
	Filters            []CodecConfig   `json:"filters"`
	FillValue          json.RawMessage `json:"fill_value"`
	Order              string          `json:"order"`
	DimensionSeparator string          `json:"dimension_separator,omitempty"`
}

// GroupMeta mirrors the .zgroup document.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

func parseGroupMeta(raw []byte) (GroupMeta, error) {
	var m GroupMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode .zgroup: %w", err)
	}
	if m.ZarrFormat != 2 {
		return m, fmt.Errorf("zarr_format %d: %w", m.ZarrFormat, ErrUnsupported)
	}
	return m, nil
}

func parseArrayMeta(raw []byte) (ArrayMeta, error) {
	var m ArrayMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode .zarray: %w", err)
	}
	if m.ZarrFormat != 2 {
		return m, fmt.Errorf("zarr_format %d: %w", m.ZarrFormat, ErrUnsupported)
	}
	if len(m.Shape) != len(m.Chunks) {
		return m, fmt.Errorf("shape %v and chunks %v differ in rank", m.Shape, m.Chunks)
	}
	for _, c := range m.Chunks {
		if c <= 0 {
			return m, fmt.Errorf("invalid chunk size %d", c)
		}
	}
	if m.Order != "" && m.Order != "C" && len(m.Shape) > 1 {
		return m, fmt.Errorf("order %q: %w", m.Order, ErrUnsupported)
	}
	return m, nil
}

// fillFloat interprets the fill_value for floating point arrays, including
// the "NaN"/"Infinity" string encodings.
func fillFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return math.NaN()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "NaN":
			return math.NaN()
		case "Infinity":
			return math.Inf(1)
		case "-Infinity":
			return math.Inf(-1)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return math.NaN()
	}
	return f
}

func fillInt(raw json.RawMessage) int64 {
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

func fillBool(raw json.RawMessage) bool {
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func fillString(raw json.RawMessage) string {
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}
