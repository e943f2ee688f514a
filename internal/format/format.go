// Package format serializes tables into the JSON shapes and CSV the
// frontend consumes.
package format

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"cellxplore/internal/table"
)

// Shape selects the JSON layout of an encoded table.
type Shape string

const (
	// ShapeRecords is an array of row objects keyed by column name.
	ShapeRecords Shape = "records"
	// ShapeSplit is {"columns": [...], "index": [...], "data": [[...]]}.
	ShapeSplit Shape = "split"
)

// ParseShape maps an orient query value to a Shape; empty means records.
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ShapeRecords):
		return ShapeRecords, nil
	case string(ShapeSplit):
		return ShapeSplit, nil
	default:
		return "", fmt.Errorf("unknown orient %q (want records or split)", s)
	}
}

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode renders t in the given shape. Keys follow the table's column order;
// NaN and infinite floats become null. A nil table encodes as empty.
func Encode(t *table.Table, shape Shape) ([]byte, error) {
	if t == nil {
		t = table.New()
	}
	stream := api.BorrowStream(nil)
	defer api.ReturnStream(stream)

	switch shape {
	case ShapeRecords, "":
		writeRecords(stream, t)
	case ShapeSplit:
		writeSplit(stream, t)
	default:
		return nil, fmt.Errorf("unknown shape %q", shape)
	}
	if stream.Error != nil {
		return nil, stream.Error
	}
	out := make([]byte, stream.Buffered())
	copy(out, stream.Buffer())
	return out, nil
}

func writeRecords(s *jsoniter.Stream, t *table.Table) {
	s.WriteArrayStart()
	for i, row := range t.Rows {
		if i > 0 {
			s.WriteMore()
		}
		s.WriteObjectStart()
		for j, c := range t.Columns {
			if j > 0 {
				s.WriteMore()
			}
			s.WriteObjectField(c.Name)
			writeValue(s, cellAt(row, j))
		}
		s.WriteObjectEnd()
	}
	s.WriteArrayEnd()
}

func writeSplit(s *jsoniter.Stream, t *table.Table) {
	s.WriteObjectStart()
	s.WriteObjectField("columns")
	s.WriteArrayStart()
	for j, c := range t.Columns {
		if j > 0 {
			s.WriteMore()
		}
		s.WriteString(c.Name)
	}
	s.WriteArrayEnd()

	s.WriteMore()
	s.WriteObjectField("index")
	s.WriteArrayStart()
	for i := range t.Rows {
		if i > 0 {
			s.WriteMore()
		}
		if label, ok := t.IndexLabel(i); ok {
			s.WriteString(label)
		} else {
			s.WriteInt(i)
		}
	}
	s.WriteArrayEnd()

	s.WriteMore()
	s.WriteObjectField("data")
	s.WriteArrayStart()
	for i, row := range t.Rows {
		if i > 0 {
			s.WriteMore()
		}
		s.WriteArrayStart()
		for j := range t.Columns {
			if j > 0 {
				s.WriteMore()
			}
			writeValue(s, cellAt(row, j))
		}
		s.WriteArrayEnd()
	}
	s.WriteArrayEnd()
	s.WriteObjectEnd()
}

func cellAt(row []any, j int) any {
	if j < len(row) {
		return row[j]
	}
	return nil
}

func writeValue(s *jsoniter.Stream, v any) {
	switch x := v.(type) {
	case nil:
		s.WriteNil()
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			s.WriteNil()
			return
		}
		s.WriteVal(x)
	case float32:
		writeValue(s, float64(x))
	default:
		s.WriteVal(x)
	}
}

// WriteCSV writes a header row followed by one line per row. Missing values
// are empty fields.
func WriteCSV(w io.Writer, t *table.Table) error {
	cw := csv.NewWriter(w)
	if t == nil {
		t = table.New()
	}
	if err := cw.Write(t.Names()); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for j := range t.Columns {
			rec[j] = csvField(cellAt(row, j))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
