// Package csvio reads and writes interaction logs as CSV with a header row.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/okian/receval/internal/domain/model"
)

// ErrMalformedRow is returned for a row whose values cannot be parsed.
var ErrMalformedRow = errors.New("malformed csv row")

// Bindings maps header names to record fields. Columns not bound are skipped.
type Bindings map[string]model.Field

// DefaultBindings binds the four standard column names.
func DefaultBindings() Bindings {
	return Bindings{
		model.ColumnUser:      model.FieldUser,
		model.ColumnItem:      model.FieldItem,
		model.ColumnRating:    model.FieldRating,
		model.ColumnTimestamp: model.FieldTimestamp,
	}
}

// SchemaBindings binds each column of s to its field.
func SchemaBindings(s model.Schema) Bindings {
	b := make(Bindings, len(s))
	for _, c := range s {
		b[c.Name] = c.Field
	}
	return b
}

// Read parses a CSV log. The resulting schema lists the bound columns in
// header order. Timestamps may be unix seconds or RFC 3339.
func Read(r io.Reader, b Bindings) (model.Table, error) {
	if b == nil {
		b = DefaultBindings()
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return model.Table{}, fmt.Errorf("%w: missing header", ErrMalformedRow)
	}
	if err != nil {
		return model.Table{}, fmt.Errorf("read header: %w", err)
	}

	var cols []model.Column
	var positions []int
	for i, name := range head {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if f, ok := b[name]; ok {
			cols = append(cols, model.Column{Name: name, Field: f})
			positions = append(positions, i)
		}
	}
	schema, err := model.NewSchema(cols...)
	if err != nil {
		return model.Table{}, err
	}

	t := model.Table{Schema: schema}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.Table{}, fmt.Errorf("read line %d: %w", line, err)
		}
		var row model.InteractionRecord
		for j, c := range schema {
			if err := assign(&row, c.Field, strings.TrimSpace(rec[positions[j]])); err != nil {
				return model.Table{}, fmt.Errorf("%w: line %d column %q: %v", ErrMalformedRow, line, c.Name, err)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func assign(r *model.InteractionRecord, f model.Field, v string) error {
	switch f {
	case model.FieldUser:
		id, err := strconv.ParseInt(v, 10, 64)
		r.UserID = model.UserID(id)
		return err
	case model.FieldItem:
		id, err := strconv.ParseInt(v, 10, 64)
		r.ItemID = model.ItemID(id)
		return err
	case model.FieldRating:
		x, err := strconv.ParseFloat(v, 64)
		r.Rating = x
		return err
	case model.FieldTimestamp:
		ts, err := parseTimestamp(v)
		r.Timestamp = ts
		return err
	}
	return nil
}

func parseTimestamp(v string) (int64, error) {
	if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
		return ts, nil
	}
	tm, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q is neither unix seconds nor RFC 3339", v)
	}
	return tm.Unix(), nil
}

// Write renders t with a header row in schema order.
func Write(w io.Writer, t model.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Schema.Names()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	line := make([]string, len(t.Schema))
	for _, r := range t.Rows {
		for j, c := range t.Schema {
			line[j] = format(r, c.Field)
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func format(r model.InteractionRecord, f model.Field) string {
	switch f {
	case model.FieldUser:
		return strconv.FormatInt(int64(r.UserID), 10)
	case model.FieldItem:
		return strconv.FormatInt(int64(r.ItemID), 10)
	case model.FieldRating:
		return strconv.FormatFloat(r.Rating, 'g', -1, 64)
	case model.FieldTimestamp:
		return strconv.FormatInt(r.Timestamp, 10)
	}
	return ""
}
