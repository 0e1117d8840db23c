package model

import (
	"fmt"
	"strings"
)

// Field identifies one attribute of an InteractionRecord.
type Field int

// Known record fields.
const (
	FieldUser Field = iota + 1
	FieldItem
	FieldRating
	FieldTimestamp
)

// Default column names used when a log does not declare its own.
const (
	ColumnUser      = "user_id"
	ColumnItem      = "item_id"
	ColumnRating    = "rating"
	ColumnTimestamp = "timestamp"
)

func (f Field) String() string {
	switch f {
	case FieldUser:
		return "user"
	case FieldItem:
		return "item"
	case FieldRating:
		return "rating"
	case FieldTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// InteractionRecord is one row of the raw interaction log.
type InteractionRecord struct {
	UserID    UserID
	ItemID    ItemID
	Rating    float64
	Timestamp int64 // unix seconds
}

// Value returns the numeric value of field f.
func (r InteractionRecord) Value(f Field) float64 {
	switch f {
	case FieldUser:
		return float64(r.UserID)
	case FieldItem:
		return float64(r.ItemID)
	case FieldRating:
		return r.Rating
	case FieldTimestamp:
		return float64(r.Timestamp)
	default:
		return 0
	}
}

// Column binds a column name to the record field it carries.
type Column struct {
	Name  string
	Field Field
}

// Schema is the ordered list of columns a table exposes.
type Schema []Column

// DefaultSchema returns the four standard columns.
func DefaultSchema() Schema {
	return Schema{
		{Name: ColumnUser, Field: FieldUser},
		{Name: ColumnItem, Field: FieldItem},
		{Name: ColumnRating, Field: FieldRating},
		{Name: ColumnTimestamp, Field: FieldTimestamp},
	}
}

// NewSchema validates that names and fields are unique and non-empty.
func NewSchema(cols ...Column) (Schema, error) {
	names := make(map[string]struct{}, len(cols))
	fields := make(map[Field]struct{}, len(cols))
	out := make(Schema, 0, len(cols))
	for _, c := range cols {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, &SchemaError{Column: c.Name, Reason: "empty column name"}
		}
		if c.Field < FieldUser || c.Field > FieldTimestamp {
			return nil, &SchemaError{Column: name, Reason: "unknown field " + c.Field.String()}
		}
		if _, dup := names[name]; dup {
			return nil, &SchemaError{Column: name, Reason: "duplicate column"}
		}
		if _, dup := fields[c.Field]; dup {
			return nil, &SchemaError{Column: name, Reason: "field " + c.Field.String() + " bound twice"}
		}
		names[name] = struct{}{}
		fields[c.Field] = struct{}{}
		out = append(out, Column{Name: name, Field: c.Field})
	}
	return out, nil
}

// Lookup resolves a column name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Require resolves name and checks that it carries field want.
func (s Schema) Require(name string, want Field) (Column, error) {
	c, ok := s.Lookup(name)
	if !ok {
		return Column{}, &SchemaError{Column: name, Reason: "column not found"}
	}
	if c.Field != want {
		return Column{}, &SchemaError{Column: name, Reason: fmt.Sprintf("column carries %s, expected %s", c.Field, want)}
	}
	return c, nil
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Has reports whether f is exposed by the schema.
func (s Schema) Has(f Field) bool {
	for _, c := range s {
		if c.Field == f {
			return true
		}
	}
	return false
}

// Project returns the sub-schema named by cols, in the order given.
func (s Schema) Project(cols []string) (Schema, error) {
	out := make(Schema, 0, len(cols))
	seen := make(map[string]struct{}, len(cols))
	for _, name := range cols {
		c, ok := s.Lookup(name)
		if !ok {
			return nil, &SchemaError{Column: name, Reason: "column not found"}
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// Table is an in-memory interaction log. Fields not exposed by Schema hold
// their zero value.
type Table struct {
	Schema Schema
	Rows   []InteractionRecord
}

// NewTable builds a table over the default schema.
func NewTable(rows []InteractionRecord) Table {
	return Table{Schema: DefaultSchema(), Rows: rows}
}

// Len returns the row count.
func (t Table) Len() int { return len(t.Rows) }

// Project returns a copy of t restricted to schema; dropped fields are zeroed.
func (t Table) Project(schema Schema) Table {
	out := Table{Schema: schema, Rows: make([]InteractionRecord, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = project(r, schema)
	}
	return out
}

func project(r InteractionRecord, schema Schema) InteractionRecord {
	var out InteractionRecord
	for _, c := range schema {
		switch c.Field {
		case FieldUser:
			out.UserID = r.UserID
		case FieldItem:
			out.ItemID = r.ItemID
		case FieldRating:
			out.Rating = r.Rating
		case FieldTimestamp:
			out.Timestamp = r.Timestamp
		}
	}
	return out
}

// Row renders record i as a column-name keyed map limited to the schema.
func (t Table) Row(i int) map[string]any {
	r := t.Rows[i]
	m := make(map[string]any, len(t.Schema))
	for _, c := range t.Schema {
		switch c.Field {
		case FieldUser:
			m[c.Name] = int64(r.UserID)
		case FieldItem:
			m[c.Name] = int64(r.ItemID)
		case FieldRating:
			m[c.Name] = r.Rating
		case FieldTimestamp:
			m[c.Name] = r.Timestamp
		}
	}
	return m
}
