package model

import (
	"errors"
	"fmt"
)

// ErrSchema is the kind of every SchemaError.
var ErrSchema = errors.New("schema error")

// SchemaError reports a missing or misbound column.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: column %q: %s", e.Column, e.Reason)
}

// Is matches ErrSchema.
func (e *SchemaError) Is(target error) bool { return target == ErrSchema }
