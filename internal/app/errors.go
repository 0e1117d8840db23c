package service

import (
	"errors"
	"fmt"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrInvalidRequest = errors.New("invalid request")
)

// BatchError identifies the batch entry that aborted an EvaluateBatch call.
type BatchError struct {
	Index int
	Label string
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch entry %d (%q): %v", e.Index, e.Label, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
