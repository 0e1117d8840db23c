package repository

import (
	"errors"
	"fmt"
)

// Sentinel kinds for experiment store errors.
var (
	ErrNotFound          = errors.New("experiment not found")
	ErrHeaderMismatch    = errors.New("results table header mismatch")
	ErrInvalidExperiment = errors.New("invalid experiment")
)

func errDuplicateID(id string) error {
	return fmt.Errorf("%w: duplicate id %s", ErrInvalidExperiment, id)
}
