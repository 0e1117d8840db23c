package split

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package.
var (
	ErrTemporalLeakage = errors.New("temporal leakage between train and test")
	ErrEmptyResult     = errors.New("split produced an empty result")
	ErrInvalidOptions  = errors.New("invalid split options")
)

// Steps at which a split can run out of rows.
const (
	StepPartitionTrain = "partition_train"
	StepPartitionTest  = "partition_test"
	StepWarmTrain      = "warm_train"
	StepTestItems      = "test_items"
	StepTestUsers      = "test_users"
)

// LeakageError reports that the latest training timestamp is not strictly
// before the earliest test timestamp.
type LeakageError struct {
	TrainMax int64
	TestMin  int64
}

func (e *LeakageError) Error() string {
	return fmt.Sprintf("%s: max train time %d >= min test time %d", ErrTemporalLeakage, e.TrainMax, e.TestMin)
}

// Is matches ErrTemporalLeakage.
func (e *LeakageError) Is(target error) bool { return target == ErrTemporalLeakage }

// EmptyResultError reports the filtering step that removed every row.
type EmptyResultError struct {
	Step string
	// Threshold is the time threshold the log was partitioned on.
	Threshold int64
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("%s at step %s (threshold %d)", ErrEmptyResult, e.Step, e.Threshold)
}

// Is matches ErrEmptyResult.
func (e *EmptyResultError) Is(target error) bool { return target == ErrEmptyResult }
