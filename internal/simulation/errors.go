package simulation

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDataset         = errors.New("dataset error")
	ErrPrediction      = errors.New("prediction failed")
	ErrStore           = errors.New("store error")
	ErrBusy            = errors.New("previous run has not exited yet")
)

// StepError wraps a fatal failure with the step it happened on.
type StepError struct {
	Index int
	Op    string // The operation that failed
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %s: %s", e.Index, e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsInvalidArgument returns true if the error is a rejected control argument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsDatasetError returns true if the error came from loading or reading a dataset.
func IsDatasetError(err error) bool {
	return errors.Is(err, ErrDataset)
}
