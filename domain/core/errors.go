package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Matching errors
	ErrAlignment  = errors.New("streams cannot be aligned")
	ErrInputOrder = errors.New("event stream is not time-sorted")

	// Statistic errors
	ErrInsufficientData = errors.New("insufficient data for analysis")

	// Resampling errors
	ErrResamplingWorker = errors.New("resampling worker failed")

	// Aggregation errors
	ErrNoMatch = errors.New("pattern matched no inputs")

	// Lookup errors
	ErrNotFound    = errors.New("resource not found")
	ErrRunNotFound = fmt.Errorf("%w: run", ErrNotFound)
)

// InputOrderError pinpoints the first out-of-order event of a stream.
type InputOrderError struct {
	Station string
	Index   int
	Prev    int64
	Next    int64
}

func (e *InputOrderError) Error() string {
	return fmt.Sprintf("%v: station %s event %d at %d precedes %d",
		ErrInputOrder, e.Station, e.Index, e.Next, e.Prev)
}

func (e *InputOrderError) Unwrap() error { return ErrInputOrder }

// ResamplingWorkerError reports the shard and draw that aborted a resampling run.
type ResamplingWorkerError struct {
	Shard int
	Draw  int
	Err   error
}

func (e *ResamplingWorkerError) Error() string {
	return fmt.Sprintf("%v: shard %d draw %d: %v", ErrResamplingWorker, e.Shard, e.Draw, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is.
func (e *ResamplingWorkerError) Unwrap() []error {
	return []error{ErrResamplingWorker, e.Err}
}

// NumericDegeneracyWarning marks a statistic that evaluated to NaN because a
// normalizing term was zero. It is recorded in results, never returned as an error.
type NumericDegeneracyWarning struct {
	Statistic string
	Reason    string
}

func (w NumericDegeneracyWarning) String() string {
	return fmt.Sprintf("numeric degeneracy in %s: %s", w.Statistic, w.Reason)
}

// Error constructors with context
func NewAlignmentError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAlignment, fmt.Sprintf(format, args...))
}

func NewInsufficientDataError(statistic string, have, need int) error {
	return fmt.Errorf("%w: %s needs at least %d trials, have %d", ErrInsufficientData, statistic, need, have)
}

func NewNoMatchError(pattern string) error {
	return fmt.Errorf("%w: %q", ErrNoMatch, pattern)
}

func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}

// Error checking helpers
func IsMatchingError(err error) bool {
	return errors.Is(err, ErrAlignment) || errors.Is(err, ErrInputOrder)
}

func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

func IsWorkerError(err error) bool {
	return errors.Is(err, ErrResamplingWorker)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
