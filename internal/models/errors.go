package models

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector length disagrees with the collection dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrCorruptRecord is returned when a stored record cannot be decoded into a well-formed embedding.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrProvider wraps embedding and generation provider failures.
	ErrProvider = errors.New("provider error")
	// ErrUninitializedIndex is returned when an index is used before Initialize.
	ErrUninitializedIndex = errors.New("index not initialized")
	// ErrIndexInitialized is returned when Initialize is called on an active index.
	ErrIndexInitialized = errors.New("index already initialized")
	// ErrDuplicateID is returned when an id is inserted into an index twice.
	ErrDuplicateID = errors.New("duplicate id")
)

// DimensionMismatchError carries the expected and actual vector lengths.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CheckDimension returns a *DimensionMismatchError when len(vec) != expected.
func CheckDimension(vec []float32, expected int) error {
	if len(vec) != expected {
		return &DimensionMismatchError{Expected: expected, Actual: len(vec)}
	}
	return nil
}

// CorruptRecordError identifies the stored record that failed validation.
type CorruptRecordError struct {
	ID     uint64
	Reason string
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %d: %s", e.ID, e.Reason)
}

// Is makes errors.Is(err, ErrCorruptRecord) match.
func (e *CorruptRecordError) Is(target error) bool {
	return target == ErrCorruptRecord
}

// ProviderError wraps err so that both ErrProvider and the original error match errors.Is.
func ProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
}
