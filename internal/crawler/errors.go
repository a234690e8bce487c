package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEgress is returned when every proxy in the pool is banned.
	ErrNoEgress = errors.New("no egress available")
	// ErrRetryBudgetExhausted marks a transient failure that ran out of retries.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	// ErrDisallowed is returned when robots.txt forbids the request.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// FetchErrorKind distinguishes retryable from terminal fetch failures.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchTransient FetchErrorKind = "transient"
	FetchTerminal  FetchErrorKind = "terminal"
)

// FetchError describes a failed fetch for one work item.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s fetch error for %s", e.Kind, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewTransientError builds a retryable FetchError.
func NewTransientError(url string, status int, err error) *FetchError {
	return &FetchError{Kind: FetchTransient, URL: url, StatusCode: status, Err: err}
}

// NewTerminalError builds a non-retryable FetchError.
func NewTerminalError(url string, status int, err error) *FetchError {
	return &FetchError{Kind: FetchTerminal, URL: url, StatusCode: status, Err: err}
}

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchTransient
}

// IsTerminal reports whether err is a terminal fetch failure.
func IsTerminal(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == FetchTerminal
}

// ExtractionError wraps an adapter-side parse failure.
type ExtractionError struct {
	ItemID string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.ItemID, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsExtraction reports whether err is an ExtractionError.
func IsExtraction(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}

// StorageError marks a durable-state write or read failure. Once returned the
// run can no longer guarantee resume consistency.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err as a StorageError for op.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
