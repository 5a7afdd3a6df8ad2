package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/statefold/internal/ir"
)

var (
	// ErrFeedClosed is reported when a live feed ends while the projection
	// still depends on it.
	ErrFeedClosed = errors.New("event feed closed")

	// ErrOutOfOrder is reported when a feed delivers a block lower than one
	// it already delivered.
	ErrOutOfOrder = errors.New("event out of order")

	// ErrInvalidState is reported when a reducer returns a nil state or a
	// state the codec cannot encode.
	ErrInvalidState = errors.New("invalid state")

	// ErrClosed is returned by operations on a closed projection.
	ErrClosed = errors.New("projection closed")
)

// FoldError is a fatal projection failure.
//
// FoldError includes structured fields for diagnostics: the event that
// triggered the failure (when there is one) and the wrapped cause.
type FoldError struct {
	// Code identifies the error category.
	Code FoldErrorCode

	// Message is a human-readable description.
	Message string

	// BlockNumber of the offending event, if any.
	BlockNumber uint64

	// Event is the identity of the offending event, if any.
	Event *ir.Key

	// Err is the underlying cause.
	Err error
}

// FoldErrorCode categorizes fold failures.
type FoldErrorCode string

const (
	// ErrCodeReducerFailed indicates the reducer returned an error or panicked.
	ErrCodeReducerFailed FoldErrorCode = "REDUCER_FAILED"

	// ErrCodeInvalidState indicates the reducer produced an unusable state.
	ErrCodeInvalidState FoldErrorCode = "INVALID_STATE"

	// ErrCodeOutOfOrder indicates a feed moved backwards.
	ErrCodeOutOfOrder FoldErrorCode = "OUT_OF_ORDER"

	// ErrCodeFeedFailed indicates a live feed errored or closed.
	ErrCodeFeedFailed FoldErrorCode = "FEED_FAILED"

	// ErrCodeBootstrapFailed indicates the chain height or past events could
	// not be read.
	ErrCodeBootstrapFailed FoldErrorCode = "BOOTSTRAP_FAILED"
)

// Error implements the error interface.
func (e *FoldError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Event != nil {
		msg = fmt.Sprintf("%s (event=%s)", msg, e.Event)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *FoldError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code FoldErrorCode) bool {
	var fe *FoldError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// IsReducerError reports whether err is a reducer failure.
// Uses errors.As to handle wrapped errors.
func IsReducerError(err error) bool {
	return hasCode(err, ErrCodeReducerFailed)
}

// IsInvalidStateError reports whether err is an invalid-state failure.
func IsInvalidStateError(err error) bool {
	return hasCode(err, ErrCodeInvalidState)
}

// IsOutOfOrderError reports whether err is an ordering failure.
func IsOutOfOrderError(err error) bool {
	return hasCode(err, ErrCodeOutOfOrder)
}

// IsFeedError reports whether err is a live feed failure.
func IsFeedError(err error) bool {
	return hasCode(err, ErrCodeFeedFailed)
}

// IsBootstrapError reports whether err happened before replay finished.
func IsBootstrapError(err error) bool {
	return hasCode(err, ErrCodeBootstrapFailed)
}

func eventKey(ev ir.Event) *ir.Key {
	k := ev.Key()
	return &k
}

// NewReducerError creates a FoldError for a failed reducer call.
func NewReducerError(ev ir.Event, err error) *FoldError {
	return &FoldError{
		Code:        ErrCodeReducerFailed,
		Message:     fmt.Sprintf("reducer failed on %q", ev.Name),
		BlockNumber: ev.BlockNumber,
		Event:       eventKey(ev),
		Err:         err,
	}
}

// NewInvalidStateError creates a FoldError for an unusable reducer result.
func NewInvalidStateError(ev ir.Event, err error) *FoldError {
	return &FoldError{
		Code:        ErrCodeInvalidState,
		Message:     fmt.Sprintf("reducer returned invalid state for %q", ev.Name),
		BlockNumber: ev.BlockNumber,
		Event:       eventKey(ev),
		Err:         err,
	}
}

// NewOutOfOrderError creates a FoldError for a feed that moved backwards.
func NewOutOfOrderError(ev ir.Event, last uint64) *FoldError {
	return &FoldError{
		Code:        ErrCodeOutOfOrder,
		Message:     fmt.Sprintf("block %d after block %d", ev.BlockNumber, last),
		BlockNumber: ev.BlockNumber,
		Event:       eventKey(ev),
		Err:         ErrOutOfOrder,
	}
}

// NewFeedError creates a FoldError for a failed live feed.
func NewFeedError(source string, err error) *FoldError {
	return &FoldError{
		Code:    ErrCodeFeedFailed,
		Message: fmt.Sprintf("feed %s failed", source),
		Err:     err,
	}
}

// NewBootstrapError creates a FoldError for a failed bootstrap step.
func NewBootstrapError(step string, err error) *FoldError {
	return &FoldError{
		Code:    ErrCodeBootstrapFailed,
		Message: step,
		Err:     err,
	}
}
