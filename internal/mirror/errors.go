package mirror

import (
	"errors"
	"fmt"

	"mirror-engine/pkg/types"
)

// KindError wraps an error with one of the taxonomy kinds from the error
// handling design. Handlers and the classifier return these instead of ad
// hoc error values so the engine loop can decide, by kind alone, whether to
// notify and how to record the ProcessedMarker.
type KindError struct {
	Kind types.ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// NewKindError wraps err (which may be nil) under kind.
func NewKindError(kind types.ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind carried by err, defaulting to Internal when
// err does not wrap a *KindError.
func KindOf(err error) types.ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if err == nil {
		return ""
	}
	return types.ErrInternal
}

// ErrPositionIsZero is the well-known business reject recognized by the
// close-position recovery path in §4.5.
var ErrPositionIsZero = errors.New("position is zero")
