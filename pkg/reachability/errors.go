package reachability

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnavailable matches every *UnavailableError via errors.Is
var ErrUnavailable = errors.New("reachability server not reached")

// UpstreamError is returned when the API answers with a non-200 status
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("reachability API returned %d: %s", e.Status, e.Message)
}

// UnavailableError is returned when the API could not be reached or its
// response could not be read
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return ErrUnavailable.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func unavailable(cause error) error {
	return &UnavailableError{Cause: cause}
}
