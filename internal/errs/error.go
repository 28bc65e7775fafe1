package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("already reviewed")
	ErrForbidden = errors.New("forbidden")
	ErrBadQuery  = errors.New("query is required")
)

// UpstreamError carries the status reported by the external catalog. It is
// transient: callers must not treat it as a permanent absence.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("catalog upstream failure: status %d", e.Status)
}

func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
