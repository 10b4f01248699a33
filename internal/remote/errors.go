package remote

import (
	"errors"
	"fmt"
)

// NotFoundError reports that a container or item does not exist on the remote
// service.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// UpstreamError reports that the remote service is unreachable, rate limited,
// or returned an unexpected status.
type UpstreamError struct {
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote service unavailable: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("remote service returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("remote service returned %d", e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ValidationError reports a malformed request rejected before or by the
// remote service.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func asNotFound(err error, target **NotFoundError) bool { return errors.As(err, target) }

func asUpstream(err error, target **UpstreamError) bool { return errors.As(err, target) }
