package waas

import (
	"errors"
	"fmt"

	"github.com/0xfutbol/id/core"
)

// ErrUnavailable reports a timeout or transport failure. Callers may retry.
var ErrUnavailable = errors.New("waas unavailable")

// RemoteError is a non-2xx answer from the WaaS backend.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("waas returned status %d: %s", e.Status, e.Body)
}

// Unwrap lets callers match remote failures with core.ErrRemoteService.
func (e *RemoteError) Unwrap() error {
	return core.ErrRemoteService
}
