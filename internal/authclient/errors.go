package authclient

import (
	"errors"
	"fmt"
)

// ErrNoRefreshToken indicates a refresh was requested while no refresh
// token exists. No network call is made; the session is cleared.
var ErrNoRefreshToken = errors.New("no refresh token available")

// RefreshRejectedError indicates the refresh call failed, either on the
// network or because the backend rejected the refresh token. The session
// has been cleared by the time this is returned.
type RefreshRejectedError struct {
	Status int // 0 when the failure was a transport error
	Err    error
}

func (e *RefreshRejectedError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("refresh rejected with status %d", e.Status)
	}
	return fmt.Sprintf("refresh failed: %v", e.Err)
}

func (e *RefreshRejectedError) Unwrap() error { return e.Err }

// RequestError indicates a non-2xx response outside the auth-retry path.
// Recovered per call; never clears the session on its own.
type RequestError struct {
	Method string
	Path   string
	Status int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.Status)
}
