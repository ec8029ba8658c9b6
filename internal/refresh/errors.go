package refresh

import (
	"errors"
)

// ErrNoCredential is returned by Refresh when nothing is stored. No request
// is made and no event is published.
var ErrNoCredential = errors.New("no credential to refresh")

// FailedError is returned when a refresh attempt ended the session: the
// store has been cleared and RefreshFailed published. Err is the api error
// (transport, rejected, malformed) or the store error that caused it.
type FailedError struct {
	Err error
}

// Error implements the error interface for FailedError.
func (e *FailedError) Error() string {
	return "session refresh failed: " + e.Err.Error()
}

// Unwrap returns the cause.
func (e *FailedError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err means the session is gone and the user has
// to sign in again. A caller that merely stopped waiting (context ended)
// gets a non-terminal error; the refresh itself carries on.
func IsTerminal(err error) bool {
	var failed *FailedError
	return errors.As(err, &failed)
}
