package events

import (
	"fmt"
	"time"

	"refsession/internal/credential"
)

// Kind identifies a session event.
type Kind string

const (
	// KindRefreshed indicates a new credential was stored, either by this
	// process's refresh or by another context.
	KindRefreshed Kind = "Refreshed"

	// KindExpiringSoon indicates the access token is inside the refresh
	// threshold.
	KindExpiringSoon Kind = "ExpiringSoon"

	// KindExpired indicates the stored access token is unusable.
	KindExpired Kind = "Expired"

	// KindRefreshFailed indicates a refresh attempt failed and the session was
	// cleared.
	KindRefreshFailed Kind = "RefreshFailed"

	// KindSignedOutElsewhere indicates another context cleared the shared
	// session.
	KindSignedOutElsewhere Kind = "SignedOutElsewhere"
)

// IsTerminal reports whether the event ends the session.
func (k Kind) IsTerminal() bool {
	switch k {
	case KindExpired, KindRefreshFailed, KindSignedOutElsewhere:
		return true
	}
	return false
}

// Event is a transient session notification. Only the fields relevant to
// Kind are set.
type Event struct {
	ID   string
	Kind Kind
	Time time.Time

	// Credential is the newly stored pair (Refreshed).
	Credential *credential.Credential

	// RemainingSeconds is the access token's remaining lifetime
	// (ExpiringSoon).
	RemainingSeconds int64

	// Reason describes why the session ended (Expired, RefreshFailed).
	Reason string

	// Err is the refresh error (RefreshFailed).
	Err error

	// Origin is the id of the store instance that caused the event when it
	// came from another context.
	Origin string
}

// Refreshed creates a Refreshed event.
func Refreshed(c *credential.Credential) Event {
	return Event{Kind: KindRefreshed, Credential: c.Clone()}
}

// ExpiringSoon creates an ExpiringSoon event.
func ExpiringSoon(remainingSeconds int64) Event {
	return Event{Kind: KindExpiringSoon, RemainingSeconds: remainingSeconds}
}

// Expired creates an Expired event.
func Expired(reason string) Event {
	return Event{Kind: KindExpired, Reason: reason}
}

// RefreshFailed creates a RefreshFailed event carrying err.
func RefreshFailed(err error) Event {
	e := Event{Kind: KindRefreshFailed, Err: err}
	if err != nil {
		e.Reason = err.Error()
	}
	return e
}

// SignedOutElsewhere creates a SignedOutElsewhere event.
func SignedOutElsewhere(origin string) Event {
	return Event{Kind: KindSignedOutElsewhere, Origin: origin, Reason: "signed out in another session"}
}

// Remaining returns RemainingSeconds as a duration.
func (e Event) Remaining() time.Duration {
	return time.Duration(e.RemainingSeconds) * time.Second
}

func (e Event) String() string {
	switch e.Kind {
	case KindExpiringSoon:
		return fmt.Sprintf("%s(%ds)", e.Kind, e.RemainingSeconds)
	case KindExpired, KindRefreshFailed:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Reason)
	default:
		return string(e.Kind)
	}
}
