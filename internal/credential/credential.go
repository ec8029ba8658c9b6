package credential

import (
	"context"
	"errors"
	"maps"
)

var (
	// ErrPartialCredential is returned by Set when only one of the two tokens
	// is present. A partial pair is never persisted.
	ErrPartialCredential = errors.New("credential must carry both access and refresh token")

	// ErrEmptyCredential is returned by Set when both tokens are empty; use
	// Clear to remove a session.
	ErrEmptyCredential = errors.New("credential is empty")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("credential store is closed")
)

// UserSnapshot is the cached profile of the signed-in user as returned by the
// login endpoint.
type UserSnapshot struct {
	ID        string                 `json:"id"`
	Username  string                 `json:"username"`
	Email     string                 `json:"email,omitempty"`
	FirstName string                 `json:"first_name,omitempty"`
	LastName  string                 `json:"last_name,omitempty"`
	Role      string                 `json:"role,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Credential is the access/refresh token pair plus the user snapshot.
type Credential struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserSnapshot `json:"user,omitempty"`
}

// Validate checks the both-or-neither invariant and rejects an empty pair.
func (c Credential) Validate() error {
	switch {
	case c.AccessToken == "" && c.RefreshToken == "":
		return ErrEmptyCredential
	case c.AccessToken == "" || c.RefreshToken == "":
		return ErrPartialCredential
	}
	return nil
}

// Clone returns a deep copy so callers never share a store's cached value.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	if c.User != nil {
		u := *c.User
		u.Extra = maps.Clone(c.User.Extra)
		out.User = &u
	}
	return &out
}

// Subject returns the best identifier of the user for logs.
func (c *Credential) Subject() string {
	if c == nil || c.User == nil {
		return ""
	}
	if c.User.Username != "" {
		return c.User.Username
	}
	return c.User.ID
}

// Change describes a modification made to the underlying storage by another
// execution context.
type Change struct {
	// Origin is the id of the store instance that made the change, when the
	// backend can tell.
	Origin string

	// Cleared is true when the access token was removed.
	Cleared bool

	// Credential is the new stored value when not Cleared.
	Credential *Credential
}

// ChangeListener receives external changes.
type ChangeListener func(Change)

// Store is the process-wide holder of the session credential.
//
// Get returns (nil, nil) when no credential is stored. Set is atomic: a later
// Get observes either the previous or the new pair, never a mix. Clear is
// idempotent. OnExternalChange listeners fire only for modifications made by
// a different store instance sharing the same storage.
type Store interface {
	Get(ctx context.Context) (*Credential, error)
	Set(ctx context.Context, c Credential) error
	Clear(ctx context.Context) error
	OnExternalChange(listener ChangeListener) (unsubscribe func())

	// Origin identifies this store instance among all contexts sharing the
	// storage.
	Origin() string

	Close() error
}
