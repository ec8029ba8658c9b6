package api

import (
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"refsession/pkg/logging"
)

// AuthorizedTransport injects the session's bearer token into outgoing
// requests and performs a lazy refresh when the server answers 401: the
// response is discarded, the session is refreshed through the Refresher
// and the request is retried once with the new token.
//
// A 401 is authoritative over any locally cached idea of token validity.
// Requests whose body cannot be replayed are not retried, and neither are
// 401s whose WWW-Authenticate challenge a new bearer token cannot answer.
type AuthorizedTransport struct {
	// Source supplies the bearer token. Usually a *TokenSource.
	Source oauth2.TokenSource

	// Refresher is called on 401.
	Refresher Refresher

	// Base is the underlying transport. Defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// NewAuthorizedTransport creates a transport backed by source.
func NewAuthorizedTransport(source oauth2.TokenSource, refresher Refresher, base http.RoundTripper) *AuthorizedTransport {
	return &AuthorizedTransport{Source: source, Refresher: refresher, Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *AuthorizedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	inner := &oauth2.Transport{Source: t.Source, Base: t.base()}

	resp, err := inner.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || t.Refresher == nil {
		return resp, nil
	}

	challenge := challengeFrom(resp)
	if !challenge.Refreshable() {
		logging.Debug("AuthTransport", "401 from %s (%s), not refreshing", req.URL.Redacted(), challenge)
		return resp, nil
	}

	retry, ok := rewind(req)
	if !ok {
		logging.Debug("AuthTransport", "401 from %s, body not replayable, not retrying", req.URL.Redacted())
		return resp, nil
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()

	logging.Info("AuthTransport", "401 from %s (%s), refreshing session", req.URL.Redacted(), challenge)
	if _, err := t.Refresher.Refresh(req.Context()); err != nil {
		return nil, fmt.Errorf("request unauthorized and session refresh failed: %w", err)
	}

	return inner.RoundTrip(retry)
}

func (t *AuthorizedTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// rewind returns a copy of req with a fresh body for a retry.
func rewind(req *http.Request) (*http.Request, bool) {
	retry := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return retry, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	retry.Body = body
	return retry, true
}
