package api

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"refsession/internal/credential"
	"refsession/internal/token"
)

// ErrNotAuthenticated is returned when no credential is stored.
var ErrNotAuthenticated = errors.New("not authenticated")

// CredentialSource reads the current credential. credential.Store satisfies
// it.
type CredentialSource interface {
	Get(ctx context.Context) (*credential.Credential, error)
}

// Refresher performs a coordinated refresh and returns the new credential.
type Refresher interface {
	Refresh(ctx context.Context) (*credential.Credential, error)
}

// TokenSource adapts the stored credential to oauth2.TokenSource so the
// session can be plugged into any oauth2-aware HTTP client. An access token
// whose exp has passed is refreshed through the Refresher before it is
// returned; a token without a usable exp is returned as is and left to the
// server to judge.
type TokenSource struct {
	ctx       context.Context
	source    CredentialSource
	refresher Refresher
	codec     *token.Codec
}

// NewTokenSource creates a TokenSource. ctx bounds the store reads and
// refresh calls made by Token.
func NewTokenSource(ctx context.Context, source CredentialSource, refresher Refresher, codec *token.Codec) *TokenSource {
	if codec == nil {
		codec = token.NewCodec()
	}
	return &TokenSource{ctx: ctx, source: source, refresher: refresher, codec: codec}
}

// Token implements oauth2.TokenSource.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	cred, err := ts.source.Get(ts.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	if cred == nil {
		return nil, ErrNotAuthenticated
	}

	decoded := ts.codec.Decode(cred.AccessToken)
	if decoded.Valid && decoded.IsExpired && ts.refresher != nil {
		cred, err = ts.refresher.Refresh(ts.ctx)
		if err != nil {
			return nil, err
		}
		decoded = ts.codec.Decode(cred.AccessToken)
	}

	return toOAuth2(cred, decoded), nil
}

func toOAuth2(cred *credential.Credential, decoded token.Decoded) *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
	}
	if decoded.Valid {
		t.Expiry = decoded.ExpiresAt()
	}
	return t
}
