package api

import (
	"refsession/internal/credential"
)

// loginRequest is the body of POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the body returned by POST /auth/login.
type loginResponse struct {
	Access  string                   `json:"access"`
	Refresh string                   `json:"refresh"`
	User    *credential.UserSnapshot `json:"user"`
}

// refreshRequest is the body of POST /auth/refresh and POST /auth/logout.
type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResult is the body returned by POST /auth/refresh. Refresh is empty
// when the server does not rotate refresh tokens.
type RefreshResult struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// errorResponse covers the error body shapes the auth server uses.
type errorResponse struct {
	Detail  string `json:"detail"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e errorResponse) text() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Error != "":
		return e.Error
	default:
		return e.Message
	}
}
