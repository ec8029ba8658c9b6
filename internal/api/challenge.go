package api

import (
	"net/http"
	"regexp"
	"strings"
)

// Challenge is a parsed WWW-Authenticate header.
type Challenge struct {
	// Scheme is the authentication scheme, e.g. "Bearer".
	Scheme string
	Realm  string
	// Error is the RFC 6750 error code, e.g. "invalid_token".
	Error            string
	ErrorDescription string
}

var challengeParam = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseChallenge parses a WWW-Authenticate header value. It returns nil for
// an empty header.
//
//	Bearer realm="portal", error="invalid_token", error_description="Token is expired"
func ParseChallenge(header string) *Challenge {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	scheme, params, _ := strings.Cut(header, " ")
	c := &Challenge{Scheme: scheme}
	for _, match := range challengeParam.FindAllStringSubmatch(params, -1) {
		switch strings.ToLower(match[1]) {
		case "realm":
			c.Realm = match[2]
		case "error":
			c.Error = match[2]
		case "error_description":
			c.ErrorDescription = match[2]
		}
	}
	return c
}

// challengeFrom returns the challenge of a 401 response, or nil.
func challengeFrom(resp *http.Response) *Challenge {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return nil
	}
	return ParseChallenge(resp.Header.Get("WWW-Authenticate"))
}

// Refreshable reports whether a new bearer token can answer the challenge.
// A missing challenge counts as refreshable; the portal does not always
// send one.
func (c *Challenge) Refreshable() bool {
	if c == nil {
		return true
	}
	if !strings.EqualFold(c.Scheme, "Bearer") {
		return false
	}
	return c.Error == "" || c.Error == "invalid_token"
}

func (c *Challenge) String() string {
	if c == nil {
		return "no challenge"
	}
	switch {
	case c.ErrorDescription != "":
		return c.Scheme + " " + c.Error + ": " + c.ErrorDescription
	case c.Error != "":
		return c.Scheme + " " + c.Error
	default:
		return c.Scheme
	}
}
