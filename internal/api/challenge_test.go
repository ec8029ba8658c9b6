package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChallenge(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   *Challenge
	}{
		{
			name:   "empty",
			header: "  ",
			want:   nil,
		},
		{
			name:   "scheme only",
			header: "Bearer",
			want:   &Challenge{Scheme: "Bearer"},
		},
		{
			name:   "rfc 6750 error",
			header: `Bearer realm="portal", error="invalid_token", error_description="Token is expired"`,
			want:   &Challenge{Scheme: "Bearer", Realm: "portal", Error: "invalid_token", ErrorDescription: "Token is expired"},
		},
		{
			name:   "parameter names are case insensitive",
			header: `Bearer Realm="portal", ERROR="insufficient_scope"`,
			want:   &Challenge{Scheme: "Bearer", Realm: "portal", Error: "insufficient_scope"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseChallenge(tt.header))
		})
	}
}

func TestChallenge_String(t *testing.T) {
	var missing *Challenge
	assert.Equal(t, "no challenge", missing.String())
	assert.Equal(t, "Bearer invalid_token: Token is expired", ParseChallenge(`Bearer error="invalid_token", error_description="Token is expired"`).String())
	assert.Equal(t, "Basic", ParseChallenge(`Basic realm="x"`).String())
}
