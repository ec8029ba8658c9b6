package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestDecode_FutureExpiry(t *testing.T) {
	codec := NewCodec(WithClock(fixedClock))

	for _, ttl := range []time.Duration{time.Second, 2 * time.Minute, time.Hour, 48 * time.Hour} {
		raw := signToken(t, jwt.MapClaims{
			"sub": "referee-42",
			"iat": testNow.Unix(),
			"exp": testNow.Add(ttl).Unix(),
		})

		d := codec.Decode(raw)
		assert.True(t, d.Valid, "ttl %s", ttl)
		assert.False(t, d.IsExpired, "ttl %s", ttl)
		assert.Greater(t, d.RemainingSeconds, int64(0), "ttl %s", ttl)
		assert.Equal(t, int64(ttl/time.Second), d.RemainingSeconds)
		assert.Equal(t, "referee-42", d.Subject)
		assert.Equal(t, "HS256", d.Algorithm)
	}
}

func TestDecode_PastExpiry(t *testing.T) {
	codec := NewCodec(WithClock(fixedClock))

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"one second ago", jwt.MapClaims{"sub": "a", "exp": testNow.Add(-time.Second).Unix()}},
		{"exactly now", jwt.MapClaims{"sub": "a", "exp": testNow.Unix()}},
		{"no subject", jwt.MapClaims{"exp": testNow.Add(-time.Hour).Unix()}},
		{"iat in the future", jwt.MapClaims{"sub": "a", "iat": testNow.Add(time.Hour).Unix(), "exp": testNow.Add(-time.Minute).Unix()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := codec.Decode(signToken(t, tt.claims))
			assert.True(t, d.IsExpired)
			assert.LessOrEqual(t, d.RemainingSeconds, int64(0))
		})
	}
}

func TestDecode_MalformedNeverPanics(t *testing.T) {
	codec := NewCodec(WithClock(fixedClock))
	valid := signToken(t, jwt.MapClaims{"sub": "a", "exp": testNow.Add(time.Hour).Unix()})
	parts := strings.Split(valid, ".")

	tests := []struct {
		name  string
		raw   string
		issue string
	}{
		{"empty", "", "token is empty"},
		{"one segment", parts[0], "expected 3 dot-separated segments, found 1"},
		{"two segments", parts[0] + "." + parts[1], "expected 3 dot-separated segments, found 2"},
		{"four segments", valid + ".extra", "expected 3 dot-separated segments, found 4"},
		{"missing header", "." + parts[1] + "." + parts[2], "missing header segment"},
		{"bad base64 payload", parts[0] + ".!!!." + parts[2], "payload segment is not valid base64url"},
		{"payload not json", parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte("[1,2]")) + "." + parts[2], "payload segment is not a JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Decoded
			require.NotPanics(t, func() { d = codec.Decode(tt.raw) })
			assert.NotEmpty(t, d.StructuralIssues)
			assert.Contains(t, d.StructuralIssues, tt.issue)
			assert.False(t, d.Valid)
			assert.True(t, d.IsExpired)
			assert.Zero(t, d.RemainingSeconds)
			assert.Zero(t, d.ExpiryEpochSeconds)
			assert.Error(t, d.Err())
		})
	}
}

func TestDecode_MissingExpiry(t *testing.T) {
	codec := NewCodec(WithClock(fixedClock))
	d := codec.Decode(signToken(t, jwt.MapClaims{"sub": "a"}))

	assert.False(t, d.Valid)
	assert.True(t, d.IsExpired)
	assert.Contains(t, d.StructuralIssues, "missing exp claim")
	assert.Equal(t, "a", d.Subject)
}

func TestDecode_Diagnostics(t *testing.T) {
	codec := NewCodec(
		WithClock(fixedClock),
		WithExpectedLifetime(24*time.Hour),
		WithSkewTolerance(5*time.Minute),
		WithAllowedAlgorithms("HS256", "RS256"),
	)

	t.Run("short lifetime is diagnostic only", func(t *testing.T) {
		d := codec.Decode(signToken(t, jwt.MapClaims{
			"sub": "a",
			"iat": testNow.Unix(),
			"exp": testNow.Add(5 * time.Minute).Unix(),
		}))
		assert.True(t, d.Valid)
		assert.False(t, d.IsExpired)
		require.Len(t, d.StructuralIssues, 1)
		assert.Contains(t, d.StructuralIssues[0], "far short of the expected 24h0m0s")
	})

	t.Run("iat skew beyond tolerance", func(t *testing.T) {
		d := codec.Decode(signToken(t, jwt.MapClaims{
			"sub": "a",
			"iat": testNow.Add(10 * time.Minute).Unix(),
			"exp": testNow.Add(24 * time.Hour).Unix(),
		}))
		assert.True(t, d.Valid)
		require.Len(t, d.StructuralIssues, 1)
		assert.Contains(t, d.StructuralIssues[0], "issued-at is 10m0s in the future")
	})

	t.Run("iat skew within tolerance", func(t *testing.T) {
		d := codec.Decode(signToken(t, jwt.MapClaims{
			"sub": "a",
			"iat": testNow.Add(2 * time.Minute).Unix(),
			"exp": testNow.Add(24 * time.Hour).Unix(),
		}))
		assert.Empty(t, d.StructuralIssues)
	})

	t.Run("user_id claim counts as subject", func(t *testing.T) {
		d := codec.Decode(signToken(t, jwt.MapClaims{
			"user_id": 17,
			"exp":     testNow.Add(time.Hour).Unix(),
		}))
		assert.Equal(t, "17", d.Subject)
		assert.NotContains(t, d.StructuralIssues, "missing subject/user-id claim")
	})

	t.Run("algorithm outside allowed set", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "a", "exp": testNow.Add(time.Hour).Unix()})
		raw, err := tok.SignedString([]byte("k"))
		require.NoError(t, err)

		d := codec.Decode(raw)
		assert.True(t, d.Valid)
		assert.Contains(t, d.StructuralIssues, `anomalous algorithm "HS512"`)
	})

	t.Run("alg none", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "a", "exp": testNow.Add(time.Hour).Unix()})
		raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		d := codec.Decode(raw)
		assert.True(t, d.Valid)
		assert.Contains(t, d.StructuralIssues, `anomalous algorithm "none"`)
		assert.Contains(t, d.StructuralIssues, "missing signature segment")
	})
}

func TestDecode_RemainingIsRelativeToNow(t *testing.T) {
	now := testNow
	codec := NewCodec(WithClock(func() time.Time { return now }))
	raw := signToken(t, jwt.MapClaims{"sub": "a", "exp": testNow.Add(10 * time.Minute).Unix()})

	first := codec.Decode(raw)
	now = now.Add(4 * time.Minute)
	second := codec.Decode(raw)

	assert.Equal(t, int64(600), first.RemainingSeconds)
	assert.Equal(t, int64(360), second.RemainingSeconds)
	assert.Equal(t, 6*time.Minute, second.Remaining())
	assert.Equal(t, testNow.Add(10*time.Minute).Unix(), second.ExpiresAt().Unix())
}
