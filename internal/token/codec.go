package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultExpectedLifetime is the issuance window assumed when judging
	// whether a token's lifetime looks anomalous.
	DefaultExpectedLifetime = 24 * time.Hour

	// DefaultSkewTolerance is how far in the future an iat claim may be
	// before it is reported as clock skew.
	DefaultSkewTolerance = 5 * time.Minute
)

// subjectClaims are checked in order when looking for the user identifier.
var subjectClaims = []string{"sub", "user_id", "uid"}

// Decoded is the structural view of a bearer token. It is derived on demand
// and never persisted.
type Decoded struct {
	Header  map[string]interface{}
	Payload map[string]interface{}

	ExpiryEpochSeconds   int64
	IssuedAtEpochSeconds int64

	// RemainingSeconds is ExpiryEpochSeconds minus the codec clock at decode time.
	RemainingSeconds int64
	IsExpired        bool

	// Valid reports that the token split into three segments, the header and
	// payload decoded, and an exp claim was found. Diagnostics such as clock
	// skew or a short lifetime never clear it.
	Valid bool

	Subject   string
	Algorithm string

	StructuralIssues []string
}

// Remaining returns RemainingSeconds as a duration.
func (d Decoded) Remaining() time.Duration {
	return time.Duration(d.RemainingSeconds) * time.Second
}

// ExpiresAt returns the exp claim as a time, or the zero time if absent.
func (d Decoded) ExpiresAt() time.Time {
	if d.ExpiryEpochSeconds == 0 {
		return time.Time{}
	}
	return time.Unix(d.ExpiryEpochSeconds, 0)
}

// Err returns the structural issues as a *StructuralError, or nil.
func (d Decoded) Err() error {
	if len(d.StructuralIssues) == 0 {
		return nil
	}
	return &StructuralError{Issues: append([]string(nil), d.StructuralIssues...)}
}

// StructuralError carries the diagnostics of a token that did not decode
// cleanly. Decode never returns it; Decoded.Err builds it for logging.
type StructuralError struct {
	Issues []string
}

func (e *StructuralError) Error() string {
	return "token structure: " + strings.Join(e.Issues, "; ")
}

// Codec decodes bearer tokens without verifying their signature. It is safe
// for concurrent use.
type Codec struct {
	now              func() time.Time
	expectedLifetime time.Duration
	skewTolerance    time.Duration
	allowedAlgs      map[string]bool
	parser           *jwt.Parser
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// WithExpectedLifetime sets the issuance window used for the lifetime
// diagnostic. Zero disables the check.
func WithExpectedLifetime(d time.Duration) Option {
	return func(c *Codec) {
		c.expectedLifetime = d
	}
}

// WithSkewTolerance sets how far in the future iat may lie.
func WithSkewTolerance(d time.Duration) Option {
	return func(c *Codec) {
		c.skewTolerance = d
	}
}

// WithAllowedAlgorithms restricts the alg header values considered normal.
// An empty list accepts any algorithm except "none".
func WithAllowedAlgorithms(algs ...string) Option {
	return func(c *Codec) {
		c.allowedAlgs = make(map[string]bool, len(algs))
		for _, alg := range algs {
			c.allowedAlgs[strings.ToUpper(alg)] = true
		}
	}
}

// NewCodec creates a codec with the given options.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		now:              time.Now,
		expectedLifetime: DefaultExpectedLifetime,
		skewTolerance:    DefaultSkewTolerance,
		parser:           jwt.NewParser(jwt.WithJSONNumber()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Decode inspects raw and reports its structure. It never panics, never
// performs I/O and never checks the signature.
func (c *Codec) Decode(raw string) Decoded {
	d := Decoded{IsExpired: true}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.StructuralIssues = append(d.StructuralIssues, "token is empty")
		return d
	}

	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		d.StructuralIssues = append(d.StructuralIssues,
			fmt.Sprintf("expected 3 dot-separated segments, found %d", len(segments)))
		return d
	}

	parsed, _, err := c.parser.ParseUnverified(raw, jwt.MapClaims{})
	// An unknown or missing alg leaves header and claims populated; that is
	// reported by checkAlgorithm rather than treated as undecodable.
	if err != nil && (parsed == nil || !errors.Is(err, jwt.ErrTokenUnverifiable)) {
		// The jwt error is a single string; walk the segments to report
		// every problem found.
		d.StructuralIssues = append(d.StructuralIssues, diagnoseSegments(segments)...)
		if len(d.StructuralIssues) == 0 {
			d.StructuralIssues = append(d.StructuralIssues, fmt.Sprintf("token could not be parsed: %v", err))
		}
		return d
	}
	if segments[2] == "" {
		d.StructuralIssues = append(d.StructuralIssues, "missing signature segment")
	}

	claims, _ := parsed.Claims.(jwt.MapClaims)
	d.Header = parsed.Header
	d.Payload = map[string]interface{}(claims)

	c.checkAlgorithm(&d)
	d.Subject = subjectOf(claims)
	if d.Subject == "" {
		d.StructuralIssues = append(d.StructuralIssues, "missing subject/user-id claim")
	}

	now := c.now()

	iat, err := claims.GetIssuedAt()
	switch {
	case err != nil:
		d.StructuralIssues = append(d.StructuralIssues, fmt.Sprintf("invalid iat claim: %v", err))
	case iat != nil:
		d.IssuedAtEpochSeconds = iat.Unix()
		if c.skewTolerance > 0 && iat.Time.After(now.Add(c.skewTolerance)) {
			d.StructuralIssues = append(d.StructuralIssues,
				fmt.Sprintf("issued-at is %s in the future (tolerance %s)",
					iat.Time.Sub(now).Round(time.Second), c.skewTolerance))
		}
	}

	exp, err := claims.GetExpirationTime()
	switch {
	case err != nil:
		d.StructuralIssues = append(d.StructuralIssues, fmt.Sprintf("invalid exp claim: %v", err))
		return d
	case exp == nil:
		d.StructuralIssues = append(d.StructuralIssues, "missing exp claim")
		return d
	}

	d.Valid = true
	d.ExpiryEpochSeconds = exp.Unix()
	d.RemainingSeconds = d.ExpiryEpochSeconds - now.Unix()
	d.IsExpired = d.RemainingSeconds <= 0

	if d.IssuedAtEpochSeconds != 0 {
		lifetime := time.Duration(d.ExpiryEpochSeconds-d.IssuedAtEpochSeconds) * time.Second
		switch {
		case lifetime <= 0:
			d.StructuralIssues = append(d.StructuralIssues, "exp is not after iat")
		case c.expectedLifetime > 0 && lifetime < c.expectedLifetime/2:
			d.StructuralIssues = append(d.StructuralIssues,
				fmt.Sprintf("token lifetime %s is far short of the expected %s", lifetime, c.expectedLifetime))
		}
	}

	return d
}

func (c *Codec) checkAlgorithm(d *Decoded) {
	alg, _ := d.Header["alg"].(string)
	d.Algorithm = alg
	switch {
	case alg == "":
		d.StructuralIssues = append(d.StructuralIssues, "missing alg header")
	case strings.EqualFold(alg, "none"):
		d.StructuralIssues = append(d.StructuralIssues, `anomalous algorithm "none"`)
	case len(c.allowedAlgs) > 0 && !c.allowedAlgs[strings.ToUpper(alg)]:
		d.StructuralIssues = append(d.StructuralIssues, fmt.Sprintf("anomalous algorithm %q", alg))
	}
}

func subjectOf(claims jwt.MapClaims) string {
	for _, name := range subjectClaims {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func diagnoseSegments(segments []string) []string {
	var issues []string
	for i, name := range []string{"header", "payload"} {
		seg := segments[i]
		if seg == "" {
			issues = append(issues, fmt.Sprintf("missing %s segment", name))
			continue
		}
		data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
		if err != nil {
			issues = append(issues, fmt.Sprintf("%s segment is not valid base64url", name))
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(data, &obj); err != nil {
			issues = append(issues, fmt.Sprintf("%s segment is not a JSON object", name))
		}
	}
	if segments[2] == "" {
		issues = append(issues, "missing signature segment")
	}
	return issues
}
