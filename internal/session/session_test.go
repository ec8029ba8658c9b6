package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refsession/internal/config"
	"refsession/internal/credential"
	"refsession/internal/events"
	"refsession/internal/refresh"
	"refsession/internal/scheduler"
)

func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1",
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// portal is a fake auth API plus one protected resource.
type portal struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	calls         map[string]int
	refreshStatus int
	logoutStatus  int
	issuedAccess  string
	validAccess   string
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	p := &portal{
		t:             t,
		calls:         map[string]int{},
		refreshStatus: http.StatusOK,
		logoutStatus:  http.StatusNoContent,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		p.mu.Lock()
		p.calls["login"]++
		p.mu.Unlock()

		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"No active account found with the given credentials"}`)
			return
		}
		access := signedToken(t, time.Hour)
		p.mu.Lock()
		p.validAccess = access
		p.mu.Unlock()
		writeJSON(w, map[string]any{
			"access":  access,
			"refresh": "refresh-1",
			"user":    map[string]any{"id": "1", "username": body["username"], "role": "referee"},
		})
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.calls["refresh"]++
		status := p.refreshStatus
		p.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"detail":"Token is invalid or expired"}`)
			return
		}
		access := signedToken(t, time.Hour)
		p.mu.Lock()
		p.issuedAccess = access
		p.validAccess = access
		p.mu.Unlock()
		writeJSON(w, map[string]any{"access": access, "refresh": "refresh-2"})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.calls["logout"]++
		status := p.logoutStatus
		p.mu.Unlock()
		w.WriteHeader(status)
	})
	mux.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.calls["profile"]++
		valid := "Bearer " + p.validAccess
		p.mu.Unlock()

		if r.Header.Get("Authorization") != valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"username": "alice"})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (p *portal) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *portal) set(fn func(p *portal)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

type navigatorRecorder struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (n *navigatorRecorder) RedirectToLogin(e events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, e.Kind)
}

func (n *navigatorRecorder) redirects() []events.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.Kind(nil), n.kinds...)
}

func testConfig(baseURL string) config.Config {
	cfg := config.GetDefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.Storage.Backend = "memory"
	return cfg
}

func newSession(t *testing.T, p *portal) (*Session, *navigatorRecorder) {
	t.Helper()
	nav := &navigatorRecorder{}
	s, err := New(context.Background(), testConfig(p.server.URL), Options{Navigator: nav})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, nav
}

func TestSession_LoginStoresCredential(t *testing.T) {
	p := newPortal(t)
	s, _ := newSession(t, p)
	ctx := context.Background()

	cred, err := s.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	require.NotNil(t, cred.User)
	assert.Equal(t, "alice", cred.User.Username)
	assert.Equal(t, "refresh-1", cred.RefreshToken)

	current, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, cred, current)

	status, err := s.Diagnose(ctx)
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	assert.True(t, status.Access.Valid)
	assert.False(t, status.Access.IsExpired)
	assert.Equal(t, "1", status.Access.Subject)
	assert.Equal(t, refresh.StateIdle, status.Refresh)
}

func TestSession_LoginRejected(t *testing.T) {
	p := newPortal(t)
	s, _ := newSession(t, p)
	ctx := context.Background()

	_, err := s.Login(ctx, "alice", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No active account")

	current, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestSession_LogoutClearsWithoutRedirect(t *testing.T) {
	p := newPortal(t)
	s, nav := newSession(t, p)
	ctx := context.Background()

	_, err := s.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx))

	current, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
	assert.Equal(t, 1, p.count("logout"))
	assert.Empty(t, nav.redirects())
}

func TestSession_LogoutClearsEvenIfServerFails(t *testing.T) {
	p := newPortal(t)
	p.set(func(p *portal) { p.logoutStatus = http.StatusInternalServerError })
	s, _ := newSession(t, p)
	ctx := context.Background()

	_, err := s.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx))

	current, _ := s.Current(ctx)
	assert.Nil(t, current)
}

func TestSession_LogoutWhenSignedOut(t *testing.T) {
	p := newPortal(t)
	s, _ := newSession(t, p)

	require.NoError(t, s.Logout(context.Background()))
	assert.Equal(t, 0, p.count("logout"))
}

func TestSession_RefreshIfNeeded(t *testing.T) {
	p := newPortal(t)
	s, _ := newSession(t, p)
	ctx := context.Background()

	// Outside the threshold: nothing to do.
	_, err := s.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	result, err := s.RefreshIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ActionNone, result.Action)
	assert.Equal(t, 0, p.count("refresh"))

	// Inside the threshold: one refresh.
	require.NoError(t, s.Store().Set(ctx, credential.Credential{
		AccessToken:  signedToken(t, 2*time.Minute),
		RefreshToken: "refresh-1",
	}))
	result, err = s.RefreshIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.ActionRefresh, result.Action)
	assert.Equal(t, 1, p.count("refresh"))

	current, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", current.RefreshToken)
}

func TestSession_RefreshIfNeededSignedOut(t *testing.T) {
	p := newPortal(t)
	s, _ := newSession(t, p)

	_, err := s.RefreshIfNeeded(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSession_RefreshIfNeededMalformed(t *testing.T) {
	p := newPortal(t)
	s, nav := newSession(t, p)
	ctx := context.Background()

	require.NoError(t, s.Store().Set(ctx, credential.Credential{AccessToken: "not-a-jwt", RefreshToken: "refresh-1"}))

	result, err := s.RefreshIfNeeded(ctx)
	assert.Equal(t, scheduler.ActionExpired, result.Action)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, p.count("refresh"))

	current, _ := s.Current(ctx)
	assert.Nil(t, current)
	assert.Equal(t, []events.Kind{events.KindExpired}, nav.redirects())
}

func TestSession_RefreshFailureRedirects(t *testing.T) {
	p := newPortal(t)
	p.set(func(p *portal) { p.refreshStatus = http.StatusUnauthorized })
	s, nav := newSession(t, p)
	ctx := context.Background()

	require.NoError(t, s.Store().Set(ctx, credential.Credential{
		AccessToken:  signedToken(t, time.Minute),
		RefreshToken: "revoked",
	}))

	_, err := s.RefreshIfNeeded(ctx)
	require.Error(t, err)
	assert.True(t, refresh.IsTerminal(err))

	current, _ := s.Current(ctx)
	assert.Nil(t, current)
	assert.Equal(t, []events.Kind{events.KindRefreshFailed}, nav.redirects())

	// Signing in again re-arms the guard.
	p.set(func(p *portal) { p.refreshStatus = http.StatusOK })
	_, err = s.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	p.set(func(p *portal) { p.refreshStatus = http.StatusUnauthorized })
	_, err = s.Refresh(ctx)
	require.Error(t, err)
	assert.Len(t, nav.redirects(), 2)
}

func TestSession_HTTPClientRefreshesOn401(t *testing.T) {
	p := newPortal(t)
	s, _ := newSession(t, p)
	ctx := context.Background()

	_, err := s.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	// The server rotates its accepted token behind the client's back.
	p.set(func(p *portal) { p.validAccess = "rotated-elsewhere" })

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.server.URL+"/profile", nil)
	require.NoError(t, err)

	resp, err := s.HTTPClient(ctx).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, p.count("refresh"))
	assert.Equal(t, 2, p.count("profile"))

	current, err := s.Current(ctx)
	require.NoError(t, err)
	p.mu.Lock()
	issued := p.issuedAccess
	p.mu.Unlock()
	assert.Equal(t, issued, current.AccessToken)
}

func TestSession_TokenSource(t *testing.T) {
	p := newPortal(t)
	s, _ := newSession(t, p)
	ctx := context.Background()

	_, err := s.TokenSource(ctx).Token()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	cred, err := s.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	tok, err := s.TokenSource(ctx).Token()
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.Type())
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, 5*time.Second)
}

func TestSession_StartRefreshesImmediately(t *testing.T) {
	p := newPortal(t)
	s, _ := newSession(t, p)
	ctx := context.Background()

	require.NoError(t, s.Store().Set(ctx, credential.Credential{
		AccessToken:  signedToken(t, 30*time.Second),
		RefreshToken: "refresh-1",
	}))

	var mu sync.Mutex
	var kinds []events.Kind
	s.Bus().Subscribe(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, e.Kind)
	})

	s.Start(ctx)
	defer s.Stop()

	assert.Eventually(t, func() bool { return p.count("refresh") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []events.Kind{events.KindExpiringSoon, events.KindRefreshed}, kinds)
	mu.Unlock()
}

func TestSession_SignedOutElsewhere(t *testing.T) {
	p := newPortal(t)
	backend := credential.NewMemoryBackend()
	cfg := testConfig(p.server.URL)
	ctx := context.Background()

	navA := &navigatorRecorder{}
	a, err := New(ctx, cfg, Options{Navigator: navA, Store: credential.NewMemoryStore(backend)})
	require.NoError(t, err)
	defer a.Close()

	navB := &navigatorRecorder{}
	b, err := New(ctx, cfg, Options{Navigator: navB, Store: credential.NewMemoryStore(backend)})
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	require.NoError(t, a.Logout(ctx))

	assert.Eventually(t, func() bool { return len(navB.redirects()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []events.Kind{events.KindSignedOutElsewhere}, navB.redirects())
	assert.Empty(t, navA.redirects())
}

func TestNew_Errors(t *testing.T) {
	p := newPortal(t)

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   string
	}{
		{"bad base URL", func(c *config.Config) { c.API.BaseURL = "ftp://x" }, "auth client"},
		{"bad mode", func(c *config.Config) { c.Scheduler.Mode = "eager" }, "scheduler mode"},
		{"bad backend", func(c *config.Config) { c.Storage.Backend = "floppy" }, "unknown credential backend"},
		{"bad template", func(c *config.Config) { c.Guard.NoticeTemplate = "{{ .Reason" }, "noticeTemplate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(p.server.URL)
			tt.mutate(&cfg)
			_, err := New(context.Background(), cfg, Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNew_EphemeralOverridesBackend(t *testing.T) {
	p := newPortal(t)
	cfg := testConfig(p.server.URL)
	cfg.Storage.Backend = "redis"
	cfg.Storage.Redis.Addr = "127.0.0.1:1"

	s, err := New(context.Background(), cfg, Options{Ephemeral: true})
	require.NoError(t, err)
	defer s.Close()

	_, isMemory := s.Store().(*credential.MemoryStore)
	assert.True(t, isMemory)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	p := newPortal(t)
	s, _ := newSession(t, p)

	s.Start(context.Background())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
