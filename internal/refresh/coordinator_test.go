package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refsession/internal/api"
	"refsession/internal/credential"
	"refsession/internal/events"
)

// authServer is a fake /auth/refresh endpoint.
type authServer struct {
	server   *httptest.Server
	requests int32
	release  chan struct{} // when non-nil, requests block until closed
	status   int
	body     string
}

func newAuthServer(t *testing.T, status int, body string) *authServer {
	return newBlockingAuthServer(t, status, body, nil)
}

// newBlockingAuthServer holds every request until release is closed.
func newBlockingAuthServer(t *testing.T, status int, body string, release chan struct{}) *authServer {
	t.Helper()
	s := &authServer{status: status, body: body, release: release}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.requests, 1)
		if s.release != nil {
			<-s.release
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(s.body))
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *authServer) count() int {
	return int(atomic.LoadInt32(&s.requests))
}

type fixture struct {
	store       credential.Store
	bus         *events.Bus
	coordinator *Coordinator
	server      *authServer

	mu     sync.Mutex
	events []events.Event
}

func newFixture(t *testing.T, server *authServer) *fixture {
	t.Helper()
	client, err := api.NewClient(server.server.URL)
	require.NoError(t, err)

	f := &fixture{
		store:  credential.NewMemoryStore(nil),
		bus:    events.NewBus(),
		server: server,
	}
	f.coordinator = NewCoordinator(f.store, client, f.bus)
	f.bus.Subscribe(func(e events.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
	})
	return f
}

func (f *fixture) kinds() []events.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Kind, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Set(context.Background(), credential.Credential{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		User:         &credential.UserSnapshot{ID: "1", Username: "alice"},
	}))
}

func TestCoordinator_Success(t *testing.T) {
	f := newFixture(t, newAuthServer(t, http.StatusOK, `{"access":"new-access","refresh":"new-refresh"}`))
	f.seed(t)

	cred, err := f.coordinator.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", cred.AccessToken)
	assert.Equal(t, "new-refresh", cred.RefreshToken)
	require.NotNil(t, cred.User)
	assert.Equal(t, "alice", cred.User.Username)

	stored, err := f.store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cred, stored)

	assert.Equal(t, StateSucceeded, f.coordinator.State())
	assert.NoError(t, f.coordinator.LastError())
	assert.False(t, f.coordinator.LastSuccess().IsZero())
	assert.Equal(t, []events.Kind{events.KindRefreshed}, f.kinds())
	assert.Equal(t, 1, f.server.count())
}

func TestCoordinator_KeepsRefreshTokenWithoutRotation(t *testing.T) {
	f := newFixture(t, newAuthServer(t, http.StatusOK, `{"access":"new-access"}`))
	f.seed(t)

	cred, err := f.coordinator.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", cred.AccessToken)
	assert.Equal(t, "old-refresh", cred.RefreshToken)
}

func TestCoordinator_ConcurrentCallersShareOneRequest(t *testing.T) {
	server := newBlockingAuthServer(t, http.StatusOK, `{"access":"new-access","refresh":"new-refresh"}`, make(chan struct{}))
	f := newFixture(t, server)
	f.seed(t)

	const callers = 8
	results := make([]*credential.Credential, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.coordinator.Refresh(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return server.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateInFlight, f.coordinator.State())
	// Let late callers attach before releasing the request.
	time.Sleep(50 * time.Millisecond)
	close(server.release)
	wg.Wait()

	assert.Equal(t, 1, server.count())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new-access", results[i].AccessToken)
	}
	assert.Equal(t, []events.Kind{events.KindRefreshed}, f.kinds())
}

func TestCoordinator_ConcurrentCallersShareFailure(t *testing.T) {
	server := newBlockingAuthServer(t, http.StatusUnauthorized, `{"detail":"Token is blacklisted"}`, make(chan struct{}))
	f := newFixture(t, server)
	f.seed(t)

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coordinator.Refresh(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return server.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(server.release)
	wg.Wait()

	assert.Equal(t, 1, server.count())
	for i := 0; i < callers; i++ {
		require.Error(t, errs[i])
		assert.Same(t, errs[0], errs[i])
		assert.True(t, IsTerminal(errs[i]))
		assert.True(t, api.IsUnauthorized(errs[i]))
	}
	assert.Equal(t, []events.Kind{events.KindRefreshFailed}, f.kinds())
}

func TestCoordinator_RejectedClearsSession(t *testing.T) {
	f := newFixture(t, newAuthServer(t, http.StatusUnauthorized, `{"detail":"Token is invalid or expired"}`))
	f.seed(t)

	_, err := f.coordinator.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, IsTerminal(err))

	stored, getErr := f.store.Get(context.Background())
	require.NoError(t, getErr)
	assert.Nil(t, stored)

	assert.Equal(t, StateFailed, f.coordinator.State())
	assert.Equal(t, err, f.coordinator.LastError())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.events, 1)
	assert.Equal(t, events.KindRefreshFailed, f.events[0].Kind)
	assert.Contains(t, f.events[0].Reason, "Token is invalid or expired")
	assert.ErrorIs(t, f.events[0].Err, err)
}

func TestCoordinator_MalformedResponseClearsSession(t *testing.T) {
	f := newFixture(t, newAuthServer(t, http.StatusOK, `{"token":"wrong-shape"}`))
	f.seed(t)

	_, err := f.coordinator.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsMalformedResponse(err))

	stored, _ := f.store.Get(context.Background())
	assert.Nil(t, stored)
	assert.Equal(t, []events.Kind{events.KindRefreshFailed}, f.kinds())
}

func TestCoordinator_NoCredential(t *testing.T) {
	f := newFixture(t, newAuthServer(t, http.StatusOK, `{"access":"x"}`))

	_, err := f.coordinator.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.False(t, IsTerminal(err))
	assert.Equal(t, 0, f.server.count())
	assert.Empty(t, f.kinds())
	assert.Equal(t, StateIdle, f.coordinator.State())
}

func TestCoordinator_SequentialCallsStartNewOperations(t *testing.T) {
	f := newFixture(t, newAuthServer(t, http.StatusOK, `{"access":"new-access"}`))
	f.seed(t)

	_, err := f.coordinator.Refresh(context.Background())
	require.NoError(t, err)
	_, err = f.coordinator.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, f.server.count())
}

func TestCoordinator_CallerCancellationDoesNotAbortRefresh(t *testing.T) {
	server := newBlockingAuthServer(t, http.StatusOK, `{"access":"new-access","refresh":"new-refresh"}`, make(chan struct{}))
	f := newFixture(t, server)
	f.seed(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.coordinator.Refresh(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return server.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(server.release)
	assert.Eventually(t, func() bool {
		return f.coordinator.State() == StateSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	stored, err := f.store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, []events.Kind{events.KindRefreshed}, f.kinds())
}

// failingStore fails every write.
type failingStore struct {
	credential.Store
}

func (failingStore) Set(context.Context, credential.Credential) error {
	return errors.New("disk full")
}

func TestCoordinator_PersistFailureIsTerminal(t *testing.T) {
	server := newAuthServer(t, http.StatusOK, `{"access":"new-access"}`)
	client, err := api.NewClient(server.server.URL)
	require.NoError(t, err)

	inner := credential.NewMemoryStore(nil)
	require.NoError(t, inner.Set(context.Background(), credential.Credential{AccessToken: "a", RefreshToken: "r"}))

	bus := events.NewBus()
	var kinds []events.Kind
	bus.Subscribe(func(e events.Event) { kinds = append(kinds, e.Kind) })

	c := NewCoordinator(failingStore{inner}, client, bus)
	_, err = c.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
	assert.Contains(t, err.Error(), "disk full")

	stored, _ := inner.Get(context.Background())
	assert.Nil(t, stored)
	assert.Equal(t, []events.Kind{events.KindRefreshFailed}, kinds)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Idle", StateIdle.String())
	assert.Equal(t, "InFlight", StateInFlight.String())
	assert.Equal(t, "Succeeded", StateSucceeded.String())
	assert.Equal(t, "Failed", StateFailed.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestRefreshRequestBody(t *testing.T) {
	bodies := make(chan map[string]string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]string
		_ = json.NewDecoder(r.Body).Decode(&got)
		bodies <- got
		_, _ = w.Write([]byte(`{"access":"n"}`))
	}))
	defer server.Close()

	client, err := api.NewClient(server.URL)
	require.NoError(t, err)
	store := credential.NewMemoryStore(nil)
	require.NoError(t, store.Set(context.Background(), credential.Credential{AccessToken: "a", RefreshToken: "the-refresh"}))

	_, err = NewCoordinator(store, client, events.NewBus()).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"refresh": "the-refresh"}, <-bodies)
}
