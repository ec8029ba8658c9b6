package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"refsession/internal/api"
	"refsession/internal/credential"
	"refsession/internal/events"
	"refsession/pkg/logging"
)

// State is the state of the most recent refresh operation.
type State int

const (
	StateIdle State = iota
	StateInFlight
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInFlight:
		return "InFlight"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AuthClient performs the refresh request. *api.Client satisfies it.
type AuthClient interface {
	Refresh(ctx context.Context, refreshToken string) (*api.RefreshResult, error)
}

// refreshKey is the only singleflight key: there is one session per process.
const refreshKey = "session"

// Coordinator guarantees at most one refresh request in flight per process.
// Callers arriving while a refresh is running attach to it and receive the
// same outcome.
//
// On success the new credential is stored and Refreshed is published. On
// any failure the store is cleared and RefreshFailed is published before
// waiters are released. There are no internal retries.
type Coordinator struct {
	store  credential.Store
	client AuthClient
	bus    *events.Bus
	now    func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	state       State
	lastErr     error
	lastAttempt time.Time
	lastSuccess time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(store credential.Store, client AuthClient, bus *events.Bus) *Coordinator {
	return &Coordinator{
		store:  store,
		client: client,
		bus:    bus,
		now:    time.Now,
	}
}

// Refresh exchanges the stored refresh token for a new access token, or
// joins the refresh already in flight.
//
// The request runs detached from ctx: if ctx ends first, Refresh returns
// ctx.Err() while the operation completes and still updates the store and
// publishes its event. The HTTP client's timeout bounds it.
func (c *Coordinator) Refresh(ctx context.Context) (*credential.Credential, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		return c.run(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		cred, _ := res.Val.(*credential.Credential)
		return cred.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// State returns the state of the latest operation.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the error of the latest failed operation, or nil after a
// success.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastSuccess returns when the latest successful refresh completed.
func (c *Coordinator) LastSuccess() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

func (c *Coordinator) run(ctx context.Context) (*credential.Credential, error) {
	current, err := c.store.Get(ctx)
	if err != nil {
		c.setState(StateFailed, err)
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	if current == nil {
		logging.Debug("RefreshCoordinator", "No credential stored, nothing to refresh")
		return nil, ErrNoCredential
	}

	c.mu.Lock()
	c.state = StateInFlight
	c.lastAttempt = c.now()
	c.mu.Unlock()

	logging.Debug("RefreshCoordinator", "Refreshing session for %s", current.Subject())

	result, err := c.client.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return nil, c.fail(ctx, current, err)
	}

	next := credential.Credential{
		AccessToken:  result.Access,
		RefreshToken: current.RefreshToken,
		User:         current.User,
	}
	// Servers without rotation omit the refresh token.
	if result.Refresh != "" {
		next.RefreshToken = result.Refresh
	}

	if err := c.store.Set(ctx, next); err != nil {
		return nil, c.fail(ctx, current, fmt.Errorf("failed to persist refreshed credential: %w", err))
	}

	c.mu.Lock()
	c.state = StateSucceeded
	c.lastErr = nil
	c.lastSuccess = c.now()
	c.mu.Unlock()

	logging.Audit(logging.AuditEvent{
		Action:  "token_refreshed",
		Outcome: "success",
		Origin:  c.store.Origin(),
		Subject: next.Subject(),
	})

	c.bus.Publish(events.Refreshed(&next))
	return &next, nil
}

// fail clears the session and publishes RefreshFailed. It returns the error
// handed to every waiter.
func (c *Coordinator) fail(ctx context.Context, current *credential.Credential, cause error) error {
	err := &FailedError{Err: cause}
	c.setState(StateFailed, err)

	if clearErr := c.store.Clear(ctx); clearErr != nil {
		logging.Error("RefreshCoordinator", clearErr, "Failed to clear credential after refresh failure")
	}

	logging.Audit(logging.AuditEvent{
		Action:  "token_refresh_failed",
		Outcome: "failure",
		Origin:  c.store.Origin(),
		Subject: current.Subject(),
		Reason:  cause.Error(),
	})

	c.bus.Publish(events.RefreshFailed(err))
	return err
}

func (c *Coordinator) setState(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.lastErr = err
}
