package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"refsession/internal/api"
	"refsession/internal/config"
	"refsession/internal/credential"
	"refsession/internal/events"
	"refsession/internal/guard"
	"refsession/internal/refresh"
	"refsession/internal/scheduler"
	"refsession/internal/token"
	"refsession/pkg/logging"
)

// ErrNotAuthenticated is returned by operations that need a stored session.
var ErrNotAuthenticated = api.ErrNotAuthenticated

// ErrSessionExpired is returned when the stored access token was unusable
// and the session has been cleared.
var ErrSessionExpired = errors.New("session expired")

// ErrStoreUnavailable is returned when the credential store cannot be read.
var ErrStoreUnavailable = errors.New("credential store unavailable")

// Options carries the collaborators the configuration cannot describe.
type Options struct {
	// Navigator performs the redirect to login. Defaults to logging a warning.
	Navigator guard.Navigator

	// Notifier shows session notices. Without one no notice is shown.
	Notifier guard.Notifier

	// HTTPClient is used for auth requests. Defaults to a client with
	// cfg.API.Timeout.
	HTTPClient *http.Client

	// Store replaces the configured backend.
	Store credential.Store

	// Ephemeral forces the in-memory backend.
	Ephemeral bool
}

// Status is a snapshot of the stored session for diagnostics.
type Status struct {
	Authenticated bool
	User          *credential.UserSnapshot
	Access        token.Decoded
	Refresh       refresh.State
	LastError     error
	Origin        string
}

// Session owns the one store, bus, coordinator, scheduler and guard of a
// process and wires them together.
type Session struct {
	cfg config.Config

	store       credential.Store
	bus         *events.Bus
	client      *api.Client
	codec       *token.Codec
	coordinator *refresh.Coordinator
	scheduler   *scheduler.Scheduler
	guard       *guard.Guard

	stopBridge  func()
	detachGuard func()
	closeOnce   sync.Once
}

// New builds a session from cfg. The scheduler is not started; call Start.
func New(ctx context.Context, cfg config.Config, opts Options) (*Session, error) {
	clientOpts := []api.ClientOption{api.WithTimeout(cfg.API.Timeout)}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(opts.HTTPClient))
	}
	client, err := api.NewClient(cfg.API.BaseURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}

	mode, err := scheduler.ParseMode(cfg.Scheduler.Mode)
	if err != nil {
		return nil, err
	}

	templates := events.NewMessageTemplateEngine()
	if cfg.Guard.NoticeTemplate != "" {
		if err := templates.SetTemplate(events.KindRefreshFailed, cfg.Guard.NoticeTemplate); err != nil {
			return nil, fmt.Errorf("invalid guard.noticeTemplate: %w", err)
		}
	}

	store := opts.Store
	if store == nil {
		store, err = openStore(ctx, cfg.Storage, opts.Ephemeral)
		if err != nil {
			return nil, err
		}
	}

	codecOpts := []token.Option{
		token.WithExpectedLifetime(cfg.Token.ExpectedLifetime),
		token.WithSkewTolerance(cfg.Token.SkewTolerance),
	}
	if len(cfg.Token.AllowedAlgorithms) > 0 {
		codecOpts = append(codecOpts, token.WithAllowedAlgorithms(cfg.Token.AllowedAlgorithms...))
	}
	codec := token.NewCodec(codecOpts...)

	navigator := opts.Navigator
	if navigator == nil {
		navigator = guard.NavigatorFunc(func(e events.Event) {
			logging.Warn("Session", "Session ended (%s), sign in again", e.Kind)
		})
	}

	bus := events.NewBus()
	coordinator := refresh.NewCoordinator(store, client, bus)

	guardOpts := []guard.Option{
		guard.WithTemplates(templates),
		guard.WithRedirectDelay(cfg.Guard.RedirectDelay),
	}
	if opts.Notifier != nil {
		guardOpts = append(guardOpts, guard.WithNotifier(opts.Notifier))
	}
	g := guard.New(store, navigator, guardOpts...)

	s := &Session{
		cfg:         cfg,
		store:       store,
		bus:         bus,
		client:      client,
		codec:       codec,
		coordinator: coordinator,
		guard:       g,
		scheduler: scheduler.NewScheduler(store, coordinator, bus,
			scheduler.WithMode(mode),
			scheduler.WithInterval(cfg.Scheduler.Interval),
			scheduler.WithThreshold(cfg.Scheduler.Threshold),
			scheduler.WithMinDelay(cfg.Scheduler.MinDelay),
			scheduler.WithCodec(codec),
		),
	}

	// Guard first so it sees bridged events.
	s.detachGuard = g.Attach(bus)
	s.stopBridge = events.BridgeStore(store, bus)

	logging.Debug("Session", "Session ready (store origin %s, api %s)", logging.TruncateID(store.Origin()), client.BaseURL())
	return s, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig, ephemeral bool) (credential.Store, error) {
	backend := credential.Backend(cfg.Backend)
	if ephemeral {
		backend = credential.BackendMemory
	}

	store, err := credential.Open(ctx, credential.Options{
		Backend: backend,
		File: credential.FileStoreConfig{
			Dir:   cfg.Dir,
			Watch: cfg.Watch,
		},
		Bolt: credential.BoltStoreConfig{
			Path: cfg.BoltPath,
		},
		Redis: credential.RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.Prefix,
			Watch:     cfg.Watch,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s credential store: %w", backend, err)
	}
	return store, nil
}

// Login exchanges username and password for a credential and stores it.
func (s *Session) Login(ctx context.Context, username, password string) (*credential.Credential, error) {
	cred, err := s.client.Login(ctx, username, password)
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Action:  "login",
			Outcome: "failure",
			Origin:  s.store.Origin(),
			Subject: username,
			Reason:  err.Error(),
		})
		return nil, err
	}

	if err := s.store.Set(ctx, *cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	s.guard.Rearm()

	logging.Audit(logging.AuditEvent{
		Action:  "login",
		Outcome: "success",
		Origin:  s.store.Origin(),
		Subject: cred.Subject(),
	})
	return cred, nil
}

// Logout revokes the session on the server, best effort, and clears it
// locally. It does not trigger the guard.
func (s *Session) Logout(ctx context.Context) error {
	cred, err := s.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read credential: %w", err)
	}
	if cred != nil {
		if err := s.client.Logout(ctx, *cred); err != nil {
			logging.Warn("Session", "Server logout failed, clearing locally anyway: %v", err)
		}
	}

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "logout",
		Outcome: "success",
		Origin:  s.store.Origin(),
		Subject: cred.Subject(),
	})
	return nil
}

// Current returns the stored credential, or nil when signed out.
func (s *Session) Current(ctx context.Context) (*credential.Credential, error) {
	return s.store.Get(ctx)
}

// Diagnose decodes the stored access token without touching the network.
func (s *Session) Diagnose(ctx context.Context) (Status, error) {
	status := Status{
		Refresh:   s.coordinator.State(),
		LastError: s.coordinator.LastError(),
		Origin:    s.store.Origin(),
	}

	cred, err := s.store.Get(ctx)
	if err != nil {
		return status, fmt.Errorf("failed to read credential: %w", err)
	}
	if cred == nil {
		return status, nil
	}

	status.Authenticated = true
	status.User = cred.User
	status.Access = s.codec.Decode(cred.AccessToken)
	return status, nil
}

// Refresh renews the session now through the coordinator.
func (s *Session) Refresh(ctx context.Context) (*credential.Credential, error) {
	return s.coordinator.Refresh(ctx)
}

// RefreshIfNeeded runs one scheduler check and waits for any refresh it
// started. A refresh failure is returned as its error.
func (s *Session) RefreshIfNeeded(ctx context.Context) (scheduler.TickResult, error) {
	result := s.scheduler.Tick(ctx)
	switch result.Action {
	case scheduler.ActionNoCredential:
		return result, ErrNotAuthenticated
	case scheduler.ActionError:
		return result, ErrStoreUnavailable
	case scheduler.ActionExpired:
		if err := result.Decoded.Err(); err != nil {
			return result, fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		return result, fmt.Errorf("%w: access token is malformed", ErrSessionExpired)
	case scheduler.ActionRefresh:
		s.scheduler.Wait()
		if s.coordinator.State() == refresh.StateFailed {
			return result, s.coordinator.LastError()
		}
	}
	return result, nil
}

// Start runs the scheduler in the background.
func (s *Session) Start(ctx context.Context) {
	s.scheduler.Start(ctx)
}

// Stop halts the scheduler. A refresh in flight completes.
func (s *Session) Stop() {
	s.scheduler.Stop()
}

// Bus returns the session event bus.
func (s *Session) Bus() *events.Bus { return s.bus }

// Store returns the credential store.
func (s *Session) Store() credential.Store { return s.store }

// Coordinator returns the refresh coordinator.
func (s *Session) Coordinator() *refresh.Coordinator { return s.coordinator }

// Guard returns the session guard.
func (s *Session) Guard() *guard.Guard { return s.guard }

// Config returns the configuration the session was built from.
func (s *Session) Config() config.Config { return s.cfg }

// TokenSource exposes the stored session as an oauth2.TokenSource.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return api.NewTokenSource(ctx, s.store, s.coordinator, s.codec)
}

// HTTPClient returns a client that authenticates requests with the session
// and refreshes it once on 401.
func (s *Session) HTTPClient(ctx context.Context) *http.Client {
	return &http.Client{
		Transport: api.NewAuthorizedTransport(s.TokenSource(ctx), s.coordinator, nil),
		Timeout:   s.cfg.API.Timeout,
	}
}

// Close stops background work, waits for an in-flight refresh and closes
// the store. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.scheduler.Stop()
		s.scheduler.Wait()
		s.stopBridge()
		s.detachGuard()
		if closeErr := s.store.Close(); closeErr != nil && !errors.Is(closeErr, credential.ErrStoreClosed) {
			err = fmt.Errorf("failed to close credential store: %w", closeErr)
		}
	})
	return err
}
