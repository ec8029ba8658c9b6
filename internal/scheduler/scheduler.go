package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"refsession/internal/credential"
	"refsession/internal/events"
	"refsession/internal/token"
	"refsession/pkg/logging"
)

const (
	// DefaultInterval is the poll interval.
	DefaultInterval = 4 * time.Minute

	// DefaultThreshold is the remaining lifetime below which a refresh is
	// started.
	DefaultThreshold = 300 * time.Second

	// DefaultMinDelay is the shortest timer precise mode will arm.
	DefaultMinDelay = 5 * time.Second
)

// Mode selects how checks are scheduled.
type Mode string

const (
	// ModePoll checks at a fixed interval.
	ModePoll Mode = "poll"

	// ModePrecise arms a timer for when the token enters the threshold.
	ModePrecise Mode = "precise"
)

// ParseMode parses a mode name. The empty string means ModePoll.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePoll, "":
		return ModePoll, nil
	case ModePrecise:
		return ModePrecise, nil
	default:
		return "", fmt.Errorf("unknown scheduler mode %q (expected poll or precise)", s)
	}
}

// Refresher starts a coordinated refresh. *refresh.Coordinator satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) (*credential.Credential, error)
}

// Action is what a check decided to do.
type Action int

const (
	// ActionNone means the token is outside the threshold.
	ActionNone Action = iota
	// ActionNoCredential means nothing is stored.
	ActionNoCredential
	// ActionRefresh means a refresh was started (or is already running).
	ActionRefresh
	// ActionExpired means the token was unusable and the session cleared.
	ActionExpired
	// ActionError means the store could not be read.
	ActionError
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionNoCredential:
		return "no-credential"
	case ActionRefresh:
		return "refresh"
	case ActionExpired:
		return "expired"
	case ActionError:
		return "error"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// TickResult reports the outcome of one check.
type TickResult struct {
	Action    Action
	Remaining time.Duration
	Decoded   token.Decoded
}

// Scheduler proactively refreshes the session before the access token
// expires.
type Scheduler struct {
	store     credential.Store
	refresher Refresher
	bus       *events.Bus
	codec     *token.Codec

	interval  time.Duration
	threshold time.Duration
	minDelay  time.Duration
	mode      Mode

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	done        chan struct{}
	rearmCh     chan struct{}
	unsubscribe func()

	refreshing atomic.Bool
	inflight   sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the poll interval. In precise mode it is the longest
// timer armed.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithThreshold sets the remaining lifetime below which a refresh starts.
func WithThreshold(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// WithMinDelay sets the shortest timer precise mode arms.
func WithMinDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.minDelay = d
		}
	}
}

// WithMode selects poll or precise scheduling.
func WithMode(m Mode) Option {
	return func(s *Scheduler) {
		if m != "" {
			s.mode = m
		}
	}
}

// WithCodec sets the token codec.
func WithCodec(c *token.Codec) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.codec = c
		}
	}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(store credential.Store, refresher Refresher, bus *events.Bus, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		refresher: refresher,
		bus:       bus,
		codec:     token.NewCodec(),
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
		minDelay:  DefaultMinDelay,
		mode:      ModePoll,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start performs one check immediately and then keeps checking in the
// background until Stop is called or ctx ends. Starting a running
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.rearmCh = make(chan struct{}, 1)
	stopCh, done, rearmCh := s.stopCh, s.done, s.rearmCh

	if s.mode == ModePrecise {
		s.unsubscribe = s.bus.Subscribe(func(e events.Event) {
			if e.Kind != events.KindRefreshed {
				return
			}
			select {
			case rearmCh <- struct{}{}:
			default:
			}
		})
	}
	s.mu.Unlock()

	logging.Info("RefreshScheduler", "Starting (mode=%s, interval=%s, threshold=%s)", s.mode, s.interval, s.threshold)

	// Do an initial check immediately
	s.Tick(ctx)

	go s.loop(ctx, stopCh, done, rearmCh)
}

// Stop cancels future checks and waits for the loop to exit. A refresh
// already in flight is not cancelled. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	<-done
	logging.Info("RefreshScheduler", "Stopped")
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until refreshes started by this scheduler have finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}, rearmCh <-chan struct{}) {
	defer close(done)

	if s.mode == ModePrecise {
		s.preciseLoop(ctx, stopCh, rearmCh)
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) preciseLoop(ctx context.Context, stopCh <-chan struct{}, rearmCh <-chan struct{}) {
	timer := time.NewTimer(s.nextDelay(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			return
		case <-stopCh:
			return
		case <-rearmCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.nextDelay(ctx))
		case <-timer.C:
			s.Tick(ctx)
			timer.Reset(s.nextDelay(ctx))
		}
	}
}

// markStopped records that the loop ended with its context.
func (s *Scheduler) markStopped() {
	s.mu.Lock()
	s.running = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// nextDelay is how long precise mode sleeps: until the token enters the
// threshold, clamped to [minDelay, interval].
func (s *Scheduler) nextDelay(ctx context.Context) time.Duration {
	cred, err := s.store.Get(ctx)
	if err != nil || cred == nil {
		return s.interval
	}
	decoded := s.codec.Decode(cred.AccessToken)
	if !decoded.Valid {
		return s.minDelay
	}

	delay := decoded.Remaining() - s.threshold
	if delay < s.minDelay {
		delay = s.minDelay
	}
	if delay > s.interval {
		delay = s.interval
	}
	logging.Debug("RefreshScheduler", "Next check in %s", delay)
	return delay
}

// Tick performs one check: read the credential, decode the access token
// and start a refresh if it is inside the threshold. The refresh runs in
// the background; use Wait to block on it.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	cred, err := s.store.Get(ctx)
	if err != nil {
		logging.Warn("RefreshScheduler", "Failed to read credential: %v", err)
		return TickResult{Action: ActionError}
	}
	if cred == nil {
		return TickResult{Action: ActionNoCredential}
	}

	decoded := s.codec.Decode(cred.AccessToken)
	if !decoded.Valid {
		s.expire(ctx, cred, decoded)
		return TickResult{Action: ActionExpired, Decoded: decoded}
	}

	result := TickResult{Remaining: decoded.Remaining(), Decoded: decoded}
	if decoded.Remaining() >= s.threshold {
		result.Action = ActionNone
		return result
	}

	result.Action = ActionRefresh
	if !s.refreshing.CompareAndSwap(false, true) {
		logging.Debug("RefreshScheduler", "Refresh already running")
		return result
	}

	remaining := decoded.RemainingSeconds
	if remaining < 0 {
		remaining = 0
	}
	logging.Info("RefreshScheduler", "Access token expires in %ds, refreshing", remaining)
	s.bus.Publish(events.ExpiringSoon(remaining))

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.refreshing.Store(false)

		// The outcome is published by the refresher.
		if _, err := s.refresher.Refresh(context.WithoutCancel(ctx)); err != nil {
			logging.Debug("RefreshScheduler", "Background refresh ended with: %v", err)
		}
	}()
	return result
}

// expire clears a session whose access token cannot be used at all.
func (s *Scheduler) expire(ctx context.Context, cred *credential.Credential, decoded token.Decoded) {
	reason := "access token is malformed"
	if len(decoded.StructuralIssues) > 0 {
		reason = "access token is malformed: " + strings.Join(decoded.StructuralIssues, "; ")
	}

	if err := s.store.Clear(ctx); err != nil {
		logging.Error("RefreshScheduler", err, "Failed to clear malformed credential")
	}

	logging.Audit(logging.AuditEvent{
		Action:  "credential_malformed",
		Outcome: "failure",
		Origin:  s.store.Origin(),
		Subject: cred.Subject(),
		Reason:  reason,
	})

	s.bus.Publish(events.Expired(reason))
}
