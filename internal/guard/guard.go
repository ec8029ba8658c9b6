package guard

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"refsession/internal/credential"
	"refsession/internal/events"
	"refsession/pkg/logging"
)

// Navigator performs the navigation-to-login side effect.
type Navigator interface {
	RedirectToLogin(e events.Event)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(e events.Event)

// RedirectToLogin implements Navigator.
func (f NavigatorFunc) RedirectToLogin(e events.Event) { f(e) }

// Notifier shows a short notice to the user.
type Notifier interface {
	Notify(message string)
}

// WriterNotifier writes notices as lines to W.
type WriterNotifier struct {
	W io.Writer
}

// Notify implements Notifier.
func (n WriterNotifier) Notify(message string) {
	_, _ = fmt.Fprintln(n.W, message)
}

// Guard translates session events into user-facing consequences. It never
// judges session validity itself.
//
// On Expired, RefreshFailed or SignedOutElsewhere it clears the store,
// shows a notice and redirects to login, once per burst: further terminal
// events are absorbed until a Refreshed event or Rearm.
type Guard struct {
	store     credential.Store
	navigator Navigator
	notifier  Notifier
	templates *events.MessageTemplateEngine
	delay     time.Duration
	onWarning func(events.Event)

	mu        sync.Mutex
	armed     bool
	user      string
	pending   *time.Timer
	redirects int
}

// Option configures a Guard.
type Option func(*Guard)

// WithNotifier sets where notices go. Without one no notice is shown.
func WithNotifier(n Notifier) Option {
	return func(g *Guard) {
		g.notifier = n
	}
}

// WithRedirectDelay postpones the redirect so the notice can be read.
func WithRedirectDelay(d time.Duration) Option {
	return func(g *Guard) {
		g.delay = d
	}
}

// WithExpiringSoonHook is called on ExpiringSoon. The default is a no-op;
// the scheduler already acts on this condition.
func WithExpiringSoonHook(fn func(events.Event)) Option {
	return func(g *Guard) {
		g.onWarning = fn
	}
}

// WithTemplates sets the notice templates.
func WithTemplates(t *events.MessageTemplateEngine) Option {
	return func(g *Guard) {
		if t != nil {
			g.templates = t
		}
	}
}

// New creates an armed guard.
func New(store credential.Store, navigator Navigator, opts ...Option) *Guard {
	g := &Guard{
		store:     store,
		navigator: navigator,
		templates: events.NewMessageTemplateEngine(),
		armed:     true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Attach subscribes the guard to bus. The returned function detaches it and
// cancels a pending delayed redirect.
func (g *Guard) Attach(bus *events.Bus) (detach func()) {
	unsubscribe := bus.Subscribe(g.Handle)
	return func() {
		unsubscribe()
		g.cancelPending()
	}
}

// Handle reacts to one event.
func (g *Guard) Handle(e events.Event) {
	switch {
	case e.Kind.IsTerminal():
		g.endSession(e)
	case e.Kind == events.KindRefreshed:
		g.mu.Lock()
		if subject := e.Credential.Subject(); subject != "" {
			g.user = subject
		}
		g.mu.Unlock()
		g.Rearm()
	case e.Kind == events.KindExpiringSoon:
		if g.onWarning != nil {
			g.onWarning(e)
		}
	}
}

// Rearm lets the next terminal event redirect again. It is called on
// Refreshed and after a successful login.
func (g *Guard) Rearm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

// Redirects returns how many redirects the guard has performed or
// scheduled.
func (g *Guard) Redirects() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.redirects
}

func (g *Guard) endSession(e events.Event) {
	ctx := context.Background()

	// Remember who was signed in before the credential goes away.
	user := g.currentUser(ctx)

	if err := g.store.Clear(ctx); err != nil {
		logging.Error("SessionGuard", err, "Failed to clear credential on %s", e.Kind)
	}

	g.mu.Lock()
	if !g.armed {
		g.mu.Unlock()
		logging.Debug("SessionGuard", "Ignoring %s, redirect already performed", e.Kind)
		return
	}
	g.armed = false
	g.redirects++
	g.mu.Unlock()

	logging.Info("SessionGuard", "Session ended: %s", e)

	if g.notifier != nil {
		g.notifier.Notify(g.templates.Render(e.Kind, events.DataFor(e, user)))
	}

	if g.delay <= 0 {
		g.navigator.RedirectToLogin(e)
		return
	}

	g.mu.Lock()
	if g.pending != nil {
		g.pending.Stop()
	}
	g.pending = time.AfterFunc(g.delay, func() {
		g.navigator.RedirectToLogin(e)
	})
	g.mu.Unlock()
}

func (g *Guard) currentUser(ctx context.Context) string {
	if cred, err := g.store.Get(ctx); err == nil && cred != nil {
		if subject := cred.Subject(); subject != "" {
			return subject
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.user
}

func (g *Guard) cancelPending() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
}
