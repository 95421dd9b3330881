// Package guard decides whether a protected page renders, redirects to sign
// in, or shows an access-denied view.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/northwind-digital/agency/internal/authstate"
)

// DefaultRoleTimeout bounds the wait for role resolution after sign in.
const DefaultRoleTimeout = 2 * time.Second

// DefaultSignInRoute is where unauthenticated visitors are sent.
const DefaultSignInRoute = "/auth"

// ErrSourceClosed is returned when the state source stops before the guard
// reached a terminal status.
var ErrSourceClosed = errors.New("guard: state source closed")

// Status is the guard's render decision.
type Status int

const (
	StatusChecking Status = iota
	StatusUnauthenticated
	StatusAuthorized
	StatusForbidden
)

func (s Status) String() string {
	switch s {
	case StatusChecking:
		return "checking"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthorized:
		return "authorized"
	case StatusForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Terminal reports whether the status is final for a guard instance.
func (s Status) Terminal() bool {
	return s != StatusChecking
}

// Evaluate maps a state to a status. timedOut means the bounded wait for role
// resolution elapsed for the state's user.
func Evaluate(s authstate.State, timedOut bool) Status {
	switch s.Phase {
	case authstate.PhaseSignedOut:
		return StatusUnauthenticated
	case authstate.PhaseSignedIn:
		if s.Role == authstate.RoleResolved {
			if s.IsAdmin {
				return StatusAuthorized
			}
			return StatusForbidden
		}
		if timedOut {
			return StatusForbidden
		}
	}
	return StatusChecking
}

// StateSource publishes session state. authstate.Bootstrapper implements it.
type StateSource interface {
	Subscribe() (<-chan authstate.State, func())
}

// Navigator performs the redirect for unauthenticated visitors.
type Navigator interface {
	Redirect(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

// Redirect calls f.
func (f NavigatorFunc) Redirect(route string) { f(route) }

// Options configures a Guard.
type Options struct {
	RoleTimeout time.Duration
	SignInRoute string
	Navigator   Navigator
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Guard is a one-shot gate for a single page instance. It only reads state.
type Guard struct {
	source  StateSource
	opts    Options
	changes chan Status

	mu     sync.Mutex
	status Status
	ran    bool
}

// New constructs a Guard.
func New(source StateSource, opts Options) *Guard {
	if opts.RoleTimeout <= 0 {
		opts.RoleTimeout = DefaultRoleTimeout
	}
	if opts.SignInRoute == "" {
		opts.SignInRoute = DefaultSignInRoute
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guard{source: source, opts: opts, changes: make(chan Status, 4)}
}

// Status returns the latest decision.
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Changes streams every decision, starting with StatusChecking. It is closed
// when Run returns.
func (g *Guard) Changes() <-chan Status {
	return g.changes
}

// Run follows the state source until a terminal status is reached and
// returns it. On StatusUnauthenticated the navigator is asked to redirect.
func (g *Guard) Run(ctx context.Context) (Status, error) {
	g.mu.Lock()
	if g.ran {
		g.mu.Unlock()
		return g.Status(), errors.New("guard: already run")
	}
	g.ran = true
	g.mu.Unlock()
	defer close(g.changes)

	states, cancel := g.source.Subscribe()
	defer cancel()

	g.changes <- StatusChecking

	var (
		last      authstate.State
		timer     clock.Timer
		timeoutC  <-chan time.Time
		waitingOn string
		timedOut  bool
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		timeoutC = nil
	}
	defer stopTimer()

	for {
		select {
		case s, ok := <-states:
			if !ok {
				return g.Status(), ErrSourceClosed
			}
			last = s
			if s.Phase == authstate.PhaseSignedIn && s.Role == authstate.RoleUnresolved {
				if uid := s.UserID(); uid != waitingOn {
					stopTimer()
					waitingOn, timedOut = uid, false
					timer = g.opts.Clock.NewTimer(g.opts.RoleTimeout)
					timeoutC = timer.C()
				}
			}
		case <-timeoutC:
			timeoutC = nil
			timedOut = true
			g.opts.Logger.Warn("role check timed out", slog.String("user_id", waitingOn), slog.Duration("timeout", g.opts.RoleTimeout))
		case <-ctx.Done():
			return g.Status(), ctx.Err()
		}

		next := Evaluate(last, timedOut && last.UserID() == waitingOn)
		if next == g.Status() {
			continue
		}
		g.mu.Lock()
		g.status = next
		g.mu.Unlock()
		g.changes <- next
		if !next.Terminal() {
			continue
		}
		if next == StatusUnauthenticated && g.opts.Navigator != nil {
			g.opts.Navigator.Redirect(g.opts.SignInRoute)
		}
		return next, nil
	}
}
