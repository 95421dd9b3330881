package authstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/northwind-digital/agency/internal/identity"
)

var (
	// ErrNotStarted is returned by operations that need a running Bootstrapper.
	ErrNotStarted = errors.New("authstate: bootstrapper not started")
	// ErrClosed is returned once the Bootstrapper has been closed.
	ErrClosed = errors.New("authstate: bootstrapper closed")
)

const inboxSize = 64

// Bootstrapper owns the session and administrator state. All mutation runs
// on one goroutine; inputs are posted to it as closures.
type Bootstrapper struct {
	provider identity.Provider
	resolver Resolver
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan func()
	wg     sync.WaitGroup

	lifecycle   sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()
	stopParent  func() bool

	current atomic.Pointer[State]

	subMu    sync.Mutex
	subs     map[int]chan State
	watchers map[int]func(State)
	nextID   int

	// Owned by the loop goroutine.
	state      State
	sessionSeq uint64
	roleGen    uint64
	cancelRole context.CancelFunc
}

// New constructs a Bootstrapper. Nothing happens until Start.
func New(provider identity.Provider, resolver Resolver, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bootstrapper{
		provider: provider,
		resolver: resolver,
		logger:   logger.With(slog.String("module", "authstate")),
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan func(), inboxSize),
		subs:     make(map[int]chan State),
		watchers: make(map[int]func(State)),
		state:    State{Phase: PhaseLoading},
	}
	initial := b.state
	b.current.Store(&initial)
	return b
}

// Start registers the session-change subscription and issues the one-shot
// session query without waiting for either. Cancelling ctx stops the
// Bootstrapper as Close would, except that Close must still be called to
// release the subscription.
func (b *Bootstrapper) Start(ctx context.Context) {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true
	b.stopParent = context.AfterFunc(ctx, b.cancel)

	b.wg.Add(1)
	go b.loop()

	b.unsubscribe = b.provider.OnSessionChange(b.handleEvent)
	b.post(b.issueSessionQuery)
}

// Close tears down the subscription and waits for in-flight work to stop.
// Subscriber channels are closed.
func (b *Bootstrapper) Close() {
	b.lifecycle.Lock()
	if b.closed {
		b.lifecycle.Unlock()
		return
	}
	b.closed = true
	unsubscribe := b.unsubscribe
	stopParent := b.stopParent
	b.lifecycle.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if stopParent != nil {
		stopParent()
	}
	b.cancel()
	b.wg.Wait()

	b.subMu.Lock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	for id := range b.watchers {
		delete(b.watchers, id)
	}
	b.subMu.Unlock()
}

// Snapshot returns the most recently published State.
func (b *Bootstrapper) Snapshot() State {
	return *b.current.Load()
}

// Subscribe returns a channel carrying the current State followed by every
// later one. A slow reader only misses intermediate values, never the latest.
// The channel is closed by cancel or Close.
func (b *Bootstrapper) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.lifecycle.Lock()
	closed := b.closed
	b.lifecycle.Unlock()
	if closed {
		b.subMu.Unlock()
		ch <- b.Snapshot()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	offer(ch, b.Snapshot())
	b.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.subMu.Unlock()
		})
	}
}

// Watch calls fn with every published State, in order, on the Bootstrapper's
// goroutine. fn must not block or call back into the Bootstrapper.
func (b *Bootstrapper) Watch(fn func(State)) func() {
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.watchers[id] = fn
	b.subMu.Unlock()
	return func() {
		b.subMu.Lock()
		delete(b.watchers, id)
		b.subMu.Unlock()
	}
}

// Await blocks until a published State satisfies pred.
func (b *Bootstrapper) Await(ctx context.Context, pred func(State) bool) (State, error) {
	ch, cancel := b.Subscribe()
	defer cancel()
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return b.Snapshot(), ErrClosed
			}
			if pred(s) {
				return s, nil
			}
		case <-ctx.Done():
			return b.Snapshot(), ctx.Err()
		}
	}
}

// SignOut signs out at the provider and clears the local user and
// administrator flag in one update. The local state is cleared even when the
// provider call fails.
func (b *Bootstrapper) SignOut(ctx context.Context) error {
	b.lifecycle.Lock()
	started, closed := b.started, b.closed
	b.lifecycle.Unlock()
	if !started {
		return ErrNotStarted
	}
	if closed {
		return ErrClosed
	}

	providerErr := b.provider.SignOut(ctx)
	if providerErr != nil {
		b.logger.Warn("provider sign out failed", slog.Any("error", providerErr))
	}

	applied := make(chan struct{})
	if !b.post(func() {
		b.sessionSeq++
		b.setSession(nil)
		close(applied)
	}) {
		return ErrClosed
	}
	select {
	case <-applied:
	case <-b.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if providerErr != nil {
		return fmt.Errorf("authstate: sign out: %w", providerErr)
	}
	return nil
}

func (b *Bootstrapper) loop() {
	defer b.wg.Done()
	for {
		select {
		case fn := <-b.inbox:
			fn()
		case <-b.ctx.Done():
			b.stopRoleLookup()
			return
		}
	}
}

func (b *Bootstrapper) post(fn func()) bool {
	select {
	case b.inbox <- fn:
		return true
	case <-b.ctx.Done():
		return false
	}
}

// handleEvent runs on the provider's goroutine.
func (b *Bootstrapper) handleEvent(ev identity.Event) {
	b.post(func() {
		b.sessionSeq++
		if ev.Kind == identity.EventSignedOut {
			b.setSession(nil)
			return
		}
		b.setSession(ev.Session)
	})
}

// issueSessionQuery tags the one-shot query with the current session
// sequence. Its answer only applies when no change event landed meanwhile.
func (b *Bootstrapper) issueSessionQuery() {
	tag := b.sessionSeq
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sess, err := b.provider.CurrentSession(b.ctx)
		b.post(func() { b.applySessionQuery(tag, sess, err) })
	}()
}

func (b *Bootstrapper) applySessionQuery(tag uint64, sess *identity.Session, err error) {
	if tag != b.sessionSeq {
		return
	}
	if err != nil {
		b.logger.Warn("session query failed, treating as signed out", slog.Any("error", err))
		b.setSession(nil)
		return
	}
	b.setSession(sess)
}

func (b *Bootstrapper) setSession(sess *identity.Session) {
	if sess == nil || sess.User.ID == "" {
		if b.state.Phase == PhaseSignedOut {
			return
		}
		b.stopRoleLookup()
		b.publish(signedOutState())
		return
	}

	copied := *sess
	next := b.state
	sameUser := b.state.Phase == PhaseSignedIn && b.state.UserID() == sess.User.ID
	next.Phase = PhaseSignedIn
	next.Session = &copied
	if sameUser {
		b.publish(next)
		return
	}
	b.stopRoleLookup()
	next.Role = RoleUnresolved
	next.IsAdmin = false
	b.publish(next)
	b.startRoleLookup(sess.User.ID)
}

func (b *Bootstrapper) startRoleLookup(userID string) {
	b.roleGen++
	gen := b.roleGen
	ctx, cancel := context.WithCancel(b.ctx)
	b.cancelRole = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		isAdmin := b.resolver.Resolve(ctx, userID)
		b.post(func() { b.applyRole(gen, userID, isAdmin) })
	}()
}

// stopRoleLookup invalidates any in-flight lookup.
func (b *Bootstrapper) stopRoleLookup() {
	b.roleGen++
	if b.cancelRole != nil {
		b.cancelRole()
		b.cancelRole = nil
	}
}

func (b *Bootstrapper) applyRole(gen uint64, userID string, isAdmin bool) {
	if gen != b.roleGen || b.state.Phase != PhaseSignedIn || b.state.UserID() != userID {
		return
	}
	if b.cancelRole != nil {
		b.cancelRole()
		b.cancelRole = nil
	}
	next := b.state
	next.Role = RoleResolved
	next.IsAdmin = isAdmin
	b.publish(next)
}

func (b *Bootstrapper) publish(next State) {
	next.Version = b.state.Version + 1
	b.state = next
	snapshot := next

	b.subMu.Lock()
	b.current.Store(&snapshot)
	for _, ch := range b.subs {
		offer(ch, snapshot)
	}
	watchers := make([]func(State), 0, len(b.watchers))
	for _, fn := range b.watchers {
		watchers = append(watchers, fn)
	}
	b.subMu.Unlock()

	for _, fn := range watchers {
		fn(snapshot)
	}
}

// offer delivers s on a one-slot channel, replacing an unread older value.
// Only callers holding subMu send, so the final send cannot block.
func offer(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- s
}
