// Package session tracks who is using the portal. The end user comes from
// the identity provider and the admin session from a persisted flag; the two
// are independent and each has its own guard.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"lost-found-portal/pkg/flags"
	"lost-found-portal/pkg/logger"
	"lost-found-portal/pkg/models"
)

var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrSignUpInProgress = errors.New("sign-up already in progress")
)

// EndUserState is the end-user automaton.
type EndUserState int

const (
	// StateUnknown holds until the provider reports for the first time.
	StateUnknown EndUserState = iota
	// StateTransitioning covers a sign-up; nothing authenticates here.
	StateTransitioning
	StateAnonymous
	StateAuthenticated
)

func (s EndUserState) String() string {
	switch s {
	case StateTransitioning:
		return "transitioning"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

func (s EndUserState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Snapshot is the gate state at one moment.
type Snapshot struct {
	EndUser  EndUserState     `json:"end_user"`
	Identity *models.Identity `json:"identity,omitempty"`
	Admin    bool             `json:"admin"`
}

// SessionSource is the part of identity.Provider the gate listens to.
type SessionSource interface {
	OnSessionChange(fn func(*models.Identity)) (unsubscribe func())
}

type Gate struct {
	flags flags.Store
	log   *zap.Logger

	// emitMu keeps listener deliveries in the order states were reached.
	emitMu sync.Mutex

	mu       sync.Mutex
	state    EndUserState
	identity *models.Identity
	admin    bool
	// set once another context has changed the admin flag
	adminHeard bool

	// last identity the provider reported, whatever the gate made of it
	reported *models.Identity
	seen     bool

	// sign-up window bookkeeping
	windowSeen    map[string]bool
	windowPending map[string]bool
	suppress      string

	listeners map[int]func(Snapshot)
	nextID    int

	ready     chan struct{}
	readyOnce sync.Once

	stopSession func()
	stopFlags   func()
	closeOnce   sync.Once
}

// NewGate starts listening to src and to admin flag changes from other
// contexts. The admin state is read synchronously from the flag store once
// the watch is in place, so no change can fall between the two.
func NewGate(src SessionSource, store flags.Store, log *zap.Logger) *Gate {
	g := &Gate{
		flags:     store,
		log:       logger.OrNop(log),
		state:     StateUnknown,
		listeners: make(map[int]func(Snapshot)),
		ready:     make(chan struct{}),
	}
	g.stopFlags = store.Watch(g.onFlag)

	admin := flags.Enabled(store, flags.KeyAdmin)
	g.mu.Lock()
	if !g.adminHeard {
		g.admin = admin
	}
	g.mu.Unlock()

	g.stopSession = src.OnSessionChange(g.onSession)
	return g
}

// Close disposes the provider and flag listeners.
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		g.stopSession()
		g.stopFlags()
	})
}

// WaitReady blocks until the provider has reported the session once.
func (g *Gate) WaitReady(ctx context.Context) error {
	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) State() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Gate) snapshotLocked() Snapshot {
	s := Snapshot{EndUser: g.state, Admin: g.admin}
	if g.identity != nil {
		id := *g.identity
		s.Identity = &id
	}
	return s
}

func (g *Gate) RequireEndUser() (models.Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated || g.identity == nil {
		return models.Identity{}, ErrUnauthenticated
	}
	return *g.identity, nil
}

func (g *Gate) RequireAdmin() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.admin {
		return ErrUnauthorized
	}
	return nil
}

// OnChange registers fn for every state change. Listeners run on the
// goroutine that caused the change and must not call LoginAdmin,
// LogoutAdmin or the sign-up methods.
func (g *Gate) OnChange(fn func(Snapshot)) (cancel func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

// update applies fn under the state lock and then tells listeners, in order,
// if fn reports a change.
func (g *Gate) update(fn func() bool) {
	g.emitMu.Lock()
	defer g.emitMu.Unlock()

	g.mu.Lock()
	changed := fn()
	snap := g.snapshotLocked()
	var fns []func(Snapshot)
	if changed {
		fns = make([]func(Snapshot), 0, len(g.listeners))
		for _, l := range g.listeners {
			fns = append(fns, l)
		}
	}
	g.mu.Unlock()

	for _, l := range fns {
		l(snap)
	}
}

func (g *Gate) onSession(id *models.Identity) {
	g.readyOnce.Do(func() { close(g.ready) })

	g.update(func() bool {
		g.reported, g.seen = id, true

		if g.state == StateTransitioning {
			if id != nil {
				g.windowSeen[id.UserID] = true
				g.windowPending[id.UserID] = true
			} else {
				clear(g.windowPending)
			}
			return false
		}

		if g.suppress != "" {
			if id != nil && id.UserID == g.suppress {
				g.log.Debug("ignoring session of freshly created account")
				return false
			}
			g.suppress = ""
		}
		return g.applyLocked(id)
	})
}

func (g *Gate) applyLocked(id *models.Identity) bool {
	prevState, prev := g.state, g.identity
	if id == nil {
		g.state, g.identity = StateAnonymous, nil
	} else {
		cp := *id
		g.state, g.identity = StateAuthenticated, &cp
	}
	return prevState != g.state || !sameIdentity(prev, g.identity)
}

func sameIdentity(a, b *models.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// BeginSignUp enters the transitioning state. Provider notifications are
// recorded but do not authenticate until Settle or AbortSignUp.
func (g *Gate) BeginSignUp() error {
	var err error
	g.update(func() bool {
		if g.state == StateTransitioning {
			err = ErrSignUpInProgress
			return false
		}
		g.state, g.identity = StateTransitioning, nil
		g.windowSeen = make(map[string]bool)
		g.windowPending = make(map[string]bool)
		g.suppress = ""
		return true
	})
	return err
}

// Settle ends a successful sign-up as anonymous. If the provider has not yet
// reported the created account as signed in and then signed out, later
// reports of that account are ignored until the provider reports anything
// else.
func (g *Gate) Settle(created *models.Identity) {
	g.update(func() bool {
		if g.state != StateTransitioning {
			return false
		}
		if created != nil && (!g.windowSeen[created.UserID] || g.windowPending[created.UserID]) {
			g.suppress = created.UserID
		}
		g.windowSeen, g.windowPending = nil, nil
		g.state, g.identity = StateAnonymous, nil
		return true
	})
}

// AbortSignUp ends a failed sign-up with whatever the provider last said.
func (g *Gate) AbortSignUp() {
	g.update(func() bool {
		if g.state != StateTransitioning {
			return false
		}
		g.windowSeen, g.windowPending = nil, nil
		if !g.seen {
			g.state = StateUnknown
			return true
		}
		g.applyLocked(g.reported)
		return true
	})
}

// LoginAdmin sets the persisted admin flag. Other contexts converge through
// the flag store's change notification.
func (g *Gate) LoginAdmin() error {
	if err := g.flags.Set(flags.KeyAdmin, "true"); err != nil {
		return err
	}
	g.setAdmin(true)
	return nil
}

func (g *Gate) LogoutAdmin() error {
	if err := g.flags.Delete(flags.KeyAdmin); err != nil {
		return err
	}
	g.setAdmin(false)
	return nil
}

func (g *Gate) setAdmin(v bool) {
	g.update(func() bool {
		changed := g.admin != v
		g.admin = v
		return changed
	})
}

func (g *Gate) onFlag(c flags.Change) {
	if c.Key != flags.KeyAdmin {
		return
	}
	v := !c.Deleted && c.Value == "true"
	g.update(func() bool {
		g.adminHeard = true
		changed := g.admin != v
		g.admin = v
		return changed
	})
}
