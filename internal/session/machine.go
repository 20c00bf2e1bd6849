// Package session holds the single in-memory representation of the console's
// authentication state.
//
// The Machine is mutated only through its transitions. Every transition notifies
// subscribers synchronously, after the change is applied and outside the state lock,
// so a listener may read Snapshot or trigger navigation. Transitions that touch the
// credential store are serialized with their storage side effects, keeping the order
// of writes and removals in step with the order of state changes. Storage side effects
// outlive the caller's context: a session cleared in memory is also cleared on disk.
package session

import (
	"context"
	"log/slog"
	"sync"

	"shop-admin/internal/domain"
	"shop-admin/internal/observability"
)

// Transition names a state change
type Transition string

const (
	TransitionBeginLoad    Transition = "begin_load"
	TransitionFail         Transition = "fail"
	TransitionAuthenticate Transition = "authenticate"
	TransitionClear        Transition = "clear"
	TransitionExpire       Transition = "expire"
	TransitionFinishLoad   Transition = "finish_load"
)

// Event is delivered to subscribers after each transition
type Event struct {
	Transition Transition
	Previous   domain.Snapshot
	Current    domain.Snapshot
}

// Listener receives session events
type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}

// Machine is the authoritative session state
type Machine struct {
	store domain.CredentialStore

	// held across a transition and its storage side effect
	transitionMu sync.Mutex

	mu    sync.RWMutex
	state domain.Snapshot

	listenersMu sync.Mutex
	listeners   []subscription
	nextID      int
}

// NewMachine creates a Machine in the initial unknown state
func NewMachine(store domain.CredentialStore) *Machine {
	return &Machine{
		store: store,
		state: domain.Snapshot{IsLoading: true},
	}
}

// Snapshot returns the current session
func (m *Machine) Snapshot() domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers fn for every subsequent transition. The returned function
// removes the subscription.
func (m *Machine) Subscribe(fn Listener) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		for i, sub := range m.listeners {
			if sub.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// BeginLoad marks the session as loading and clears the last error
func (m *Machine) BeginLoad() {
	m.apply(TransitionBeginLoad, func(s *domain.Snapshot) {
		s.IsLoading = true
		s.Error = ""
	})
}

// Fail records message and stops loading. Credentials are left untouched.
func (m *Machine) Fail(message string) {
	m.apply(TransitionFail, func(s *domain.Snapshot) {
		s.Error = message
		s.IsLoading = false
	})
}

// FinishLoad stops loading without touching anything else
func (m *Machine) FinishLoad() {
	m.apply(TransitionFinishLoad, func(s *domain.Snapshot) {
		s.IsLoading = false
	})
}

// Authenticate signs the session in and persists both credential keys. Storage
// failures are logged only: the in-memory session already reflects the sign-in.
func (m *Machine) Authenticate(ctx context.Context, token string, profile *domain.Profile) {
	if token == "" || profile == nil {
		slog.Warn("ignoring authenticate without token and profile")
		return
	}
	p := *profile

	m.transitionMu.Lock()
	event := m.set(TransitionAuthenticate, func(s *domain.Snapshot) {
		s.Token = token
		s.Profile = &p
		s.Error = ""
		s.IsLoading = false
	})
	m.persist(context.WithoutCancel(ctx), token, &p)
	m.transitionMu.Unlock()

	slog.Info("session authenticated",
		slog.String("username", p.Username),
		slog.String("shop", p.ShopName))
	m.notify(event)
}

// Clear resets to the empty anonymous session and removes both credential keys
func (m *Machine) Clear(ctx context.Context) {
	m.reset(ctx, TransitionClear)
}

// Expire is Clear caused by the API rejecting the session
func (m *Machine) Expire(ctx context.Context) {
	m.reset(ctx, TransitionExpire)
}

func (m *Machine) reset(ctx context.Context, t Transition) {
	m.transitionMu.Lock()
	event := m.set(t, func(s *domain.Snapshot) {
		*s = domain.Snapshot{}
	})
	RemoveCredentials(context.WithoutCancel(ctx), m.store)
	m.transitionMu.Unlock()

	if event.Previous.Authenticated() {
		slog.Info("session cleared", slog.String("transition", string(t)))
	}
	m.notify(event)
}

func (m *Machine) apply(t Transition, mutate func(*domain.Snapshot)) {
	m.transitionMu.Lock()
	event := m.set(t, mutate)
	m.transitionMu.Unlock()

	m.notify(event)
}

func (m *Machine) set(t Transition, mutate func(*domain.Snapshot)) Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	mutate(&m.state)
	observability.SessionTransitionsTotal.WithLabelValues(string(t)).Inc()

	return Event{Transition: t, Previous: prev, Current: m.state}
}

func (m *Machine) notify(event Event) {
	m.listenersMu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, sub := range m.listeners {
		listeners = append(listeners, sub.fn)
	}
	m.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}

func (m *Machine) persist(ctx context.Context, token string, profile *domain.Profile) {
	encoded, err := profile.Encode()
	if err != nil {
		slog.Error("failed to encode profile", slog.String("error", err.Error()))
		return
	}
	if batch, ok := m.store.(domain.BatchStore); ok {
		values := map[string]string{domain.KeyToken: token, domain.KeyProfile: encoded}
		if err := batch.SetAll(ctx, values); err != nil {
			slog.Error("failed to persist session", slog.String("error", err.Error()))
		}
		return
	}
	if err := m.store.Set(ctx, domain.KeyToken, token); err != nil {
		slog.Error("failed to persist session token", slog.String("error", err.Error()))
	}
	if err := m.store.Set(ctx, domain.KeyProfile, encoded); err != nil {
		slog.Error("failed to persist session profile", slog.String("error", err.Error()))
	}
}

// RemoveCredentials removes every persisted credential key from store. Failures are
// logged and the remaining keys are still attempted.
func RemoveCredentials(ctx context.Context, store domain.CredentialStore) {
	for _, key := range domain.CredentialKeys {
		if err := store.Remove(ctx, key); err != nil {
			slog.Error("failed to remove credential",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}
}
