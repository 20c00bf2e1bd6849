// Package guard decides what the console may show for the current session and
// keeps the operator on an allowed screen.
package guard

import (
	"log/slog"
	"sync"

	"shop-admin/internal/domain"
	"shop-admin/internal/session"
)

const (
	LocationLogin = "/login"
	LocationHome  = "/"
)

// Action is what a screen should do for a session and location
type Action int

const (
	ActionRender Action = iota
	ActionShowLoading
	ActionRedirect
)

func (a Action) String() string {
	switch a {
	case ActionShowLoading:
		return "show_loading"
	case ActionRedirect:
		return "redirect"
	default:
		return "render"
	}
}

// Decision is the outcome of Evaluate. Target is set for redirects only.
type Decision struct {
	Action Action
	Target string
}

// Evaluate is the routing rule. A loading session never shows protected content
// and never bounces to login.
func Evaluate(s domain.Snapshot, location string) Decision {
	switch {
	case s.IsLoading:
		return Decision{Action: ActionShowLoading}
	case !s.Authenticated() && location != LocationLogin:
		return Decision{Action: ActionRedirect, Target: LocationLogin}
	case s.Authenticated() && location == LocationLogin:
		return Decision{Action: ActionRedirect, Target: LocationHome}
	default:
		return Decision{Action: ActionRender}
	}
}

// Guard re-evaluates the routing rule whenever the session or the location
// changes and navigates on redirects.
type Guard struct {
	machine *session.Machine
	nav     *Navigator

	mu     sync.Mutex
	unsubs []func()
}

// New creates a Guard subscribed to machine and nav
func New(machine *session.Machine, nav *Navigator) *Guard {
	g := &Guard{
		machine: machine,
		nav:     nav,
	}
	g.unsubs = append(g.unsubs,
		machine.Subscribe(func(session.Event) { g.Enforce() }),
		nav.OnNavigate(func(from, to string) { g.Enforce() }),
	)
	return g
}

// Enforce evaluates the current session at the current location
func (g *Guard) Enforce() Decision {
	location := g.nav.Current()
	d := Evaluate(g.machine.Snapshot(), location)
	if d.Action == ActionRedirect {
		if g.nav.Navigate(d.Target) {
			slog.Debug("guard redirect",
				slog.String("from", location),
				slog.String("to", d.Target))
		}
	}
	return d
}

// Close stops reacting to session and location changes
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, unsub := range g.unsubs {
		unsub()
	}
	g.unsubs = nil
}
