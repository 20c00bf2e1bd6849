package guard

import "sync"

// NavigateFunc observes a location change
type NavigateFunc func(from, to string)

// Navigator holds the console's current location. Navigating to the current
// location is a no-op, so overlapping redirects to the same screen collapse into one.
type Navigator struct {
	mu      sync.Mutex
	current string

	listenersMu sync.Mutex
	listeners   map[int]NavigateFunc
	order       []int
	nextID      int
}

// NewNavigator creates a Navigator positioned at initial
func NewNavigator(initial string) *Navigator {
	return &Navigator{
		current:   initial,
		listeners: make(map[int]NavigateFunc),
	}
}

// Current returns the current location
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Navigate moves to location and reports whether it changed
func (n *Navigator) Navigate(location string) bool {
	n.mu.Lock()
	if n.current == location {
		n.mu.Unlock()
		return false
	}
	from := n.current
	n.current = location
	n.mu.Unlock()

	for _, fn := range n.snapshotListeners() {
		fn(from, location)
	}
	return true
}

// OnNavigate registers fn for location changes and returns a func that removes it
func (n *Navigator) OnNavigate(fn NavigateFunc) func() {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()

	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.order = append(n.order, id)

	return func() {
		n.listenersMu.Lock()
		defer n.listenersMu.Unlock()
		if _, ok := n.listeners[id]; !ok {
			return
		}
		delete(n.listeners, id)
		for i, o := range n.order {
			if o == id {
				n.order = append(n.order[:i:i], n.order[i+1:]...)
				break
			}
		}
	}
}

func (n *Navigator) snapshotListeners() []NavigateFunc {
	n.listenersMu.Lock()
	defer n.listenersMu.Unlock()

	fns := make([]NavigateFunc, 0, len(n.listeners))
	for _, id := range n.order {
		if fn, ok := n.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}
