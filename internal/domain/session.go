package domain

// SessionState is the coarse state derived from a Snapshot
type SessionState int

const (
	StateUnknown SessionState = iota
	StateAnonymous
	StateAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of the in-memory session.
// Token and Profile are either both set or both empty.
type Snapshot struct {
	Token     string   `json:"-"`
	Profile   *Profile `json:"profile,omitempty"`
	IsLoading bool     `json:"is_loading"`
	Error     string   `json:"error,omitempty"`
}

// State derives the session state. While loading without a token the state is unknown.
func (s Snapshot) State() SessionState {
	switch {
	case s.Token != "" && s.Profile != nil:
		return StateAuthenticated
	case s.IsLoading:
		return StateUnknown
	default:
		return StateAnonymous
	}
}

// Authenticated reports whether the snapshot carries credentials
func (s Snapshot) Authenticated() bool {
	return s.State() == StateAuthenticated
}
