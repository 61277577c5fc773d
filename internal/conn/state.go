package conn

// State is the single source of truth for a connection's lifecycle. There
// are no side-channel booleans: authenticated means StateAuthenticated,
// torn down means StateClosed.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthPending
	StateAuthenticated
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthPending:
		return "auth_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
