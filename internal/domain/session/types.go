// Package session contains the authenticated-session state and the types
// persisted between runs.
package session

// State is the lifecycle state of the authenticated portal session.
//
//	Unauthenticated -> Authenticating -> Authenticated
//	Authenticated   -> Expired        (a page came back as a login or stale page)
//	Expired         -> Authenticating
//	Authenticating  -> Unauthenticated (login retries exhausted)
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	Expired
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}
