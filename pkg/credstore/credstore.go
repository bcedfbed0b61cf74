// Package credstore persists the credential the HTTP client reads at call
// time: the current bearer token, an optional refresh token, and whether
// the identity is a guest.
//
// The store is the single source of truth for outgoing calls. It is written
// by the session bridge (reconciliation) and by the client guard (guest
// replacement, 401 recovery), and survives process restarts through the
// Bolt and SQLite drivers. Reads never fail: a driver that cannot reach its
// backing store reports the zero Credential, which callers must treat as
// "no credential".
package credstore

// DefaultNamespace groups the three credential keys in durable drivers.
const DefaultNamespace = "quizwell.auth"

// The three independent logical keys. Durable drivers mirror every
// mutation under these keys so a partial write leaves at most one key
// stale; readers tolerate the resulting inconsistency because an empty
// bearer token is authoritative regardless of the other two.
const (
	keyToken   = "token"
	keyIsGuest = "isGuest"
	keyRefresh = "refreshToken"
)

// Credential is what the HTTP client attaches to outgoing calls. Empty
// strings mean absent.
type Credential struct {
	BearerToken  string
	RefreshToken string
	IsGuest      bool
}

// HasToken reports whether a bearer token is present. An empty BearerToken
// means "no credential" no matter what the other fields say.
func (c Credential) HasToken() bool { return c.BearerToken != "" }

// IsZero reports the canonical no-credential state.
func (c Credential) IsZero() bool {
	return c.BearerToken == "" && c.RefreshToken == "" && !c.IsGuest
}

// Store is the credential persistence contract. All three operations are
// synchronous; Get never fails. Set with an empty bearer token is
// equivalent to Clear.
type Store interface {
	Get() Credential
	Set(bearerToken string, isGuest bool, refreshToken string)
	Clear()
}

// normalize applies the credential invariants before a write: an empty
// bearer token collapses to the zero credential, and guest identities are
// never refreshable.
func normalize(bearerToken string, isGuest bool, refreshToken string) Credential {
	if bearerToken == "" {
		return Credential{}
	}
	if isGuest {
		refreshToken = ""
	}
	return Credential{
		BearerToken:  bearerToken,
		RefreshToken: refreshToken,
		IsGuest:      isGuest,
	}
}
