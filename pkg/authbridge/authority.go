package authbridge

import (
	"context"

	"github.com/quizwell/authbridge/pkg/credstore"
)

// Status is the session authority's view of the current user.
type Status int

const (
	// StatusLoading means the authority has not resolved yet.
	StatusLoading Status = iota
	// StatusAuthenticated means the authority holds a live session.
	StatusAuthenticated
	// StatusUnauthenticated means there is no session.
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Session is the authority's session object as the bridge sees it. The
// authority owns it; the bridge only reads it. Different authorities name
// the token field differently, so both spellings exist and
// normalizeSession resolves them once at the boundary.
type Session struct {
	// Token is the legacy field name some authority callers populate.
	Token string
	// AccessToken is the preferred field; it wins when both are set.
	AccessToken string
	// RefreshToken is optional; guest sessions never carry one.
	RefreshToken string
	// ShouldPersist hints that the token should be written into the
	// credential store. Opaque: the bridge never infers it from other
	// fields.
	ShouldPersist bool
}

// Snapshot is one observation of the authority's state.
type Snapshot struct {
	Status  Status
	Session Session
}

// Authority is the upstream session owner. Login and OAuth flows live
// behind it; the bridge only reads snapshots and can request a sign-out.
type Authority interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	SignOut(ctx context.Context) error
}

// normalizeSession maps the authority's heterogeneous session shape into
// the internal credential type exactly once, so everything downstream
// sees one stable shape. Sessions from the authority are never guests.
func normalizeSession(s Session) credstore.Credential {
	token := s.AccessToken
	if token == "" {
		token = s.Token
	}
	return credstore.Credential{
		BearerToken:  token,
		RefreshToken: s.RefreshToken,
		IsGuest:      false,
	}
}
