package authbridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quizwell/authbridge/pkg/credstore"
	"github.com/quizwell/authbridge/pkg/slogx"
	"github.com/quizwell/authbridge/pkg/tokenx"
)

// State is the derived reconciliation state. It is never persisted.
type State int

const (
	// StateLoading holds while the authority's status is indeterminate.
	StateLoading State = iota
	// StateSyncedAuthenticated means the store reflects a live session.
	StateSyncedAuthenticated
	// StateSyncedGuest means the store holds a guest credential, or none
	// and the next outgoing call will mint one lazily.
	StateSyncedGuest
	// StateUnsynced is transient; a later reconciliation or the guest
	// fallback resolves it.
	StateUnsynced
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSyncedAuthenticated:
		return "synced_authenticated"
	case StateSyncedGuest:
		return "synced_guest"
	case StateUnsynced:
		return "unsynced"
	default:
		return "unknown"
	}
}

// Reason explains a failed EnsureAuthenticated check. The page layer maps
// these onto redirect-vs-inline-message behaviour; the bridge has no UI.
type Reason string

const (
	ReasonLoading         Reason = "loading"
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonTokenMissing    Reason = "token_missing"
	ReasonTokenExpired    Reason = "token_expired"
	ReasonGuestToken      Reason = "guest_token"
	ReasonTokenInvalid    Reason = "token_invalid"
	ReasonSyncFailed      Reason = "sync_failed"
)

// CheckResult is the outcome of EnsureAuthenticated. Expected failures are
// values, not errors.
type CheckResult struct {
	OK     bool
	Reason Reason
}

var okResult = CheckResult{OK: true}

func failure(reason Reason) CheckResult { return CheckResult{Reason: reason} }

// TokenAPI is the slice of the remote API the bridge needs: verification
// and refresh exchange. *Client implements it.
type TokenAPI interface {
	VerifyToken(ctx context.Context, token string) error
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// Bridge reconciles the session authority with the credential store.
type Bridge struct {
	authority Authority
	store     credstore.Store
	api       TokenAPI
	log       *slog.Logger
	events    *Broadcaster

	// verify enables the remote is-this-token-still-accepted call inside
	// EnsureAuthenticated.
	verify bool

	mu    sync.Mutex
	state State

	readyOnce sync.Once
	ready     chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithVerification makes EnsureAuthenticated confirm stored and refreshed
// tokens against the remote API before trusting them.
func WithVerification() Option {
	return func(b *Bridge) { b.verify = true }
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = slogx.Component(l, "bridge") }
}

// New constructs a Bridge. The store is the single shared mutable resource
// between the bridge and the client guard; inject the same instance into
// both.
func New(authority Authority, store credstore.Store, api TokenAPI, opts ...Option) *Bridge {
	b := &Bridge{
		authority: authority,
		store:     store,
		api:       api,
		log:       slogx.Component(nil, "bridge"),
		events:    NewBroadcaster(),
		state:     StateLoading,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Events exposes the credential event channel.
func (b *Bridge) Events() *Broadcaster { return b.events }

// State reports the current reconciliation state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Ready is closed once reconciliation first reaches a terminal state
// (synced-authenticated or synced-guest). Dependent UI can block on it.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()

	if s == StateSyncedAuthenticated || s == StateSyncedGuest {
		b.readyOnce.Do(func() { close(b.ready) })
	}
}

// Synchronize reconciles one authority snapshot into the credential store.
// It is idempotent: feeding the same snapshot twice leaves the store as a
// single run would. Safe to call on every authority update; a superseded
// run writing stale data is corrected by the next one.
func (b *Bridge) Synchronize(ctx context.Context, snap Snapshot) {
	switch snap.Status {
	case StatusLoading:
		b.setState(StateLoading)
		return

	case StatusAuthenticated:
		cred := normalizeSession(snap.Session)
		if !cred.HasToken() {
			// Authenticated but no token exposed: nothing adoptable, treat
			// like a lost session so the guard can fall back to guest.
			b.log.Warn("authority reported authenticated session without a token")
			b.discardSession()
			return
		}

		if snap.Session.ShouldPersist {
			b.store.Set(cred.BearerToken, false, cred.RefreshToken)
			b.events.Publish(Event{Type: EventTokenUpdated})
			b.log.Debug("adopted session credential",
				"has_refresh", cred.RefreshToken != "")
		}
		// Without the persist hint the store already holds the correct
		// value from a prior synchronization; do not overwrite.
		b.setState(StateSyncedAuthenticated)
		return

	case StatusUnauthenticated:
		b.discardSession()
		return

	default:
		b.setState(StateUnsynced)
	}
}

// discardSession handles the no-session cases: authenticated credentials
// are cleared (logout or server-side expiry), guest credentials are kept,
// and an empty store stays empty with guest issuance left to the next
// outgoing call.
func (b *Bridge) discardSession() {
	cur := b.store.Get()
	if cur.HasToken() && !cur.IsGuest {
		b.store.Clear()
		b.events.Publish(Event{Type: EventSignedOut})
		b.log.Info("cleared authenticated credential after session loss")
	}
	b.setState(StateSyncedGuest)
}

// Resync pulls a fresh snapshot from the authority and reconciles it.
func (b *Bridge) Resync(ctx context.Context) error {
	snap, err := b.authority.Snapshot(ctx)
	if err != nil {
		b.setState(StateUnsynced)
		return err
	}
	b.Synchronize(ctx, snap)
	return nil
}

// SignOut asks the authority to discard the session and clears any
// authenticated credential. Guest credentials survive: anonymous access
// does not end at logout.
func (b *Bridge) SignOut(ctx context.Context) error {
	err := b.authority.SignOut(ctx)

	cur := b.store.Get()
	if cur.HasToken() && !cur.IsGuest {
		b.store.Clear()
	}
	b.events.Publish(Event{Type: EventSignedOut})
	b.setState(StateSyncedGuest)
	return err
}

// EnsureAuthenticated is the strict on-demand check pages run before
// rendering protected content. The step order is load-bearing: verify
// before refreshing so a valid token never burns a refresh exchange, and
// fall back to the authority before giving up to cover the startup race
// where the authority resolves after the store was initialized from stale
// data.
//
// A panicking store or API layer is downgraded to sync_failed here; this
// is the top of the bridge and nothing above it expects exceptions.
func (b *Bridge) EnsureAuthenticated(ctx context.Context) (res CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("ensure-authenticated recovered from panic", "panic", r)
			res = failure(ReasonSyncFailed)
		}
	}()

	snap, err := b.authority.Snapshot(ctx)
	if err != nil {
		b.log.Warn("authority snapshot failed", "err", err)
		return failure(ReasonSyncFailed)
	}

	if snap.Status == StatusLoading {
		return failure(ReasonLoading)
	}
	if snap.Status != StatusAuthenticated {
		return failure(ReasonUnauthenticated)
	}

	cred := b.store.Get()

	// Stored non-guest token still inside its lifetime wins outright.
	if cred.HasToken() && !cred.IsGuest && !tokenx.IsExpired(cred.BearerToken) {
		return b.acceptToken(ctx, cred.BearerToken, cred.RefreshToken, false)
	}

	attemptedRecovery := false

	// Expired or missing token with a refresh token: exchange it.
	if cred.RefreshToken != "" {
		attemptedRecovery = true
		if res, ok := b.refreshAndPersist(ctx, cred.RefreshToken); ok {
			return res
		}
	}

	// Last resort: the authority itself may hold a token the store never
	// absorbed. Re-query rather than trusting the snapshot from the top
	// of this call.
	snap, err = b.authority.Snapshot(ctx)
	if err == nil && snap.Status == StatusAuthenticated {
		fresh := normalizeSession(snap.Session)

		if fresh.HasToken() && !tokenx.IsExpired(fresh.BearerToken) {
			attemptedRecovery = true
			return b.acceptToken(ctx, fresh.BearerToken, fresh.RefreshToken, true)
		}

		if fresh.RefreshToken != "" && fresh.RefreshToken != cred.RefreshToken {
			attemptedRecovery = true
			if res, ok := b.refreshAndPersist(ctx, fresh.RefreshToken); ok {
				return res
			}
		}
	}

	return failure(b.classifyFailure(attemptedRecovery))
}

// acceptToken optionally verifies a candidate token against the remote
// API, persists it when asked, and reports the final check result. Any
// verification failure clears the store: a rejected token is worse than
// no token, because it would 401 on every call.
func (b *Bridge) acceptToken(ctx context.Context, token, refreshToken string, persist bool) CheckResult {
	if b.verify {
		if err := b.api.VerifyToken(ctx, token); err != nil {
			b.log.Info("stored token rejected by remote verification", "err", err)
			b.store.Clear()
			return failure(ReasonTokenInvalid)
		}
	}

	if persist {
		b.store.Set(token, false, refreshToken)
		b.events.Publish(Event{Type: EventTokenUpdated})
	}
	return okResult
}

// refreshAndPersist exchanges a refresh token and persists the new pair.
// Returns ok=false when the exchange failed and the caller should fall
// through to the next recovery step.
func (b *Bridge) refreshAndPersist(ctx context.Context, refreshToken string) (CheckResult, bool) {
	pair, err := b.api.Refresh(ctx, refreshToken)
	if err != nil {
		b.log.Warn("refresh exchange failed", "err", err)
		return CheckResult{}, false
	}

	return b.acceptToken(ctx, pair.AccessToken, pair.RefreshToken, true), true
}

// classifyFailure picks the most specific reason for the page layer once
// every recovery path is exhausted.
func (b *Bridge) classifyFailure(attemptedRecovery bool) Reason {
	if attemptedRecovery {
		return ReasonSyncFailed
	}

	cur := b.store.Get()
	switch {
	case cur.HasToken() && cur.IsGuest:
		return ReasonGuestToken
	case cur.HasToken() && tokenx.IsExpired(cur.BearerToken):
		return ReasonTokenExpired
	case !cur.HasToken():
		return ReasonTokenMissing
	default:
		return ReasonSyncFailed
	}
}
