// Package httpguard wraps the app's HTTP transport with credential
// middleware: every outgoing call carries the stored bearer token, missing
// or expired credentials are replaced with a fresh guest token before
// sending, and a 401 response is retried exactly once with a newly issued
// guest token.
//
// The single-retry cap is the failure-containment rule: the guard can
// never loop against a persistently failing auth backend. The cost is
// that a 401 occasionally reaches user-facing code when both the original
// credential and the fresh guest credential are rejected.
package httpguard

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/quizwell/authbridge/pkg/authbridge"
	"github.com/quizwell/authbridge/pkg/credstore"
	"github.com/quizwell/authbridge/pkg/idx"
	"github.com/quizwell/authbridge/pkg/slogx"
	"github.com/quizwell/authbridge/pkg/tokenx"
)

// maxAuthRetries caps 401 recovery per call. The count is threaded
// explicitly through roundTrip so the invariant is structural, not a flag
// stamped onto the request.
const maxAuthRetries = 1

// GuestIssuer mints anonymous bearer tokens. *authbridge.Client satisfies it.
type GuestIssuer interface {
	IssueGuestToken(ctx context.Context) (string, error)
}

// Guard is the credential middleware. It implements http.RoundTripper, so
// plug it into an http.Client as its Transport.
type Guard struct {
	base   http.RoundTripper
	store  credstore.Store
	issuer GuestIssuer
	log    *slog.Logger
	events *authbridge.Broadcaster
}

// Option configures a Guard.
type Option func(*Guard)

// WithBase sets the wrapped transport. Defaults to http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(g *Guard) { g.base = rt }
}

// WithLogger sets the guard logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.log = slogx.Component(l, "httpguard") }
}

// WithEvents publishes guest-issuance events onto the bridge's channel.
func WithEvents(b *authbridge.Broadcaster) Option {
	return func(g *Guard) { g.events = b }
}

// New constructs a Guard reading credentials from store and minting guest
// tokens through issuer. Inject the same store the session bridge writes.
func New(store credstore.Store, issuer GuestIssuer, opts ...Option) *Guard {
	g := &Guard{
		base:   http.DefaultTransport,
		store:  store,
		issuer: issuer,
		log:    slogx.Component(nil, "httpguard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// mutated; credentials are attached to a clone.
func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	return g.roundTrip(req, 0)
}

func (g *Guard) roundTrip(req *http.Request, retries int) (*http.Response, error) {
	ctx := req.Context()

	cred := g.store.Get()
	token := cred.BearerToken
	issuanceFailed := false

	// Proactive replacement: a missing or expired token on a non-guest
	// identity gets a fresh guest token before the call goes out. Guest
	// identities are left alone here; a rejected guest token is the 401
	// path's problem.
	if (token == "" || tokenx.IsExpired(token)) && !cred.IsGuest {
		fresh, err := g.issuer.IssueGuestToken(ctx)
		if err != nil {
			// Recoverable: send without a credential and let the remote
			// API answer 401.
			g.log.Warn("guest issuance failed, proceeding without credential", "err", err)
			token = ""
			issuanceFailed = true
		} else {
			g.store.Set(fresh, true, "")
			g.publishGuestIssued()
			token = fresh
		}
	}

	outreq := req.Clone(ctx)
	if outreq.Header.Get("X-Request-ID") == "" {
		outreq.Header.Set("X-Request-ID", idx.New().String())
	}
	if token != "" {
		outreq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.base.RoundTrip(outreq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || retries >= maxAuthRetries {
		return resp, nil
	}

	// 401 recovery. If issuance already failed for this call there was
	// never a token to retry with; forward the 401 unchanged.
	if issuanceFailed {
		return resp, nil
	}

	fresh, err := g.issuer.IssueGuestToken(ctx)
	if err != nil {
		g.log.Warn("guest issuance failed during 401 recovery, surfacing response", "err", err)
		return resp, nil
	}
	g.store.Set(fresh, true, "")
	g.publishGuestIssued()

	retryReq, ok := rewound(req)
	if !ok {
		g.log.Warn("request body not replayable, surfacing 401",
			"method", req.Method, "path", req.URL.Path)
		return resp, nil
	}

	g.log.Debug("retrying after 401 with fresh guest token",
		"method", req.Method, "path", req.URL.Path)
	drain(resp)
	return g.roundTrip(retryReq, retries+1)
}

func (g *Guard) publishGuestIssued() {
	if g.events != nil {
		g.events.Publish(authbridge.Event{Type: authbridge.EventGuestIssued, IsGuest: true})
	}
}

// rewound returns a request whose body can be sent again. Bodiless
// requests are reusable as-is; anything else needs GetBody (set by
// http.NewRequest for the common buffer types).
func rewound(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, true
	}
	if req.GetBody == nil {
		return nil, false
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}

	r2 := req.Clone(req.Context())
	r2.Body = body
	return r2, true
}

// drain discards a response we are about to replace so the underlying
// connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
