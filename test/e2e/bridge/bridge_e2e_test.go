package bridge_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/quizwell/authbridge/internal/stubauth"
	"github.com/quizwell/authbridge/pkg/authbridge"
	"github.com/quizwell/authbridge/pkg/credstore"
	"github.com/quizwell/authbridge/pkg/httpguard"
	"github.com/quizwell/authbridge/pkg/tokenx"
)

const devSecret = "e2e-dev-secret"

// env is the full in-process wiring: stub auth service, a resource server
// that trusts it, a durable credential store, and the client stack.
type env struct {
	auth     *httptest.Server
	resource *httptest.Server
	service  *stubauth.Service
	store    credstore.Store
	api      *authbridge.Client
	http     *http.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dbStore, err := stubauth.NewStore(filepath.Join(t.TempDir(), "stubauth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbStore.Close() })

	svc, err := stubauth.NewService(dbStore, stubauth.Config{
		Issuer:     "stubauth-e2e",
		DevSecret:  devSecret,
		GuestTTL:   15 * time.Minute,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
	}, slog.Default())
	require.NoError(t, err)

	router := stubauth.NewRouter(svc, devSecret, slog.Default())
	router.ApplyRoutes()
	auth := httptest.NewServer(router)
	t.Cleanup(auth.Close)

	// Resource server trusting the stub's signatures.
	resource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if len(authz) < 8 || authz[:7] != "Bearer " {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := svc.Verify(authz[7:]); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	t.Cleanup(resource.Close)

	store, err := credstore.OpenBolt(filepath.Join(t.TempDir(), "creds.db"), credstore.DefaultNamespace, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	api := authbridge.NewClient(auth.URL)

	return &env{
		auth:     auth,
		resource: resource,
		service:  svc,
		store:    store,
		api:      api,
		http:     &http.Client{Transport: httpguard.New(store, api)},
	}
}

// seedPair obtains an authenticated token pair through the seed endpoint.
func (e *env) seedPair(t *testing.T, subject string) (access, refresh string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, e.auth.URL+"/v1/auth/seed",
		jsonBody(t, map[string]string{"subject": subject}))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dev-Secret", devSecret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.AccessToken, body.RefreshToken
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

// staticAuthority is a fixed-snapshot session authority.
type staticAuthority struct {
	snap authbridge.Snapshot
}

func (a *staticAuthority) Snapshot(ctx context.Context) (authbridge.Snapshot, error) {
	return a.snap, nil
}

func (a *staticAuthority) SignOut(ctx context.Context) error {
	a.snap = authbridge.Snapshot{Status: authbridge.StatusUnauthenticated}
	return nil
}

func TestGuestFallbackEndToEnd(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	resp, err := e.http.Get(e.resource.URL + "/v1/quiz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cred := e.store.Get()
	require.True(t, cred.IsGuest)
	require.Empty(t, cred.RefreshToken)
	require.NoError(t, e.service.Verify(cred.BearerToken))

	claims, err := tokenx.Peek(cred.BearerToken)
	require.NoError(t, err)
	require.True(t, claims.Guest)
}

func TestRetryAfterRejectedGuestEndToEnd(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	// Unexpired guest token the resource server will reject: signed with
	// a key the stub never issued.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "guest-forged",
		"guest": true,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-key"))
	require.NoError(t, err)
	e.store.Set(forged, true, "")

	resp, err := e.http.Get(e.resource.URL + "/v1/quiz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEqual(t, forged, e.store.Get().BearerToken)
	require.NoError(t, e.service.Verify(e.store.Get().BearerToken))
}

func TestEnsureAuthenticatedRefreshEndToEnd(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	_, refresh := e.seedPair(t, "user-e2e")

	// Expired bearer alongside a live refresh token, as after a long
	// absence from the app.
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-e2e",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("irrelevant"))
	require.NoError(t, err)
	e.store.Set(expired, false, refresh)

	bridge := authbridge.New(
		&staticAuthority{snap: authbridge.Snapshot{Status: authbridge.StatusAuthenticated}},
		e.store, e.api, authbridge.WithVerification())

	res := bridge.EnsureAuthenticated(context.Background())
	require.True(t, res.OK)

	cred := e.store.Get()
	require.NotEqual(t, expired, cred.BearerToken)
	require.NoError(t, e.service.Verify(cred.BearerToken))
	require.NotEqual(t, refresh, cred.RefreshToken, "refresh token must rotate on use")

	// The consumed refresh token is single-use; a replay through the
	// bridge has the rotated one to fall back on, but the raw exchange
	// must fail.
	_, err = e.api.Refresh(context.Background(), refresh)
	require.Error(t, err)
}

func TestSynchronizeAndSignOutEndToEnd(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	access, refresh := e.seedPair(t, "user-e2e")

	authority := &staticAuthority{snap: authbridge.Snapshot{
		Status: authbridge.StatusAuthenticated,
		Session: authbridge.Session{
			AccessToken:   access,
			RefreshToken:  refresh,
			ShouldPersist: true,
		},
	}}
	bridge := authbridge.New(authority, e.store, e.api, authbridge.WithVerification())

	require.NoError(t, bridge.Resync(context.Background()))
	require.Equal(t, authbridge.StateSyncedAuthenticated, bridge.State())
	require.Equal(t, access, e.store.Get().BearerToken)

	res := bridge.EnsureAuthenticated(context.Background())
	require.True(t, res.OK)

	require.NoError(t, bridge.SignOut(context.Background()))
	require.True(t, e.store.Get().IsZero())
	require.Equal(t, authbridge.StateSyncedGuest, bridge.State())

	// The next resource call falls back to a fresh guest identity.
	resp, err := e.http.Get(e.resource.URL + "/v1/quiz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, e.store.Get().IsGuest)
}
