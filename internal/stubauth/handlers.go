package stubauth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/quizwell/authbridge/pkg/httpx"
	"github.com/quizwell/authbridge/pkg/idx"
	"github.com/quizwell/authbridge/pkg/slogx"
)

// GuestTokenHandler serves POST /public/auth/token. Unauthenticated by
// design; rate limiting is the only brake.
type GuestTokenHandler struct {
	Service *Service
}

func (h *GuestTokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	token, err := h.Service.IssueGuest(ctx)
	if err != nil {
		log.Error("guest issuance failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not issue guest token")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
	})
}

// VerifyHandler serves POST /v1/auth/verify. Success carries no payload
// contract beyond the 200.
type VerifyHandler struct {
	Service *Service
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	token, ok := httpx.BearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_request", "missing bearer token")
		return
	}

	if err := h.Service.Verify(token); err != nil {
		log.Debug("token verification rejected", "err", err)
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, "invalid_token", "token was not accepted")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"active": true})
}

// RefreshHandler serves POST /v1/auth/refresh. The presented refresh
// token is single-use; a replay gets invalid_grant.
type RefreshHandler struct {
	Service *Service
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}

	pair, err := h.Service.Refresh(ctx, body.RefreshToken)
	if errors.Is(err, ErrInvalidGrant) {
		log.Info("refresh exchange rejected")
		writeError(w, http.StatusUnauthorized, "invalid_grant", "refresh token not recognised")
		return
	}
	if err != nil {
		log.Error("refresh exchange failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not refresh token")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

// SeedHandler serves POST /v1/auth/seed: mints an authenticated pair for
// an arbitrary subject so tests and local dev can obtain non-guest
// credentials without a login flow. Guarded by the dev secret; absent
// secret disables the endpoint entirely.
type SeedHandler struct {
	Service   *Service
	DevSecret string
}

func (h *SeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if h.DevSecret == "" || r.Header.Get("X-Dev-Secret") != h.DevSecret {
		// Indistinguishable from an unknown route.
		http.NotFound(w, r)
		return
	}

	var body struct {
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	if body.Subject == "" {
		body.Subject = "user-" + idx.New().String()
	}

	pair, err := h.Service.IssuePair(ctx, body.Subject)
	if err != nil {
		log.Error("seed issuance failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not issue token pair")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"subject":      body.Subject,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func writeError(w http.ResponseWriter, code int, errCode, desc string) {
	httpx.WriteJSON(w, code, map[string]string{
		"error":             errCode,
		"error_description": desc,
	})
}
