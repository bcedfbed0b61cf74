package stubauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, devSecret string) (*httptest.Server, *Service) {
	t.Helper()

	svc, _ := newTestService(t, Config{})
	router := NewRouter(svc, devSecret, slog.Default())
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, svc
}

func postJSON(t *testing.T, url string, body any, header http.Header) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGuestTokenEndpoint(t *testing.T) {
	t.Parallel()

	srv, svc := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/public/auth/token", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.AccessToken)
	require.NoError(t, svc.Verify(body.AccessToken))
}

func TestVerifyEndpoint(t *testing.T) {
	t.Parallel()

	srv, svc := newTestServer(t, "")

	t.Run("accepts a freshly issued token", func(t *testing.T) {
		token, err := svc.IssueGuest(context.Background())
		require.NoError(t, err)

		resp := postJSON(t, srv.URL+"/v1/auth/verify", nil, http.Header{
			"Authorization": []string{"Bearer " + token},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("rejects a missing bearer", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/auth/verify", nil, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/auth/verify", nil, http.Header{
			"Authorization": []string{"Bearer not.a.token"},
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "invalid_token", body["error"])
	})
}

func TestRefreshEndpoint(t *testing.T) {
	t.Parallel()

	srv, svc := newTestServer(t, "")

	t.Run("exchanges a valid refresh token", func(t *testing.T) {
		pair, err := svc.IssuePair(context.Background(), "user-abc")
		require.NoError(t, err)

		resp := postJSON(t, srv.URL+"/v1/auth/refresh",
			map[string]string{"refreshToken": pair.RefreshToken}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.NoError(t, svc.Verify(body.AccessToken))
		require.NotEqual(t, pair.RefreshToken, body.RefreshToken)
	})

	t.Run("rejects a missing token field", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/auth/refresh", map[string]string{}, nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects an unknown token", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/v1/auth/refresh",
			map[string]string{"refreshToken": "never-issued"}, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "invalid_grant", body["error"])
	})
}

func TestSeedEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("disabled without a dev secret", func(t *testing.T) {
		srv, _ := newTestServer(t, "")

		resp := postJSON(t, srv.URL+"/v1/auth/seed", map[string]string{"subject": "u"}, nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("rejects a wrong secret", func(t *testing.T) {
		srv, _ := newTestServer(t, "hunter2")

		resp := postJSON(t, srv.URL+"/v1/auth/seed", map[string]string{"subject": "u"},
			http.Header{"X-Dev-Secret": []string{"wrong"}})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("mints a pair with the right secret", func(t *testing.T) {
		srv, svc := newTestServer(t, "hunter2")

		resp := postJSON(t, srv.URL+"/v1/auth/seed", map[string]string{"subject": "user-xyz"},
			http.Header{"X-Dev-Secret": []string{"hunter2"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Subject      string `json:"subject"`
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "user-xyz", body.Subject)
		require.NoError(t, svc.Verify(body.AccessToken))
		require.NotEmpty(t, body.RefreshToken)
	})

	t.Run("generates a subject when none given", func(t *testing.T) {
		srv, _ := newTestServer(t, "hunter2")

		resp := postJSON(t, srv.URL+"/v1/auth/seed", nil,
			http.Header{"X-Dev-Secret": []string{"hunter2"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Contains(t, body["subject"], "user-")
	})
}

func TestLivez(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, "")

	resp, err := http.Get(fmt.Sprintf("%s/livez", srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
