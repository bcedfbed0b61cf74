package authbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Error codes the remote API uses in error bodies.
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeInvalidToken   = "invalid_token"
	ErrorCodeInvalidGrant   = "invalid_grant"
	ErrorCodeServerError    = "server_error"
)

// ErrTokenRejected reports that the remote API refused a bearer token.
// Callers decide whether that means clear-and-reissue or surface to the UI.
var ErrTokenRejected = errors.New("authbridge: token rejected")

// APIError is a structured error response from the remote API. It wraps
// ErrTokenRejected for 401 responses so callers can errors.Is against it.
type APIError struct {
	// StatusCode is the HTTP status of the failed response.
	StatusCode int `json:"-"`

	// Code is the machine-readable error code (e.g. "invalid_grant").
	Code string `json:"error"`

	// Description is a human-readable description of the error.
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("authbridge: api error %d (%s)", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("authbridge: %s: %s", e.Code, e.Description)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrTokenRejected
	}
	return nil
}

// decodeAPIError turns a non-2xx response into an *APIError. The body is
// best-effort: a non-JSON or empty body still yields a usable error.
func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		apiErr.Code = ErrorCodeServerError
		return apiErr
	}

	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = ErrorCodeServerError
		apiErr.Description = string(body)
	}
	return apiErr
}
