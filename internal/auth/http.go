// ABOUTME: HTTP authentication for API and stream endpoints
// ABOUTME: Reads a bearer header or a token query parameter and attaches the user id to the context

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/marv1n-le/marvify/internal/chat"
)

// ErrUnauthorized is returned when a request carries no usable credentials.
var ErrUnauthorized = errors.New("unauthorized")

// TokenQueryParam is the query parameter used by clients that cannot set headers (EventSource).
const TokenQueryParam = "token"

// Authenticator resolves the user behind an HTTP request.
type Authenticator struct {
	verifier TokenVerifier
}

// NewAuthenticator creates an Authenticator backed by the given verifier.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticate returns the user id for the request. The Authorization header
// is preferred; the token query parameter is the fallback. Every failure wraps
// ErrUnauthorized.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		token = r.URL.Query().Get(TokenQueryParam)
	}
	if token == "" {
		return "", fmt.Errorf("%w: %s", ErrUnauthorized, errMsg)
	}

	userID, err := a.verifier.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return userID, nil
}

// Middleware rejects unauthenticated requests with a 401 envelope and
// attaches the user id to the request context otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.Authenticate(r)
		if err != nil {
			WriteUnauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
	})
}

// WriteUnauthorized writes the standard 401 JSON envelope.
func WriteUnauthorized(w http.ResponseWriter, err error) {
	msg := "not authorized"
	if errors.Is(err, ErrExpiredToken) {
		msg = "token expired"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(chat.Envelope{Success: false, Message: msg})
}
