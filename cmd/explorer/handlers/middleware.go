package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hairizuanbinnoorazman/screenshot-explorer/logger"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

// ScopeKey is the context key for the authenticated scope.
const ScopeKey ContextKey = "scope"

const (
	ScopeReadWrite = "read_write"
	ScopeReadOnly  = "read_only"
)

// TokenAuth accepts bearer tokens whose bcrypt hash matches one of the
// configured hashes. With no hashes configured every request passes with the
// read_write scope.
type TokenAuth struct {
	writeHash []byte
	readHash  []byte
	logger    logger.Logger
}

// NewTokenAuth creates the bearer token middleware.
func NewTokenAuth(writeHash, readHash string, log logger.Logger) *TokenAuth {
	a := &TokenAuth{logger: log}
	if writeHash != "" {
		a.writeHash = []byte(writeHash)
	}
	if readHash != "" {
		a.readHash = []byte(readHash)
	}
	return a
}

// Enabled reports whether any token is configured.
func (a *TokenAuth) Enabled() bool {
	return a.writeHash != nil || a.readHash != nil
}

// Handler wraps an HTTP handler with authentication.
func (a *TokenAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ScopeKey, ScopeReadWrite)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		raw := []byte(strings.TrimPrefix(authHeader, "Bearer "))

		scope := ""
		switch {
		case a.writeHash != nil && bcrypt.CompareHashAndPassword(a.writeHash, raw) == nil:
			scope = ScopeReadWrite
		case a.readHash != nil && bcrypt.CompareHashAndPassword(a.readHash, raw) == nil:
			scope = ScopeReadOnly
		default:
			a.logger.Warn(r.Context(), "invalid bearer token", map[string]interface{}{
				"path": r.URL.Path,
			})
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ScopeKey, scope)))
	})
}

// RequireWriteScope checks that the request was authenticated with a
// read_write token. Returns false (and writes 403) when it was not.
func RequireWriteScope(w http.ResponseWriter, r *http.Request) bool {
	scope, _ := r.Context().Value(ScopeKey).(string)
	if scope == ScopeReadOnly {
		respondError(w, http.StatusForbidden, "this token has read-only access")
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs one line per request.
func RequestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info(r.Context(), "http request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}
