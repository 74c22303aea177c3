// keypears - federated encrypted password vault
// Copyright (C) 2025 keypears
//
// This file is part of keypears.
//
// keypears is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// keypears is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with keypears. If not, see <https://www.gnu.org/licenses/>.

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/pkg/storage"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionKey   contextKey = "session"
	vaultKey     contextKey = "vault"
)

// requestID stamps every request with an id for log correlation.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// logRequests writes one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		id, _ := r.Context().Value(requestIDKey).(string)
		s.log.Debug("request",
			logger.String("request_id", id),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Duration("duration", time.Since(start)))
	})
}

// requireSession authenticates the bearer token and stores the session
// and owning vault in the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, newError(http.StatusUnauthorized, CodeAuthRequired, "session token required"))
			return
		}

		session, vault, err := s.registry.ValidateSession(r.Context(), token)
		if err != nil {
			writeError(w, newError(http.StatusUnauthorized, CodeAuthInvalid, "session invalid"))
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, session)
		ctx = context.WithValue(ctx, vaultKey, vault)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// sessionVault returns the authenticated vault, and checks that the
// vault id claimed in the request body (when present) matches it.
func sessionVault(r *http.Request, claimedVaultID string) (*storage.Vault, *Error) {
	vault, _ := r.Context().Value(vaultKey).(*storage.Vault)
	if vault == nil {
		return nil, newError(http.StatusUnauthorized, CodeAuthRequired, "session token required")
	}
	if claimedVaultID != "" && claimedVaultID != vault.ID {
		return nil, newError(http.StatusUnauthorized, CodeAuthInvalid, "vault id does not match session")
	}
	return vault, nil
}
