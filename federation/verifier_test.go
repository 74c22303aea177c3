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

package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keypears/keypears-core/internal/logger"
)

func newRemote(t *testing.T, valid bool, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/api/verifyEngagementKeyOwnership", r.URL.Path)

		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Address)
		require.NotEmpty(t, req.EngagementPubKey)

		json.NewEncoder(w).Encode(verifyResponse{Valid: valid})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestVerifyEngagementKeyOwnership(t *testing.T) {
	pubKey := []byte{0x02, 0x11, 0x22}

	t.Run("positive answer", func(t *testing.T) {
		var calls atomic.Int64
		remote := newRemote(t, true, &calls)
		v := NewHTTPVerifier(NewResolver(map[string]string{"d1.example": remote.URL}), logger.Nop())

		require.NoError(t, v.VerifyEngagementKeyOwnership(context.Background(), "bob@d1.example", pubKey))
		require.Equal(t, int64(1), calls.Load())
	})

	t.Run("negative answer", func(t *testing.T) {
		var calls atomic.Int64
		remote := newRemote(t, false, &calls)
		v := NewHTTPVerifier(NewResolver(map[string]string{"d1.example": remote.URL}), logger.Nop())

		err := v.VerifyEngagementKeyOwnership(context.Background(), "bob@d1.example", pubKey)
		require.ErrorIs(t, err, ErrIdentityVerificationFailed)
	})

	t.Run("unresolvable domain", func(t *testing.T) {
		v := NewHTTPVerifier(NewResolver(nil), logger.Nop())
		err := v.VerifyEngagementKeyOwnership(context.Background(), "bob@unknown.example", pubKey)
		require.ErrorIs(t, err, ErrIdentityVerificationFailed)
	})

	t.Run("malformed address", func(t *testing.T) {
		v := NewHTTPVerifier(NewResolver(nil), logger.Nop())
		err := v.VerifyEngagementKeyOwnership(context.Background(), "no-at-sign", pubKey)
		require.ErrorIs(t, err, ErrIdentityVerificationFailed)
	})

	t.Run("remote 4xx is final", func(t *testing.T) {
		var calls atomic.Int64
		remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		t.Cleanup(remote.Close)
		v := NewHTTPVerifier(NewResolver(map[string]string{"d1.example": remote.URL}), logger.Nop())

		err := v.VerifyEngagementKeyOwnership(context.Background(), "bob@d1.example", pubKey)
		require.ErrorIs(t, err, ErrIdentityVerificationFailed)
		require.Equal(t, int64(1), calls.Load())
	})

	t.Run("remote 5xx retries then fails", func(t *testing.T) {
		var calls atomic.Int64
		remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(remote.Close)
		v := NewHTTPVerifier(NewResolver(map[string]string{"d1.example": remote.URL}), logger.Nop())

		err := v.VerifyEngagementKeyOwnership(context.Background(), "bob@d1.example", pubKey)
		require.ErrorIs(t, err, ErrIdentityVerificationFailed)
		require.Equal(t, int64(1+maxRetries), calls.Load())
	})

	t.Run("5xx recovers on retry", func(t *testing.T) {
		var calls atomic.Int64
		remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(verifyResponse{Valid: true})
		}))
		t.Cleanup(remote.Close)
		v := NewHTTPVerifier(NewResolver(map[string]string{"d1.example": remote.URL}), logger.Nop())

		require.NoError(t, v.VerifyEngagementKeyOwnership(context.Background(), "bob@d1.example", pubKey))
		require.Equal(t, int64(2), calls.Load())
	})
}

func TestVerificationCache(t *testing.T) {
	pubKey := []byte{0x02, 0x33, 0x44}

	t.Run("positive answers are cached", func(t *testing.T) {
		var calls atomic.Int64
		remote := newRemote(t, true, &calls)
		v := NewHTTPVerifier(NewResolver(map[string]string{"d1.example": remote.URL}), logger.Nop())

		for i := 0; i < 5; i++ {
			require.NoError(t, v.VerifyEngagementKeyOwnership(context.Background(), "bob@d1.example", pubKey))
		}
		require.Equal(t, int64(1), calls.Load())
	})

	t.Run("negative answers are cached", func(t *testing.T) {
		var calls atomic.Int64
		remote := newRemote(t, false, &calls)
		v := NewHTTPVerifier(NewResolver(map[string]string{"d1.example": remote.URL}), logger.Nop())

		for i := 0; i < 5; i++ {
			err := v.VerifyEngagementKeyOwnership(context.Background(), "bob@d1.example", pubKey)
			require.ErrorIs(t, err, ErrIdentityVerificationFailed)
		}
		require.Equal(t, int64(1), calls.Load())
	})

	t.Run("cache keys on the full pair", func(t *testing.T) {
		var calls atomic.Int64
		remote := newRemote(t, true, &calls)
		v := NewHTTPVerifier(NewResolver(map[string]string{"d1.example": remote.URL}), logger.Nop())

		require.NoError(t, v.VerifyEngagementKeyOwnership(context.Background(), "bob@d1.example", pubKey))
		require.NoError(t, v.VerifyEngagementKeyOwnership(context.Background(), "bob@d1.example", []byte{0x03, 0x55}))
		require.NoError(t, v.VerifyEngagementKeyOwnership(context.Background(), "carol@d1.example", pubKey))
		require.Equal(t, int64(3), calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		var calls atomic.Int64
		remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		t.Cleanup(remote.Close)
		v := NewHTTPVerifier(NewResolver(map[string]string{"d1.example": remote.URL}), logger.Nop())

		for i := 0; i < 2; i++ {
			err := v.VerifyEngagementKeyOwnership(context.Background(), "bob@d1.example", pubKey)
			require.ErrorIs(t, err, ErrIdentityVerificationFailed)
		}
		require.Equal(t, int64(2), calls.Load())
	})
}

func TestResolver(t *testing.T) {
	r := NewResolver(map[string]string{"dev.local": "http://127.0.0.1:9999/"})

	t.Run("defaults", func(t *testing.T) {
		url, err := r.URLFor("keypears.com")
		require.NoError(t, err)
		require.Equal(t, "https://keypears.com", url)
	})

	t.Run("override strips trailing slash", func(t *testing.T) {
		url, err := r.URLFor("dev.local")
		require.NoError(t, err)
		require.Equal(t, "http://127.0.0.1:9999", url)
	})

	t.Run("unknown domain", func(t *testing.T) {
		_, err := r.URLFor("nope.example")
		require.ErrorIs(t, err, ErrUnresolvableDomain)
	})
}
