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

// Package api exposes the RPC surface over HTTP. Every operation is a
// JSON POST under /api; authenticated operations carry a bearer
// session token.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keypears/keypears-core/core/admission"
	"github.com/keypears/keypears-core/core/channel"
	"github.com/keypears/keypears-core/core/engagement"
	"github.com/keypears/keypears-core/core/secretlog"
	"github.com/keypears/keypears-core/core/vault"
	"github.com/keypears/keypears-core/health"
	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/internal/metrics"
	"github.com/keypears/keypears-core/pow"
)

// maxBodyBytes bounds a request body; encrypted blobs are hex, so this
// allows blobs up to roughly half of it.
const maxBodyBytes = 1 << 20

// Server wires the core services into an HTTP handler.
type Server struct {
	registry   *vault.Registry
	engagement *engagement.Service
	admission  *admission.Service
	channels   *channel.Manager
	secrets    *secretlog.Log
	pow        *pow.Controller
	checker    *health.Checker
	log        logger.Logger
	router     chi.Router
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	s := &Server{
		registry:   deps.Registry,
		engagement: deps.Engagement,
		admission:  deps.Admission,
		channels:   deps.Channels,
		secrets:    deps.Secrets,
		pow:        deps.Pow,
		checker:    deps.Checker,
		log:        deps.Log,
	}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)

	r.Get("/healthz", s.checker.LivenessHandler().ServeHTTP)
	r.Get("/readyz", s.checker.ReadinessHandler().ServeHTTP)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Public surface.
		r.Post("/checkNameAvailability", s.handleCheckNameAvailability)
		r.Post("/registerVault", s.handleRegisterVault)
		r.Post("/getPowChallenge", s.handleGetPowChallenge)
		r.Post("/verifyPowProof", s.handleVerifyPowProof)
		r.Post("/verifyEngagementKeyOwnership", s.handleVerifyOwnership)
		r.Post("/getCounterpartyEngagementKey", s.handleGetCounterpartyEngagementKey)
		r.Post("/sendMessage", s.handleSendMessage)
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)

		// Owner surface.
		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/getVault", s.handleGetVault)
			r.Post("/getEngagementKeyForSending", s.handleGetEngagementKeyForSending)
			r.Post("/getDerivationPrivKey", s.handleGetDerivationPrivKey)
			r.Post("/getEngagementKeyByPubKey", s.handleGetEngagementKeyByPubKey)
			r.Post("/createEngagementKey", s.handleCreateEngagementKey)
			r.Post("/getChannels", s.handleGetChannels)
			r.Post("/getChannelMessages", s.handleGetChannelMessages)
			r.Post("/updateChannelStatus", s.handleUpdateChannelStatus)
			r.Post("/updateChannelMinDifficulty", s.handleUpdateChannelMinDifficulty)
			r.Post("/getInboxMessagesForSync", s.handleGetInboxMessagesForSync)
			r.Post("/deleteInboxMessages", s.handleDeleteInboxMessages)
			r.Post("/createSecretUpdate", s.handleCreateSecretUpdate)
			r.Post("/getSecretUpdates", s.handleGetSecretUpdates)
			r.Post("/listDeviceSessions", s.handleListDeviceSessions)
		})
	})

	s.router = r
	return s
}

// Deps are the collaborators the server needs.
type Deps struct {
	Registry   *vault.Registry
	Engagement *engagement.Service
	Admission  *admission.Service
	Channels   *channel.Manager
	Secrets    *secretlog.Log
	Pow        *pow.Controller
	Checker    *health.Checker
	Log        logger.Logger
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// decode reads and validates a JSON request body.
func decode[T any](w http.ResponseWriter, r *http.Request, into *T) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		writeError(w, validationError("malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, apiErr *Error) {
	writeJSON(w, apiErr.status, map[string]*Error{"error": apiErr})
}

// fail maps a service error and writes it.
func (s *Server) fail(w http.ResponseWriter, err error) {
	apiErr := mapError(err)
	if apiErr.Code == CodeInternal {
		s.log.Error("internal error", logger.Error(err))
	}
	writeError(w, apiErr)
}
