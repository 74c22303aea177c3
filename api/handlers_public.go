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
	"encoding/hex"
	"net/http"

	"github.com/keypears/keypears-core/core/admission"
	"github.com/keypears/keypears-core/core/vault"
	"github.com/keypears/keypears-core/crypto"
	"github.com/keypears/keypears-core/pow"
)

func (s *Server) handleCheckNameAvailability(w http.ResponseWriter, r *http.Request) {
	var req checkNameAvailabilityRequest
	if !decode(w, r, &req) {
		return
	}

	available, err := s.registry.CheckNameAvailability(r.Context(), req.Name, req.Domain)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkNameAvailabilityResponse{Available: available})
}

func (s *Server) handleRegisterVault(w http.ResponseWriter, r *http.Request) {
	var req registerVaultRequest
	if !decode(w, r, &req) {
		return
	}

	pubKey, apiErr := decodeHex("vaultPubKey", req.VaultPubKey, crypto.PublicKeySize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	pubKeyHash, apiErr := decodeHex("vaultPubKeyHash", req.VaultPubKeyHash, crypto.DigestSize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	loginKey, apiErr := decodeHex("loginKey", req.LoginKey, crypto.DigestSize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	encryptedVaultKey, apiErr := decodeHex("encryptedVaultKey", req.EncryptedVaultKey, 0)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	solvedHeader, apiErr := decodeHex("solvedHeader", req.SolvedHeader, 0)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	solvedHash, apiErr := decodeHex("solvedHash", req.SolvedHash, crypto.DigestSize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	registered, err := s.registry.Register(r.Context(), vault.RegisterParams{
		VaultID:           req.VaultID,
		Name:              req.Name,
		Domain:            req.Domain,
		VaultPubKey:       pubKey,
		VaultPubKeyHash:   pubKeyHash,
		LoginKey:          loginKey,
		EncryptedVaultKey: encryptedVaultKey,
		PowChallengeID:    req.PowChallengeID,
		SolvedHeader:      solvedHeader,
		SolvedHash:        solvedHash,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerVaultResponse{VaultID: registered.ID})
}

func (s *Server) handleGetPowChallenge(w http.ResponseWriter, r *http.Request) {
	var req getPowChallengeRequest
	if !decode(w, r, &req) {
		return
	}

	challenge, err := s.pow.Issue(r.Context(), pow.IssueParams{
		Purpose:          req.Purpose,
		SenderAddress:    req.SenderAddress,
		RecipientAddress: req.RecipientAddress,
		Difficulty:       req.Difficulty,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, getPowChallengeResponse{
		ID:         challenge.ID,
		Algorithm:  challenge.Algorithm,
		Header:     hex.EncodeToString(challenge.Header),
		Target:     hex.EncodeToString(challenge.Target),
		Difficulty: challenge.Difficulty,
		ExpiresAt:  challenge.ExpiresAt,
	})
}

func (s *Server) handleVerifyPowProof(w http.ResponseWriter, r *http.Request) {
	var req verifyPowProofRequest
	if !decode(w, r, &req) {
		return
	}

	solvedHeader, apiErr := decodeHex("solvedHeader", req.SolvedHeader, 0)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	hash, apiErr := decodeHex("hash", req.Hash, crypto.DigestSize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	if err := s.pow.Verify(r.Context(), req.ID, solvedHeader, hash); err != nil {
		apiErr := mapError(err)
		if apiErr.Code == CodeInternal {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, verifyPowProofResponse{Valid: false, Message: apiErr.Message})
		return
	}
	writeJSON(w, http.StatusOK, verifyPowProofResponse{Valid: true})
}

func (s *Server) handleVerifyOwnership(w http.ResponseWriter, r *http.Request) {
	var req verifyOwnershipRequest
	if !decode(w, r, &req) {
		return
	}

	pubKey, apiErr := decodeHex("engagementPubKey", req.EngagementPubKey, crypto.PublicKeySize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	valid, err := s.engagement.VerifyOwnership(r.Context(), req.Address, pubKey)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyOwnershipResponse{Valid: valid})
}

func (s *Server) handleGetCounterpartyEngagementKey(w http.ResponseWriter, r *http.Request) {
	var req getCounterpartyEngagementKeyRequest
	if !decode(w, r, &req) {
		return
	}

	senderPubKey, apiErr := decodeHex("senderPubKey", req.SenderPubKey, crypto.PublicKeySize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	solvedHeader, apiErr := decodeHex("solvedHeader", req.SolvedHeader, 0)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	solvedHash, apiErr := decodeHex("solvedHash", req.SolvedHash, crypto.DigestSize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	signature, apiErr := decodeHex("signature", req.Signature, crypto.SignatureSize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	key, err := s.admission.GetCounterpartyEngagementKey(r.Context(), admission.KeyRequestParams{
		RecipientAddress: req.RecipientAddress,
		SenderAddress:    req.SenderAddress,
		SenderPubKey:     senderPubKey,
		PowChallengeID:   req.PowChallengeID,
		SolvedHeader:     solvedHeader,
		SolvedHash:       solvedHash,
		Signature:        signature,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, getCounterpartyEngagementKeyResponse{
		EngagementPubKey: hex.EncodeToString(key),
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decode(w, r, &req) {
		return
	}

	content, apiErr := decodeHex("encryptedContent", req.EncryptedContent, 0)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	senderKey, apiErr := decodeHex("senderEngagementPubKey", req.SenderEngagementPubKey, crypto.PublicKeySize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	recipientKey, apiErr := decodeHex("recipientEngagementPubKey", req.RecipientEngagementPubKey, crypto.PublicKeySize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	result, err := s.admission.SendMessage(r.Context(), admission.SendParams{
		RecipientAddress:          req.RecipientAddress,
		SenderAddress:             req.SenderAddress,
		EncryptedContent:          content,
		SenderEngagementPubKey:    senderKey,
		RecipientEngagementPubKey: recipientKey,
		PowChallengeID:            req.PowChallengeID,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sendMessageResponse{
		MessageID:      result.MessageID,
		OrderInChannel: result.OrderInChannel,
		CreatedAt:      result.CreatedAt,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	loginKey, apiErr := decodeHex("loginKey", req.LoginKey, crypto.DigestSize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if req.DeviceID == "" {
		writeError(w, validationError("deviceId is required"))
		return
	}

	session, err := s.registry.Login(r.Context(), req.VaultID, loginKey, req.DeviceID, req.DeviceDescription)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		SessionToken: session.Token,
		ExpiresAt:    session.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Logout(r.Context(), bearerToken(r)); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
