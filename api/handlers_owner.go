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

	"github.com/keypears/keypears-core/crypto"
	"github.com/keypears/keypears-core/pkg/storage"
)

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	var req getVaultRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	writeJSON(w, http.StatusOK, vaultResponse{
		VaultID:           vault.ID,
		Name:              vault.Name,
		Domain:            vault.Domain,
		VaultPubKey:       hex.EncodeToString(vault.VaultPubKey),
		EncryptedVaultKey: hex.EncodeToString(vault.EncryptedVaultKey),
		CreatedAt:         vault.CreatedAt,
	})
}

func (s *Server) handleGetEngagementKeyForSending(w http.ResponseWriter, r *http.Request) {
	var req getEngagementKeyForSendingRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if req.CounterpartyAddress == "" {
		writeError(w, validationError("counterpartyAddress is required"))
		return
	}

	key, err := s.engagement.GetOrCreateSendKey(r.Context(), vault.ID, req.CounterpartyAddress)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, engagementKeyResponse{
		EngagementKeyID:  key.ID,
		EngagementPubKey: hex.EncodeToString(key.EngagementPubKey),
	})
}

func (s *Server) handleGetDerivationPrivKey(w http.ResponseWriter, r *http.Request) {
	var req getDerivationPrivKeyRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, "")
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	d, err := s.engagement.DerivationPrivKey(r.Context(), vault.ID, req.EngagementKeyID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, getDerivationPrivKeyResponse{
		DerivationPrivKey: hex.EncodeToString(d),
	})
}

func (s *Server) handleGetEngagementKeyByPubKey(w http.ResponseWriter, r *http.Request) {
	var req getEngagementKeyByPubKeyRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	pubKey, apiErr := decodeHex("pubKey", req.PubKey, crypto.PublicKeySize)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	key, err := s.engagement.GetByPubKey(r.Context(), vault.ID, pubKey)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, engagementKeyResponse{
		EngagementKeyID:  key.ID,
		EngagementPubKey: hex.EncodeToString(key.EngagementPubKey),
	})
}

func (s *Server) handleCreateEngagementKey(w http.ResponseWriter, r *http.Request) {
	var req createEngagementKeyRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if req.Purpose != "" && req.Purpose != storage.KeyPurposeManual {
		writeError(w, validationError("only manual keys can be created directly"))
		return
	}

	key, err := s.engagement.CreateManualKey(r.Context(), vault.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, engagementKeyResponse{
		EngagementKeyID:  key.ID,
		EngagementPubKey: hex.EncodeToString(key.EngagementPubKey),
	})
}

func (s *Server) handleGetChannels(w http.ResponseWriter, r *http.Request) {
	var req getChannelsRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	channels, hasMore, err := s.channels.List(r.Context(), vault.ID, req.Limit, req.Offset)
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := getChannelsResponse{HasMore: hasMore, Channels: make([]channelResponse, 0, len(channels))}
	for _, ch := range channels {
		resp.Channels = append(resp.Channels, channelResponse{
			ChannelID:           ch.ID,
			CounterpartyAddress: ch.CounterpartyAddress,
			Status:              ch.Status,
			SecretID:            ch.SecretID,
			MinDifficulty:       ch.MinDifficulty,
			LastMessageAt:       ch.LastMessageAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetChannelMessages(w http.ResponseWriter, r *http.Request) {
	var req getChannelMessagesRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	messages, hasMore, err := s.channels.Messages(r.Context(), vault.ID, req.ChannelID, req.Limit, req.BeforeOrder)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, getChannelMessagesResponse{
		Messages: toMessageResponses(messages),
		HasMore:  hasMore,
	})
}

func (s *Server) handleUpdateChannelStatus(w http.ResponseWriter, r *http.Request) {
	var req updateChannelStatusRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	if err := s.channels.UpdateStatus(r.Context(), vault.ID, req.ChannelID, req.Status); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleUpdateChannelMinDifficulty(w http.ResponseWriter, r *http.Request) {
	var req updateChannelMinDifficultyRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	if err := s.channels.UpdateMinDifficulty(r.Context(), vault.ID, req.ChannelID, req.MinDifficulty); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleGetInboxMessagesForSync(w http.ResponseWriter, r *http.Request) {
	var req getInboxMessagesForSyncRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	messages, hasMore, err := s.channels.MessagesForSync(r.Context(), vault.ID, req.Limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, getChannelMessagesResponse{
		Messages: toMessageResponses(messages),
		HasMore:  hasMore,
	})
}

func (s *Server) handleDeleteInboxMessages(w http.ResponseWriter, r *http.Request) {
	var req deleteInboxMessagesRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	deleted, err := s.channels.DeleteMessages(r.Context(), vault.ID, req.MessageIDs)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteInboxMessagesResponse{Deleted: deleted})
}

func (s *Server) handleCreateSecretUpdate(w http.ResponseWriter, r *http.Request) {
	var req createSecretUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	blob, apiErr := decodeHex("encryptedBlob", req.EncryptedBlob, 0)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	update, err := s.secrets.Append(r.Context(), vault.ID, req.SecretID, blob)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, secretUpdateResponse{
		UpdateID:    update.ID,
		SecretID:    update.SecretID,
		GlobalOrder: update.GlobalOrder,
		LocalOrder:  update.LocalOrder,
		CreatedAt:   update.CreatedAt,
	})
}

func (s *Server) handleGetSecretUpdates(w http.ResponseWriter, r *http.Request) {
	var req getSecretUpdatesRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	updates, hasMore, err := s.secrets.List(r.Context(), vault.ID, req.SinceGlobalOrder, req.Limit)
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := getSecretUpdatesResponse{HasMore: hasMore, Updates: make([]secretUpdateRow, 0, len(updates))}
	for _, update := range updates {
		resp.Updates = append(resp.Updates, secretUpdateRow{
			UpdateID:      update.ID,
			SecretID:      update.SecretID,
			GlobalOrder:   update.GlobalOrder,
			LocalOrder:    update.LocalOrder,
			EncryptedBlob: hex.EncodeToString(update.EncryptedBlob),
			CreatedAt:     update.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDeviceSessions(w http.ResponseWriter, r *http.Request) {
	var req listDeviceSessionsRequest
	if !decode(w, r, &req) {
		return
	}
	vault, apiErr := sessionVault(r, req.VaultID)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	sessions, err := s.registry.ListSessions(r.Context(), vault.ID)
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := listDeviceSessionsResponse{Sessions: make([]deviceSessionResponse, 0, len(sessions))}
	for _, session := range sessions {
		prefix := session.Token
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		resp.Sessions = append(resp.Sessions, deviceSessionResponse{
			DeviceID:          session.DeviceID,
			DeviceDescription: session.DeviceDescription,
			TokenPrefix:       prefix,
			CreatedAt:         session.CreatedAt,
			ExpiresAt:         session.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func toMessageResponses(messages []*storage.InboxMessage) []inboxMessageResponse {
	out := make([]inboxMessageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, inboxMessageResponse{
			MessageID:                 msg.ID,
			ChannelID:                 msg.ChannelID,
			SenderAddress:             msg.SenderAddress,
			OrderInChannel:            msg.OrderInChannel,
			EncryptedContent:          hex.EncodeToString(msg.EncryptedContent),
			SenderEngagementPubKey:    hex.EncodeToString(msg.SenderEngagementPubKey),
			RecipientEngagementPubKey: hex.EncodeToString(msg.RecipientEngagementPubKey),
			IsRead:                    msg.IsRead,
			CreatedAt:                 msg.CreatedAt,
		})
	}
	return out
}
