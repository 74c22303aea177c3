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
	"fmt"
	"time"
)

// Byte-valued wire fields are hex strings with a declared width; the
// handlers decode them through decodeHex before any service code runs.

func decodeHex(name, value string, wantLen int) ([]byte, *Error) {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, validationError(fmt.Sprintf("%s is not valid hex", name))
	}
	if wantLen > 0 && len(raw) != wantLen {
		return nil, validationError(fmt.Sprintf("%s must be %d bytes", name, wantLen))
	}
	if wantLen == 0 && len(raw) == 0 {
		return nil, validationError(fmt.Sprintf("%s must not be empty", name))
	}
	return raw, nil
}

type checkNameAvailabilityRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

type checkNameAvailabilityResponse struct {
	Available bool `json:"available"`
}

type registerVaultRequest struct {
	VaultID           string `json:"vaultId,omitempty"`
	Name              string `json:"name"`
	Domain            string `json:"domain"`
	VaultPubKey       string `json:"vaultPubKey"`
	VaultPubKeyHash   string `json:"vaultPubKeyHash"`
	LoginKey          string `json:"loginKey"`
	EncryptedVaultKey string `json:"encryptedVaultKey"`
	PowChallengeID    string `json:"powChallengeId"`
	SolvedHeader      string `json:"solvedHeader"`
	SolvedHash        string `json:"solvedHash"`
}

type registerVaultResponse struct {
	VaultID string `json:"vaultId"`
}

type getPowChallengeRequest struct {
	Purpose          string `json:"purpose,omitempty"`
	RecipientAddress string `json:"recipientAddress,omitempty"`
	SenderAddress    string `json:"senderAddress,omitempty"`
	Difficulty       int64  `json:"difficulty,omitempty"`
}

type getPowChallengeResponse struct {
	ID         string    `json:"id"`
	Algorithm  string    `json:"algorithm"`
	Header     string    `json:"header"`
	Target     string    `json:"target"`
	Difficulty int64     `json:"difficulty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type verifyPowProofRequest struct {
	ID           string `json:"id"`
	SolvedHeader string `json:"solvedHeader"`
	Hash         string `json:"hash"`
}

type verifyPowProofResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

type verifyOwnershipRequest struct {
	Address          string `json:"address"`
	EngagementPubKey string `json:"engagementPubKey"`
}

type verifyOwnershipResponse struct {
	Valid bool `json:"valid"`
}

type getCounterpartyEngagementKeyRequest struct {
	RecipientAddress string `json:"recipientAddress"`
	SenderAddress    string `json:"senderAddress"`
	SenderPubKey     string `json:"senderPubKey"`
	PowChallengeID   string `json:"powChallengeId"`
	SolvedHeader     string `json:"solvedHeader"`
	SolvedHash       string `json:"solvedHash"`
	Signature        string `json:"signature"`
}

type getCounterpartyEngagementKeyResponse struct {
	EngagementPubKey string `json:"engagementPubKey"`
}

type sendMessageRequest struct {
	RecipientAddress          string `json:"recipientAddress"`
	SenderAddress             string `json:"senderAddress"`
	EncryptedContent          string `json:"encryptedContent"`
	SenderEngagementPubKey    string `json:"senderEngagementPubKey"`
	RecipientEngagementPubKey string `json:"recipientEngagementPubKey"`
	PowChallengeID            string `json:"powChallengeId"`
}

type sendMessageResponse struct {
	MessageID      string    `json:"messageId"`
	OrderInChannel int64     `json:"orderInChannel"`
	CreatedAt      time.Time `json:"createdAt"`
}

type loginRequest struct {
	VaultID           string `json:"vaultId"`
	LoginKey          string `json:"loginKey"`
	DeviceID          string `json:"deviceId"`
	DeviceDescription string `json:"deviceDescription,omitempty"`
}

type loginResponse struct {
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type vaultResponse struct {
	VaultID           string    `json:"vaultId"`
	Name              string    `json:"name"`
	Domain            string    `json:"domain"`
	VaultPubKey       string    `json:"vaultPubKey"`
	EncryptedVaultKey string    `json:"encryptedVaultKey"`
	CreatedAt         time.Time `json:"createdAt"`
}

type getEngagementKeyForSendingRequest struct {
	VaultID             string `json:"vaultId"`
	CounterpartyAddress string `json:"counterpartyAddress"`
}

type engagementKeyResponse struct {
	EngagementKeyID  string `json:"engagementKeyId"`
	EngagementPubKey string `json:"engagementPubKey"`
}

type getDerivationPrivKeyRequest struct {
	EngagementKeyID string `json:"engagementKeyId"`
}

type getDerivationPrivKeyResponse struct {
	DerivationPrivKey string `json:"derivationPrivKey"`
}

type getEngagementKeyByPubKeyRequest struct {
	VaultID string `json:"vaultId"`
	PubKey  string `json:"pubKey"`
}

type createEngagementKeyRequest struct {
	VaultID string `json:"vaultId"`
	Purpose string `json:"purpose,omitempty"`
}

type getChannelsRequest struct {
	VaultID string `json:"vaultId"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

type channelResponse struct {
	ChannelID           string    `json:"channelId"`
	CounterpartyAddress string    `json:"counterpartyAddress"`
	Status              string    `json:"status"`
	SecretID            string    `json:"secretId"`
	MinDifficulty       *int64    `json:"minDifficulty,omitempty"`
	LastMessageAt       time.Time `json:"lastMessageAt"`
}

type getChannelsResponse struct {
	Channels []channelResponse `json:"channels"`
	HasMore  bool              `json:"hasMore"`
}

type getChannelMessagesRequest struct {
	VaultID     string `json:"vaultId"`
	ChannelID   string `json:"channelId"`
	Limit       int    `json:"limit,omitempty"`
	BeforeOrder int64  `json:"beforeOrder,omitempty"`
}

type inboxMessageResponse struct {
	MessageID                 string    `json:"messageId"`
	ChannelID                 string    `json:"channelId"`
	SenderAddress             string    `json:"senderAddress"`
	OrderInChannel            int64     `json:"orderInChannel"`
	EncryptedContent          string    `json:"encryptedContent"`
	SenderEngagementPubKey    string    `json:"senderEngagementPubKey"`
	RecipientEngagementPubKey string    `json:"recipientEngagementPubKey"`
	IsRead                    bool      `json:"isRead"`
	CreatedAt                 time.Time `json:"createdAt"`
}

type getChannelMessagesResponse struct {
	Messages []inboxMessageResponse `json:"messages"`
	HasMore  bool                   `json:"hasMore"`
}

type updateChannelStatusRequest struct {
	VaultID   string `json:"vaultId"`
	ChannelID string `json:"channelId"`
	Status    string `json:"status"`
}

type updateChannelMinDifficultyRequest struct {
	VaultID       string `json:"vaultId"`
	ChannelID     string `json:"channelId"`
	MinDifficulty *int64 `json:"minDifficulty"`
}

type getInboxMessagesForSyncRequest struct {
	VaultID string `json:"vaultId"`
	Limit   int    `json:"limit,omitempty"`
}

type deleteInboxMessagesRequest struct {
	VaultID    string   `json:"vaultId"`
	MessageIDs []string `json:"messageIds"`
}

type deleteInboxMessagesResponse struct {
	Deleted int64 `json:"deleted"`
}

type createSecretUpdateRequest struct {
	VaultID       string `json:"vaultId"`
	SecretID      string `json:"secretId"`
	EncryptedBlob string `json:"encryptedBlob"`
}

type secretUpdateResponse struct {
	UpdateID    string    `json:"updateId"`
	SecretID    string    `json:"secretId"`
	GlobalOrder int64     `json:"globalOrder"`
	LocalOrder  int64     `json:"localOrder"`
	CreatedAt   time.Time `json:"createdAt"`
}

type getSecretUpdatesRequest struct {
	VaultID          string `json:"vaultId"`
	SinceGlobalOrder int64  `json:"sinceGlobalOrder,omitempty"`
	Limit            int    `json:"limit,omitempty"`
}

type secretUpdateRow struct {
	UpdateID      string    `json:"updateId"`
	SecretID      string    `json:"secretId"`
	GlobalOrder   int64     `json:"globalOrder"`
	LocalOrder    int64     `json:"localOrder"`
	EncryptedBlob string    `json:"encryptedBlob"`
	CreatedAt     time.Time `json:"createdAt"`
}

type getSecretUpdatesResponse struct {
	Updates []secretUpdateRow `json:"updates"`
	HasMore bool              `json:"hasMore"`
}

type deviceSessionResponse struct {
	DeviceID          string    `json:"deviceId"`
	DeviceDescription string    `json:"deviceDescription"`
	TokenPrefix       string    `json:"tokenPrefix"`
	CreatedAt         time.Time `json:"createdAt"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

type listDeviceSessionsRequest struct {
	VaultID string `json:"vaultId"`
}

type listDeviceSessionsResponse struct {
	Sessions []deviceSessionResponse `json:"sessions"`
}

type getVaultRequest struct {
	VaultID string `json:"vaultId"`
}
