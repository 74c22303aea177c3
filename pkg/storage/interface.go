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

// Package storage defines the persistence interfaces of the server
// core. Implementations exist for PostgreSQL and, for tests and dev
// mode, in-memory.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a unique constraint was violated.
	ErrDuplicate = errors.New("duplicate")

	// ErrAlreadyConsumed indicates a PoW challenge was consumed before
	// this call.
	ErrAlreadyConsumed = errors.New("already consumed")
)

// VaultStore persists vault identities.
type VaultStore interface {
	// Create inserts a vault. ErrDuplicate on (name, domain) or id reuse.
	Create(ctx context.Context, vault *Vault) error

	// Get retrieves a vault by id.
	Get(ctx context.Context, id string) (*Vault, error)

	// GetByAddress retrieves a vault by (name, domain).
	GetByAddress(ctx context.Context, name, domain string) (*Vault, error)
}

// DeviceSessionStore persists authenticated sessions.
type DeviceSessionStore interface {
	// Create inserts a session.
	Create(ctx context.Context, session *DeviceSession) error

	// GetByToken retrieves an unexpired session.
	GetByToken(ctx context.Context, token string) (*DeviceSession, error)

	// Delete removes a session by token. ErrNotFound if absent.
	Delete(ctx context.Context, token string) error

	// ListByVault lists unexpired sessions for a vault.
	ListByVault(ctx context.Context, vaultID string) ([]*DeviceSession, error)

	// DeleteExpired deletes all expired sessions.
	DeleteExpired(ctx context.Context) (int64, error)
}

// PowChallengeStore persists proof-of-work challenges.
type PowChallengeStore interface {
	// Create inserts a challenge.
	Create(ctx context.Context, challenge *PowChallenge) error

	// Get retrieves a challenge by id.
	Get(ctx context.Context, id string) (*PowChallenge, error)

	// Consume atomically marks an unconsumed challenge consumed,
	// recording the solution and binding. ErrAlreadyConsumed if a
	// concurrent caller won the conditional update.
	Consume(ctx context.Context, id string, solvedHeader, solvedHash []byte, binding PowBinding, consumedAt time.Time) (*PowChallenge, error)

	// DeleteExpired deletes unconsumed challenges past their expiry.
	DeleteExpired(ctx context.Context) (int64, error)
}

// EngagementKeyStore persists derived engagement keys.
type EngagementKeyStore interface {
	// Create inserts a key. ErrDuplicate on the purpose-specific
	// uniqueness constraints.
	Create(ctx context.Context, key *EngagementKey) error

	// Get retrieves a key by id.
	Get(ctx context.Context, id string) (*EngagementKey, error)

	// GetSendKey retrieves the send key for (vault, counterparty).
	GetSendKey(ctx context.Context, vaultID, counterpartyAddress string) (*EngagementKey, error)

	// GetReceiveKey retrieves the receive key for
	// (vault, counterparty, senderPubKey).
	GetReceiveKey(ctx context.Context, vaultID, counterpartyAddress string, senderPubKey []byte) (*EngagementKey, error)

	// GetByPubKey retrieves an owner's key by its public point.
	GetByPubKey(ctx context.Context, vaultID string, engagementPubKey []byte) (*EngagementKey, error)

	// GetSendKeyByPubKey retrieves a send-purpose key by owner and
	// public point. Used by the ownership attestation: receive and
	// manual keys must not match.
	GetSendKeyByPubKey(ctx context.Context, vaultID string, engagementPubKey []byte) (*EngagementKey, error)
}

// ChannelStore persists per-vault channel views.
type ChannelStore interface {
	// GetOrCreate returns the channel for (vault, counterparty),
	// inserting it with the candidate row if absent. The boolean
	// reports whether a new row was created.
	GetOrCreate(ctx context.Context, candidate *Channel) (*Channel, bool, error)

	// Get retrieves a channel by id.
	Get(ctx context.Context, id string) (*Channel, error)

	// GetByCounterparty retrieves the channel for (vault, counterparty).
	GetByCounterparty(ctx context.Context, vaultID, counterpartyAddress string) (*Channel, error)

	// UpdateStatus sets the channel status.
	UpdateStatus(ctx context.Context, id, status string) error

	// UpdateMinDifficulty sets or clears the per-channel difficulty
	// override.
	UpdateMinDifficulty(ctx context.Context, id string, minDifficulty *int64) error

	// List returns a vault's channels ordered by last message, newest
	// first.
	List(ctx context.Context, vaultID string, limit, offset int) ([]*Channel, bool, error)
}

// InboxStore persists admitted messages.
type InboxStore interface {
	// Append takes OrderInChannel from the channel's durable NextOrder
	// counter under the channel lock, inserts the row, and bumps the
	// channel's LastMessageAt. The counter survives deletion, so the
	// sequence never resets. ErrDuplicate if (channel, pow challenge)
	// already has a row.
	Append(ctx context.Context, msg *InboxMessage) (*InboxMessage, error)

	// GetByPowChallenge retrieves the message admitted under a given
	// challenge in a channel, for idempotent resends.
	GetByPowChallenge(ctx context.Context, channelID, powChallengeID string) (*InboxMessage, error)

	// ListByChannel pages a channel's messages, newest order first.
	// beforeOrder of 0 means from the top.
	ListByChannel(ctx context.Context, vaultID, channelID string, limit int, beforeOrder int64) ([]*InboxMessage, bool, error)

	// ListForSync returns messages in saved channels, oldest first.
	ListForSync(ctx context.Context, vaultID string, limit int) ([]*InboxMessage, bool, error)

	// Delete removes messages owned by the vault. Returns the number
	// deleted.
	Delete(ctx context.Context, vaultID string, ids []string) (int64, error)
}

// SecretUpdateStore persists the append-only secret log.
type SecretUpdateStore interface {
	// Append assigns GlobalOrder and LocalOrder atomically under the
	// vault lock and inserts the row.
	Append(ctx context.Context, update *SecretUpdate) (*SecretUpdate, error)

	// ListSince pages updates with GlobalOrder > sinceGlobalOrder,
	// ascending.
	ListSince(ctx context.Context, vaultID string, sinceGlobalOrder int64, limit int) ([]*SecretUpdate, bool, error)
}

// Store combines all storage interfaces.
type Store interface {
	Vaults() VaultStore
	Sessions() DeviceSessionStore
	PowChallenges() PowChallengeStore
	EngagementKeys() EngagementKeyStore
	Channels() ChannelStore
	Inbox() InboxStore
	SecretUpdates() SecretUpdateStore

	// Close closes the storage connection.
	Close() error

	// Ping checks the storage connection.
	Ping(ctx context.Context) error
}
