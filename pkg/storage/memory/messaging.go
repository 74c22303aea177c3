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

package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/keypears/keypears-core/pkg/storage"
)

// EngagementKeyStore implements storage.EngagementKeyStore in memory.
type EngagementKeyStore struct {
	mu   sync.RWMutex
	byID map[string]*storage.EngagementKey
}

// Create inserts a key, enforcing the purpose-specific uniqueness.
func (s *EngagementKeyStore) Create(ctx context.Context, key *storage.EngagementKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[key.ID]; exists {
		return storage.ErrDuplicate
	}
	for _, existing := range s.byID {
		if existing.VaultID != key.VaultID || existing.Purpose != key.Purpose {
			continue
		}
		switch key.Purpose {
		case storage.KeyPurposeSend:
			if existing.CounterpartyAddress == key.CounterpartyAddress {
				return storage.ErrDuplicate
			}
		case storage.KeyPurposeReceive:
			if existing.CounterpartyAddress == key.CounterpartyAddress &&
				bytes.Equal(existing.SenderPubKey, key.SenderPubKey) {
				return storage.ErrDuplicate
			}
		}
	}

	cp := cloneKey(key)
	s.byID[key.ID] = cp
	return nil
}

// Get retrieves a key by id.
func (s *EngagementKeyStore) Get(ctx context.Context, id string) (*storage.EngagementKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneKey(key), nil
}

// GetSendKey retrieves the send key for (vault, counterparty).
func (s *EngagementKeyStore) GetSendKey(ctx context.Context, vaultID, counterpartyAddress string) (*storage.EngagementKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.byID {
		if key.VaultID == vaultID && key.Purpose == storage.KeyPurposeSend &&
			key.CounterpartyAddress == counterpartyAddress {
			return cloneKey(key), nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetReceiveKey retrieves the receive key for
// (vault, counterparty, senderPubKey).
func (s *EngagementKeyStore) GetReceiveKey(ctx context.Context, vaultID, counterpartyAddress string, senderPubKey []byte) (*storage.EngagementKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.byID {
		if key.VaultID == vaultID && key.Purpose == storage.KeyPurposeReceive &&
			key.CounterpartyAddress == counterpartyAddress &&
			bytes.Equal(key.SenderPubKey, senderPubKey) {
			return cloneKey(key), nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetByPubKey retrieves an owner's key by its public point.
func (s *EngagementKeyStore) GetByPubKey(ctx context.Context, vaultID string, engagementPubKey []byte) (*storage.EngagementKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.byID {
		if key.VaultID == vaultID && bytes.Equal(key.EngagementPubKey, engagementPubKey) {
			return cloneKey(key), nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetSendKeyByPubKey retrieves a send-purpose key by owner and point.
func (s *EngagementKeyStore) GetSendKeyByPubKey(ctx context.Context, vaultID string, engagementPubKey []byte) (*storage.EngagementKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.byID {
		if key.VaultID == vaultID && key.Purpose == storage.KeyPurposeSend &&
			bytes.Equal(key.EngagementPubKey, engagementPubKey) {
			return cloneKey(key), nil
		}
	}
	return nil, storage.ErrNotFound
}

func cloneKey(k *storage.EngagementKey) *storage.EngagementKey {
	cp := *k
	cp.SenderPubKey = append([]byte{}, k.SenderPubKey...)
	cp.EngagementPubKey = append([]byte{}, k.EngagementPubKey...)
	cp.DerivationPrivKey = append([]byte{}, k.DerivationPrivKey...)
	return &cp
}

// ChannelStore implements storage.ChannelStore in memory.
type ChannelStore struct {
	mu             sync.Mutex
	byID           map[string]*storage.Channel
	byCounterparty map[string]string // vaultID|address -> id
}

func channelKey(vaultID, counterpartyAddress string) string {
	return vaultID + "|" + counterpartyAddress
}

// GetOrCreate returns the channel for (vault, counterparty), creating
// it from the candidate row if absent.
func (s *ChannelStore) GetOrCreate(ctx context.Context, candidate *storage.Channel) (*storage.Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.byCounterparty[channelKey(candidate.VaultID, candidate.CounterpartyAddress)]; exists {
		return cloneChannel(s.byID[id]), false, nil
	}

	cp := cloneChannel(candidate)
	if cp.NextOrder < 1 {
		cp.NextOrder = 1
	}
	s.byID[cp.ID] = cp
	s.byCounterparty[channelKey(cp.VaultID, cp.CounterpartyAddress)] = cp.ID
	return cloneChannel(cp), true, nil
}

// Get retrieves a channel by id.
func (s *ChannelStore) Get(ctx context.Context, id string) (*storage.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneChannel(channel), nil
}

// GetByCounterparty retrieves the channel for (vault, counterparty).
func (s *ChannelStore) GetByCounterparty(ctx context.Context, vaultID, counterpartyAddress string) (*storage.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.byCounterparty[channelKey(vaultID, counterpartyAddress)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneChannel(s.byID[id]), nil
}

// UpdateStatus sets the channel status.
func (s *ChannelStore) UpdateStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, exists := s.byID[id]
	if !exists {
		return storage.ErrNotFound
	}
	channel.Status = status
	return nil
}

// UpdateMinDifficulty sets or clears the difficulty override.
func (s *ChannelStore) UpdateMinDifficulty(ctx context.Context, id string, minDifficulty *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channel, exists := s.byID[id]
	if !exists {
		return storage.ErrNotFound
	}
	if minDifficulty == nil {
		channel.MinDifficulty = nil
	} else {
		v := *minDifficulty
		channel.MinDifficulty = &v
	}
	return nil
}

// List returns a vault's channels ordered by last message, newest first.
func (s *ChannelStore) List(ctx context.Context, vaultID string, limit, offset int) ([]*storage.Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var channels []*storage.Channel
	for _, channel := range s.byID {
		if channel.VaultID == vaultID {
			channels = append(channels, cloneChannel(channel))
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].LastMessageAt.Equal(channels[j].LastMessageAt) {
			return channels[i].ID > channels[j].ID
		}
		return channels[i].LastMessageAt.After(channels[j].LastMessageAt)
	})

	if offset >= len(channels) {
		return nil, false, nil
	}
	channels = channels[offset:]
	hasMore := false
	if limit > 0 && len(channels) > limit {
		channels = channels[:limit]
		hasMore = true
	}
	return channels, hasMore, nil
}

func cloneChannel(c *storage.Channel) *storage.Channel {
	cp := *c
	if c.MinDifficulty != nil {
		v := *c.MinDifficulty
		cp.MinDifficulty = &v
	}
	return &cp
}

// InboxStore implements storage.InboxStore in memory.
type InboxStore struct {
	mu       sync.Mutex
	byID     map[string]*storage.InboxMessage
	channels *ChannelStore
}

// Append takes the channel's durable counter for OrderInChannel and
// inserts the row. The counter survives message deletion, so the
// sequence never restarts.
func (s *InboxStore) Append(ctx context.Context, msg *storage.InboxMessage) (*storage.InboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.ChannelID == msg.ChannelID && existing.PowChallengeID == msg.PowChallengeID {
			return nil, storage.ErrDuplicate
		}
	}

	cp := cloneMessage(msg)

	s.channels.mu.Lock()
	channel, exists := s.channels.byID[msg.ChannelID]
	if !exists {
		s.channels.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	cp.OrderInChannel = channel.NextOrder
	channel.NextOrder++
	channel.LastMessageAt = cp.CreatedAt
	s.channels.mu.Unlock()

	s.byID[cp.ID] = cp
	return cloneMessage(cp), nil
}

// GetByPowChallenge retrieves the message admitted under a challenge.
func (s *InboxStore) GetByPowChallenge(ctx context.Context, channelID, powChallengeID string) (*storage.InboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.byID {
		if msg.ChannelID == channelID && msg.PowChallengeID == powChallengeID {
			return cloneMessage(msg), nil
		}
	}
	return nil, storage.ErrNotFound
}

// ListByChannel pages a channel's messages, newest order first.
func (s *InboxStore) ListByChannel(ctx context.Context, vaultID, channelID string, limit int, beforeOrder int64) ([]*storage.InboxMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []*storage.InboxMessage
	for _, msg := range s.byID {
		if msg.VaultID != vaultID || msg.ChannelID != channelID {
			continue
		}
		if beforeOrder > 0 && msg.OrderInChannel >= beforeOrder {
			continue
		}
		messages = append(messages, cloneMessage(msg))
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].OrderInChannel > messages[j].OrderInChannel
	})

	hasMore := false
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
		hasMore = true
	}
	return messages, hasMore, nil
}

// ListForSync returns messages in saved channels, oldest first.
func (s *InboxStore) ListForSync(ctx context.Context, vaultID string, limit int) ([]*storage.InboxMessage, bool, error) {
	saved := make(map[string]bool)
	s.channels.mu.Lock()
	for id, channel := range s.channels.byID {
		if channel.VaultID == vaultID && channel.Status == storage.ChannelStatusSaved {
			saved[id] = true
		}
	}
	s.channels.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []*storage.InboxMessage
	for _, msg := range s.byID {
		if msg.VaultID == vaultID && saved[msg.ChannelID] {
			messages = append(messages, cloneMessage(msg))
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].ChannelID == messages[j].ChannelID {
			return messages[i].OrderInChannel < messages[j].OrderInChannel
		}
		return messages[i].ChannelID < messages[j].ChannelID
	})

	hasMore := false
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
		hasMore = true
	}
	return messages, hasMore, nil
}

// Delete removes messages owned by the vault.
func (s *InboxStore) Delete(ctx context.Context, vaultID string, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if msg, exists := s.byID[id]; exists && msg.VaultID == vaultID {
			delete(s.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

func cloneMessage(m *storage.InboxMessage) *storage.InboxMessage {
	cp := *m
	cp.EncryptedContent = append([]byte{}, m.EncryptedContent...)
	cp.SenderEngagementPubKey = append([]byte{}, m.SenderEngagementPubKey...)
	cp.RecipientEngagementPubKey = append([]byte{}, m.RecipientEngagementPubKey...)
	return &cp
}

// SecretUpdateStore implements storage.SecretUpdateStore in memory.
type SecretUpdateStore struct {
	mu      sync.Mutex
	byVault map[string][]*storage.SecretUpdate // ascending GlobalOrder
}

// Append assigns both orders atomically and inserts the row.
func (s *SecretUpdateStore) Append(ctx context.Context, update *storage.SecretUpdate) (*storage.SecretUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.byVault[update.VaultID]

	cp := *update
	cp.EncryptedBlob = append([]byte{}, update.EncryptedBlob...)
	cp.GlobalOrder = 1
	cp.LocalOrder = 1
	if n := len(rows); n > 0 {
		cp.GlobalOrder = rows[n-1].GlobalOrder + 1
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].SecretID == update.SecretID {
			cp.LocalOrder = rows[i].LocalOrder + 1
			break
		}
	}

	s.byVault[update.VaultID] = append(rows, &cp)
	out := cp
	return &out, nil
}

// ListSince pages updates with GlobalOrder > sinceGlobalOrder.
func (s *SecretUpdateStore) ListSince(ctx context.Context, vaultID string, sinceGlobalOrder int64, limit int) ([]*storage.SecretUpdate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updates []*storage.SecretUpdate
	for _, row := range s.byVault[vaultID] {
		if row.GlobalOrder > sinceGlobalOrder {
			cp := *row
			cp.EncryptedBlob = append([]byte{}, row.EncryptedBlob...)
			updates = append(updates, &cp)
		}
	}

	hasMore := false
	if limit > 0 && len(updates) > limit {
		updates = updates[:limit]
		hasMore = true
	}
	return updates, hasMore, nil
}
