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

// Package memory implements storage.Store with mutex-guarded maps.
// It backs unit tests and single-node development mode.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/keypears/keypears-core/pkg/storage"
)

// Store implements storage.Store in memory.
type Store struct {
	vaults   *VaultStore
	sessions *DeviceSessionStore
	pow      *PowChallengeStore
	keys     *EngagementKeyStore
	channels *ChannelStore
	inbox    *InboxStore
	secrets  *SecretUpdateStore
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	channels := &ChannelStore{
		byID:           make(map[string]*storage.Channel),
		byCounterparty: make(map[string]string),
	}
	return &Store{
		vaults:   &VaultStore{byID: make(map[string]*storage.Vault), byAddress: make(map[string]string)},
		sessions: &DeviceSessionStore{byToken: make(map[string]*storage.DeviceSession)},
		pow:      &PowChallengeStore{byID: make(map[string]*storage.PowChallenge)},
		keys:     &EngagementKeyStore{byID: make(map[string]*storage.EngagementKey)},
		channels: channels,
		inbox:    &InboxStore{byID: make(map[string]*storage.InboxMessage), channels: channels},
		secrets:  &SecretUpdateStore{byVault: make(map[string][]*storage.SecretUpdate)},
	}
}

func (s *Store) Vaults() storage.VaultStore                 { return s.vaults }
func (s *Store) Sessions() storage.DeviceSessionStore       { return s.sessions }
func (s *Store) PowChallenges() storage.PowChallengeStore   { return s.pow }
func (s *Store) EngagementKeys() storage.EngagementKeyStore { return s.keys }
func (s *Store) Channels() storage.ChannelStore             { return s.channels }
func (s *Store) Inbox() storage.InboxStore                  { return s.inbox }
func (s *Store) SecretUpdates() storage.SecretUpdateStore   { return s.secrets }

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// VaultStore implements storage.VaultStore in memory.
type VaultStore struct {
	mu        sync.RWMutex
	byID      map[string]*storage.Vault
	byAddress map[string]string // name@domain -> id
}

// Create inserts a vault.
func (s *VaultStore) Create(ctx context.Context, vault *storage.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[vault.ID]; exists {
		return storage.ErrDuplicate
	}
	if _, exists := s.byAddress[vault.Address()]; exists {
		return storage.ErrDuplicate
	}

	cp := *vault
	s.byID[vault.ID] = &cp
	s.byAddress[vault.Address()] = vault.ID
	return nil
}

// Get retrieves a vault by id.
func (s *VaultStore) Get(ctx context.Context, id string) (*storage.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vault, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *vault
	return &cp, nil
}

// GetByAddress retrieves a vault by (name, domain).
func (s *VaultStore) GetByAddress(ctx context.Context, name, domain string) (*storage.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byAddress[name+"@"+domain]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

// DeviceSessionStore implements storage.DeviceSessionStore in memory.
type DeviceSessionStore struct {
	mu      sync.RWMutex
	byToken map[string]*storage.DeviceSession
}

// Create inserts a session.
func (s *DeviceSessionStore) Create(ctx context.Context, session *storage.DeviceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byToken[session.Token]; exists {
		return storage.ErrDuplicate
	}
	cp := *session
	s.byToken[session.Token] = &cp
	return nil
}

// GetByToken retrieves an unexpired session.
func (s *DeviceSessionStore) GetByToken(ctx context.Context, token string) (*storage.DeviceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.byToken[token]
	if !exists || !session.ExpiresAt.After(time.Now()) {
		return nil, storage.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

// Delete removes a session by token.
func (s *DeviceSessionStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byToken[token]; !exists {
		return storage.ErrNotFound
	}
	delete(s.byToken, token)
	return nil
}

// ListByVault lists unexpired sessions for a vault.
func (s *DeviceSessionStore) ListByVault(ctx context.Context, vaultID string) ([]*storage.DeviceSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var sessions []*storage.DeviceSession
	for _, session := range s.byToken {
		if session.VaultID == vaultID && session.ExpiresAt.After(now) {
			cp := *session
			sessions = append(sessions, &cp)
		}
	}
	return sessions, nil
}

// DeleteExpired deletes all expired sessions.
func (s *DeviceSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var deleted int64
	for token, session := range s.byToken {
		if !session.ExpiresAt.After(now) {
			delete(s.byToken, token)
			deleted++
		}
	}
	return deleted, nil
}

// PowChallengeStore implements storage.PowChallengeStore in memory.
type PowChallengeStore struct {
	mu   sync.Mutex
	byID map[string]*storage.PowChallenge
}

// Create inserts a challenge.
func (s *PowChallengeStore) Create(ctx context.Context, challenge *storage.PowChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[challenge.ID]; exists {
		return storage.ErrDuplicate
	}
	cp := cloneChallenge(challenge)
	s.byID[challenge.ID] = cp
	return nil
}

// Get retrieves a challenge by id.
func (s *PowChallengeStore) Get(ctx context.Context, id string) (*storage.PowChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneChallenge(challenge), nil
}

// Consume atomically marks an unconsumed challenge consumed.
func (s *PowChallengeStore) Consume(ctx context.Context, id string, solvedHeader, solvedHash []byte, binding storage.PowBinding, consumedAt time.Time) (*storage.PowChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if challenge.Consumed() {
		return nil, storage.ErrAlreadyConsumed
	}

	at := consumedAt
	challenge.ConsumedAt = &at
	challenge.SolvedHeader = append([]byte{}, solvedHeader...)
	challenge.SolvedHash = append([]byte{}, solvedHash...)
	challenge.Binding = storage.PowBinding{
		Sender:       binding.Sender,
		Recipient:    binding.Recipient,
		SenderPubKey: append([]byte{}, binding.SenderPubKey...),
	}
	return cloneChallenge(challenge), nil
}

// DeleteExpired deletes unconsumed challenges past their expiry.
func (s *PowChallengeStore) DeleteExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var deleted int64
	for id, challenge := range s.byID {
		if !challenge.Consumed() && !challenge.ExpiresAt.After(now) {
			delete(s.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

func cloneChallenge(c *storage.PowChallenge) *storage.PowChallenge {
	cp := *c
	cp.Header = append([]byte{}, c.Header...)
	cp.Target = append([]byte{}, c.Target...)
	cp.SolvedHash = append([]byte{}, c.SolvedHash...)
	cp.SolvedHeader = append([]byte{}, c.SolvedHeader...)
	cp.Binding.SenderPubKey = append([]byte{}, c.Binding.SenderPubKey...)
	if c.ConsumedAt != nil {
		at := *c.ConsumedAt
		cp.ConsumedAt = &at
	}
	return &cp
}
