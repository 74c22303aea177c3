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

// Package engagement derives and serves per-counterparty engagement
// keys. The server holds only derivation scalars: the full engagement
// private key is vaultPrivKey + d mod n, and only the owner's client
// can compute it.
package engagement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/keypears/keypears-core/crypto"
	"github.com/keypears/keypears-core/internal/ids"
	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/pkg/storage"
)

// ErrNotFound is returned for keys that do not exist or are not owned
// by the caller.
var ErrNotFound = errors.New("engagement key not found")

// Service manages engagement keys.
type Service struct {
	keys   storage.EngagementKeyStore
	vaults storage.VaultStore
	log    logger.Logger
}

// NewService creates an engagement key service.
func NewService(keys storage.EngagementKeyStore, vaults storage.VaultStore, log logger.Logger) *Service {
	return &Service{keys: keys, vaults: vaults, log: log}
}

// GetOrCreateSendKey returns the vault's send key toward a
// counterparty, deriving a fresh one on first use.
func (s *Service) GetOrCreateSendKey(ctx context.Context, vaultID, counterpartyAddress string) (*storage.EngagementKey, error) {
	existing, err := s.keys.GetSendKey(ctx, vaultID, counterpartyAddress)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return s.derive(ctx, vaultID, storage.KeyPurposeSend, counterpartyAddress, nil)
}

// GetOrCreateReceiveKey returns the vault's receive key for messages
// from (counterparty, senderPubKey), deriving one on first contact.
// Distinct sender keys map to distinct receive keys.
func (s *Service) GetOrCreateReceiveKey(ctx context.Context, vaultID, counterpartyAddress string, senderPubKey []byte) (*storage.EngagementKey, error) {
	existing, err := s.keys.GetReceiveKey(ctx, vaultID, counterpartyAddress, senderPubKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return s.derive(ctx, vaultID, storage.KeyPurposeReceive, counterpartyAddress, senderPubKey)
}

// CreateManualKey derives a key with no counterparty binding.
func (s *Service) CreateManualKey(ctx context.Context, vaultID string) (*storage.EngagementKey, error) {
	return s.derive(ctx, vaultID, storage.KeyPurposeManual, "", nil)
}

// Get returns a key owned by vaultID.
func (s *Service) Get(ctx context.Context, vaultID, keyID string) (*storage.EngagementKey, error) {
	key, err := s.keys.Get(ctx, keyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// A key that exists but belongs to another vault is reported
	// exactly like a missing one.
	if key.VaultID != vaultID {
		return nil, ErrNotFound
	}
	return key, nil
}

// DerivationPrivKey returns the derivation scalar of a key to its
// owner.
func (s *Service) DerivationPrivKey(ctx context.Context, vaultID, keyID string) ([]byte, error) {
	key, err := s.Get(ctx, vaultID, keyID)
	if err != nil {
		return nil, err
	}
	return key.DerivationPrivKey, nil
}

// GetByPubKey returns the owner's key with the given public point.
func (s *Service) GetByPubKey(ctx context.Context, vaultID string, engagementPubKey []byte) (*storage.EngagementKey, error) {
	key, err := s.keys.GetByPubKey(ctx, vaultID, engagementPubKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return key, nil
}

// VerifyOwnership reports whether engagementPubKey is a live
// send-purpose key of the vault at address. Receive and manual keys do
// not attest: this is the answer served to other domains.
func (s *Service) VerifyOwnership(ctx context.Context, address string, engagementPubKey []byte) (bool, error) {
	name, domain, ok := splitAddress(address)
	if !ok {
		return false, nil
	}
	vault, err := s.vaults.GetByAddress(ctx, name, domain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	_, err = s.keys.GetSendKeyByPubKey(ctx, vault.ID, engagementPubKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// derive samples a scalar, computes E = vaultPubKey + d*G, and inserts
// the row. A concurrent creator winning the unique index is returned
// as the result instead.
func (s *Service) derive(ctx context.Context, vaultID, purpose, counterpartyAddress string, senderPubKey []byte) (*storage.EngagementKey, error) {
	vault, err := s.vaults.Get(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	d, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	pubKey, err := crypto.PublicKeyAddScalar(vault.VaultPubKey, d)
	if err != nil {
		return nil, err
	}

	key := &storage.EngagementKey{
		ID:                  ids.New(),
		VaultID:             vaultID,
		Purpose:             purpose,
		CounterpartyAddress: counterpartyAddress,
		SenderPubKey:        append([]byte{}, senderPubKey...),
		EngagementPubKey:    pubKey,
		DerivationPrivKey:   d,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			switch purpose {
			case storage.KeyPurposeSend:
				return s.keys.GetSendKey(ctx, vaultID, counterpartyAddress)
			case storage.KeyPurposeReceive:
				return s.keys.GetReceiveKey(ctx, vaultID, counterpartyAddress, senderPubKey)
			}
		}
		return nil, err
	}

	s.log.Debug("derived engagement key",
		logger.String("vault_id", vaultID),
		logger.String("purpose", purpose),
		logger.String("counterparty", counterpartyAddress))
	return key, nil
}

func splitAddress(address string) (name, domain string, ok bool) {
	i := strings.IndexByte(address, '@')
	if i <= 0 || i == len(address)-1 {
		return "", "", false
	}
	return address[:i], address[i+1:], true
}
