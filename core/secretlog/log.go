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

// Package secretlog is the append-only, client-encrypted update log of
// a vault. The server never interprets blob contents; deletions are
// tombstone rows written by the client.
package secretlog

import (
	"context"
	"errors"
	"time"

	"github.com/keypears/keypears-core/internal/ids"
	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/internal/metrics"
	"github.com/keypears/keypears-core/pkg/storage"
)

// MaxPageSize caps one sync page.
const MaxPageSize = 100

var (
	// ErrInvalidSecretID is returned when the client-chosen secret id
	// is malformed.
	ErrInvalidSecretID = errors.New("invalid secret id")

	// ErrEmptyBlob is returned for an update without content.
	ErrEmptyBlob = errors.New("empty encrypted blob")
)

// Log appends and serves secret updates.
type Log struct {
	store storage.SecretUpdateStore
	log   logger.Logger
}

// NewLog creates a secret update log.
func NewLog(store storage.SecretUpdateStore, log logger.Logger) *Log {
	return &Log{store: store, log: log}
}

// Append writes one update. Both sequence numbers are assigned inside
// the store's critical section, so each is dense and gap-free.
func (l *Log) Append(ctx context.Context, vaultID, secretID string, encryptedBlob []byte) (*storage.SecretUpdate, error) {
	if !ids.IsValid(secretID) {
		return nil, ErrInvalidSecretID
	}
	if len(encryptedBlob) == 0 {
		return nil, ErrEmptyBlob
	}

	update, err := l.store.Append(ctx, &storage.SecretUpdate{
		ID:            ids.New(),
		VaultID:       vaultID,
		SecretID:      secretID,
		EncryptedBlob: encryptedBlob,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	metrics.SecretUpdatesAppended.Inc()
	l.log.Debug("secret update appended",
		logger.String("vault_id", vaultID),
		logger.Int64("global_order", update.GlobalOrder),
		logger.Int64("local_order", update.LocalOrder))
	return update, nil
}

// List pages updates after sinceGlobalOrder. Pagination runs on the
// global order only; clients rebuild per-secret history from the local
// order.
func (l *Log) List(ctx context.Context, vaultID string, sinceGlobalOrder int64, limit int) ([]*storage.SecretUpdate, bool, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if sinceGlobalOrder < 0 {
		sinceGlobalOrder = 0
	}
	return l.store.ListSince(ctx, vaultID, sinceGlobalOrder, limit)
}
