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

// Package channel manages per-vault conversation views: the status
// machine, the per-channel admission-difficulty override, and the
// inbox-to-vault sync handoff.
package channel

import (
	"context"
	"errors"

	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/pkg/storage"
	"github.com/keypears/keypears-core/pow"
)

var (
	// ErrNotFound is returned for channels the vault does not own.
	ErrNotFound = errors.New("channel not found")

	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("invalid channel status")

	// ErrDifficultyTooLow is returned for an override below the server
	// minimum.
	ErrDifficultyTooLow = errors.New("difficulty below server minimum")
)

// DefaultPageSize bounds channel and message listings.
const DefaultPageSize = 50

// Manager exposes channel operations to the owner.
type Manager struct {
	channels storage.ChannelStore
	inbox    storage.InboxStore
	log      logger.Logger
}

// NewManager creates a channel manager.
func NewManager(channels storage.ChannelStore, inbox storage.InboxStore, log logger.Logger) *Manager {
	return &Manager{channels: channels, inbox: inbox, log: log}
}

// Get returns a channel owned by the vault.
func (m *Manager) Get(ctx context.Context, vaultID, channelID string) (*storage.Channel, error) {
	channel, err := m.channels.Get(ctx, channelID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if channel.VaultID != vaultID {
		return nil, ErrNotFound
	}
	return channel, nil
}

// List pages the vault's channels.
func (m *Manager) List(ctx context.Context, vaultID string, limit, offset int) ([]*storage.Channel, bool, error) {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return m.channels.List(ctx, vaultID, limit, offset)
}

// UpdateStatus moves a channel between pending, saved, and ignored.
// Every transition between the three states is allowed; none touches
// message history.
func (m *Manager) UpdateStatus(ctx context.Context, vaultID, channelID, status string) error {
	switch status {
	case storage.ChannelStatusPending, storage.ChannelStatusSaved, storage.ChannelStatusIgnored:
	default:
		return ErrInvalidStatus
	}

	channel, err := m.Get(ctx, vaultID, channelID)
	if err != nil {
		return err
	}

	if err := m.channels.UpdateStatus(ctx, channel.ID, status); err != nil {
		return err
	}
	m.log.Info("channel status updated",
		logger.String("channel_id", channelID),
		logger.String("from", channel.Status),
		logger.String("to", status))
	return nil
}

// UpdateMinDifficulty sets the per-channel admission-difficulty
// override, or clears it to inherit the vault default.
func (m *Manager) UpdateMinDifficulty(ctx context.Context, vaultID, channelID string, minDifficulty *int64) error {
	if minDifficulty != nil && *minDifficulty < pow.MinDifficulty {
		return ErrDifficultyTooLow
	}
	channel, err := m.Get(ctx, vaultID, channelID)
	if err != nil {
		return err
	}
	return m.channels.UpdateMinDifficulty(ctx, channel.ID, minDifficulty)
}

// Messages pages a channel's inbox rows, newest first.
func (m *Manager) Messages(ctx context.Context, vaultID, channelID string, limit int, beforeOrder int64) ([]*storage.InboxMessage, bool, error) {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	if _, err := m.Get(ctx, vaultID, channelID); err != nil {
		return nil, false, err
	}
	return m.inbox.ListByChannel(ctx, vaultID, channelID, limit, beforeOrder)
}

// MessagesForSync returns inbox rows from saved channels only. The
// client re-encrypts them under its vault key, pushes them as secret
// updates, and then confirms deletion.
func (m *Manager) MessagesForSync(ctx context.Context, vaultID string, limit int) ([]*storage.InboxMessage, bool, error) {
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	return m.inbox.ListForSync(ctx, vaultID, limit)
}

// DeleteMessages removes synced inbox rows. This is the only deletion
// path for inbox content; channel order counters never reset.
func (m *Manager) DeleteMessages(ctx context.Context, vaultID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	deleted, err := m.inbox.Delete(ctx, vaultID, messageIDs)
	if err != nil {
		return 0, err
	}
	m.log.Info("inbox messages deleted",
		logger.String("vault_id", vaultID),
		logger.Int64("count", deleted))
	return deleted, nil
}
