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

package channel_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keypears/keypears-core/core/channel"
	"github.com/keypears/keypears-core/internal/ids"
	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/pkg/storage"
	"github.com/keypears/keypears-core/pkg/storage/memory"
	"github.com/keypears/keypears-core/pow"
)

type fixture struct {
	manager *channel.Manager
	store   *memory.Store
	vaultID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	return &fixture{
		manager: channel.NewManager(store.Channels(), store.Inbox(), logger.Nop()),
		store:   store,
		vaultID: ids.New(),
	}
}

func (f *fixture) newChannel(t *testing.T, counterparty string) *storage.Channel {
	t.Helper()
	now := time.Now().UTC()
	ch, _, err := f.store.Channels().GetOrCreate(context.Background(), &storage.Channel{
		ID:                  ids.New(),
		VaultID:             f.vaultID,
		CounterpartyAddress: counterparty,
		Status:              storage.ChannelStatusPending,
		SecretID:            ids.New(),
		LastMessageAt:       now,
		CreatedAt:           now,
	})
	require.NoError(t, err)
	return ch
}

func (f *fixture) appendMessage(t *testing.T, ch *storage.Channel) *storage.InboxMessage {
	t.Helper()
	msg, err := f.store.Inbox().Append(context.Background(), &storage.InboxMessage{
		ID:                        ids.New(),
		VaultID:                   f.vaultID,
		SenderAddress:             ch.CounterpartyAddress,
		RecipientAddress:          "bob@keypears.com",
		ChannelID:                 ch.ID,
		EncryptedContent:          []byte("ciphertext"),
		SenderEngagementPubKey:    []byte{0x02},
		RecipientEngagementPubKey: []byte{0x03},
		PowChallengeID:            ids.New(),
		CreatedAt:                 time.Now().UTC(),
	})
	require.NoError(t, err)
	return msg
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := f.newChannel(t, "alice@passapples.com")

	// Every transition between the three states is legal, including
	// directly between saved and ignored.
	transitions := []string{
		storage.ChannelStatusSaved,
		storage.ChannelStatusPending,
		storage.ChannelStatusIgnored,
		storage.ChannelStatusSaved,
		storage.ChannelStatusIgnored,
		storage.ChannelStatusPending,
	}
	for _, status := range transitions {
		require.NoError(t, f.manager.UpdateStatus(ctx, f.vaultID, ch.ID, status))
		got, err := f.manager.Get(ctx, f.vaultID, ch.ID)
		require.NoError(t, err)
		require.Equal(t, status, got.Status)
	}

	t.Run("unknown status", func(t *testing.T) {
		require.ErrorIs(t, f.manager.UpdateStatus(ctx, f.vaultID, ch.ID, "archived"), channel.ErrInvalidStatus)
	})

	t.Run("foreign channel", func(t *testing.T) {
		require.ErrorIs(t, f.manager.UpdateStatus(ctx, ids.New(), ch.ID, storage.ChannelStatusSaved), channel.ErrNotFound)
	})

	t.Run("status change keeps history", func(t *testing.T) {
		f.appendMessage(t, ch)
		require.NoError(t, f.manager.UpdateStatus(ctx, f.vaultID, ch.ID, storage.ChannelStatusIgnored))
		messages, _, err := f.manager.Messages(ctx, f.vaultID, ch.ID, 10, 0)
		require.NoError(t, err)
		require.Len(t, messages, 1)
	})
}

func TestUpdateMinDifficulty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := f.newChannel(t, "alice@passapples.com")

	t.Run("set override", func(t *testing.T) {
		override := int64(1024)
		require.NoError(t, f.manager.UpdateMinDifficulty(ctx, f.vaultID, ch.ID, &override))
		got, err := f.manager.Get(ctx, f.vaultID, ch.ID)
		require.NoError(t, err)
		require.NotNil(t, got.MinDifficulty)
		require.Equal(t, int64(1024), *got.MinDifficulty)
	})

	t.Run("clear override", func(t *testing.T) {
		require.NoError(t, f.manager.UpdateMinDifficulty(ctx, f.vaultID, ch.ID, nil))
		got, err := f.manager.Get(ctx, f.vaultID, ch.ID)
		require.NoError(t, err)
		require.Nil(t, got.MinDifficulty)
	})

	t.Run("below minimum", func(t *testing.T) {
		low := int64(pow.MinDifficulty - 1)
		require.ErrorIs(t, f.manager.UpdateMinDifficulty(ctx, f.vaultID, ch.ID, &low), channel.ErrDifficultyTooLow)
	})
}

func TestSyncHandoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved := f.newChannel(t, "alice@passapples.com")
	pending := f.newChannel(t, "carol@passapples.com")

	var savedMessages []*storage.InboxMessage
	for i := 0; i < 3; i++ {
		savedMessages = append(savedMessages, f.appendMessage(t, saved))
	}
	f.appendMessage(t, pending)

	t.Run("sync before saving returns nothing", func(t *testing.T) {
		messages, _, err := f.manager.MessagesForSync(ctx, f.vaultID, 10)
		require.NoError(t, err)
		require.Empty(t, messages)
	})

	require.NoError(t, f.manager.UpdateStatus(ctx, f.vaultID, saved.ID, storage.ChannelStatusSaved))

	t.Run("sync returns saved channels only", func(t *testing.T) {
		messages, hasMore, err := f.manager.MessagesForSync(ctx, f.vaultID, 10)
		require.NoError(t, err)
		require.False(t, hasMore)
		require.Len(t, messages, 3)
		for i, msg := range messages {
			require.Equal(t, saved.ID, msg.ChannelID)
			require.Equal(t, int64(i+1), msg.OrderInChannel)
		}
	})

	t.Run("delete after sync, order never resets", func(t *testing.T) {
		var syncedIDs []string
		for _, msg := range savedMessages {
			syncedIDs = append(syncedIDs, msg.ID)
		}
		deleted, err := f.manager.DeleteMessages(ctx, f.vaultID, syncedIDs)
		require.NoError(t, err)
		require.Equal(t, int64(3), deleted)

		messages, _, err := f.manager.MessagesForSync(ctx, f.vaultID, 10)
		require.NoError(t, err)
		require.Empty(t, messages)

		// The next message continues the sequence.
		next := f.appendMessage(t, saved)
		require.Equal(t, int64(4), next.OrderInChannel)
	})

	t.Run("deleting nothing is fine", func(t *testing.T) {
		deleted, err := f.manager.DeleteMessages(ctx, f.vaultID, nil)
		require.NoError(t, err)
		require.Zero(t, deleted)
	})
}

func TestMessagesPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := f.newChannel(t, "alice@passapples.com")

	for i := 0; i < 5; i++ {
		f.appendMessage(t, ch)
	}

	page1, hasMore, err := f.manager.Messages(ctx, f.vaultID, ch.ID, 2, 0)
	require.NoError(t, err)
	require.True(t, hasMore)
	require.Len(t, page1, 2)
	require.Equal(t, int64(5), page1[0].OrderInChannel)
	require.Equal(t, int64(4), page1[1].OrderInChannel)

	page2, _, err := f.manager.Messages(ctx, f.vaultID, ch.ID, 2, page1[1].OrderInChannel)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Equal(t, int64(3), page2[0].OrderInChannel)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.newChannel(t, fmt.Sprintf("peer%d@passapples.com", i))
	}

	channels, hasMore, err := f.manager.List(ctx, f.vaultID, 2, 0)
	require.NoError(t, err)
	require.True(t, hasMore)
	require.Len(t, channels, 2)

	rest, hasMore, err := f.manager.List(ctx, f.vaultID, 2, 2)
	require.NoError(t, err)
	require.False(t, hasMore)
	require.Len(t, rest, 1)
}
