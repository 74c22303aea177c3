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

package pow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keypears/keypears-core/internal/ids"
	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/internal/testutil"
	"github.com/keypears/keypears-core/pkg/storage"
	"github.com/keypears/keypears-core/pkg/storage/memory"
	"github.com/keypears/keypears-core/pow"
)

func newController(t *testing.T) (*pow.Controller, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	controller := pow.NewController(
		store.PowChallenges(), store.Vaults(), store.Channels(),
		pow.Config{RegistrationDifficulty: pow.MinDifficulty},
		logger.Nop(),
	)
	return controller, store
}

func messagingBinding() storage.PowBinding {
	return storage.PowBinding{
		Sender:       "alice@keypears.com",
		Recipient:    "bob@keypears.com",
		SenderPubKey: []byte{0x02, 0x01, 0x02, 0x03},
	}
}

func TestIssue(t *testing.T) {
	controller, _ := newController(t)
	ctx := context.Background()

	t.Run("registration uses the short header", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeRegistration})
		require.NoError(t, err)
		require.Equal(t, pow.AlgorithmPow564B, challenge.Algorithm)
		require.Len(t, challenge.Header, 64)
		require.Len(t, challenge.Target, 32)
		require.True(t, ids.IsValid(challenge.ID))
		require.WithinDuration(t, time.Now().Add(pow.ChallengeTTL), challenge.ExpiresAt, 5*time.Second)
	})

	t.Run("messaging uses the long header", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeMessaging})
		require.NoError(t, err)
		require.Equal(t, pow.AlgorithmPow5217A, challenge.Algorithm)
		require.Len(t, challenge.Header, 217)
	})

	t.Run("difficulty is clamped to the minimum", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeGeneric, Difficulty: 3})
		require.NoError(t, err)
		require.Equal(t, int64(pow.MinDifficulty), challenge.Difficulty)
	})

	t.Run("caller difficulty above the minimum survives", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeGeneric, Difficulty: 1024})
		require.NoError(t, err)
		require.Equal(t, int64(1024), challenge.Difficulty)
	})
}

func TestIssueDifficultyOverrides(t *testing.T) {
	controller, store := newController(t)
	ctx := context.Background()

	vault := &storage.Vault{
		ID: ids.New(), Name: "bob", Domain: "keypears.com",
		VaultPubKey: []byte{0x02}, VaultPubKeyHash: []byte{0x01},
		HashedLoginKey: []byte{0x01}, EncryptedVaultKey: []byte{0x01},
		MinDifficulty: 512,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, store.Vaults().Create(ctx, vault))

	t.Run("vault default wins over server minimum", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{
			Purpose:          storage.PowPurposeMessaging,
			RecipientAddress: "bob@keypears.com",
			SenderAddress:    "alice@passapples.com",
		})
		require.NoError(t, err)
		require.Equal(t, int64(512), challenge.Difficulty)
	})

	t.Run("channel override wins over vault default", func(t *testing.T) {
		override := int64(4096)
		_, _, err := store.Channels().GetOrCreate(ctx, &storage.Channel{
			ID: ids.New(), VaultID: vault.ID,
			CounterpartyAddress: "alice@passapples.com",
			Status:              storage.ChannelStatusPending,
			SecretID:            ids.New(),
			MinDifficulty:       &override,
			LastMessageAt:       time.Now(),
			CreatedAt:           time.Now(),
		})
		require.NoError(t, err)

		challenge, err := controller.Issue(ctx, pow.IssueParams{
			Purpose:          storage.PowPurposeMessaging,
			RecipientAddress: "bob@keypears.com",
			SenderAddress:    "alice@passapples.com",
		})
		require.NoError(t, err)
		require.Equal(t, int64(4096), challenge.Difficulty)
	})

	t.Run("unknown recipient falls back to the minimum", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{
			Purpose:          storage.PowPurposeMessaging,
			RecipientAddress: "nobody@keypears.com",
		})
		require.NoError(t, err)
		require.Equal(t, int64(pow.MinDifficulty), challenge.Difficulty)
	})
}

func TestConsume(t *testing.T) {
	controller, _ := newController(t)
	ctx := context.Background()

	t.Run("happy path binds atomically", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeMessaging})
		require.NoError(t, err)

		header, hash := testutil.SolvePow(t, challenge)
		binding := messagingBinding()

		consumed, err := controller.Consume(ctx, challenge.ID, storage.PowPurposeMessaging, header, hash, binding)
		require.NoError(t, err)
		require.NotNil(t, consumed.ConsumedAt)
		require.Equal(t, hash, consumed.SolvedHash)
		require.Equal(t, header, consumed.SolvedHeader)
		require.True(t, consumed.Binding.Equal(binding))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := controller.Consume(ctx, ids.New(), storage.PowPurposeMessaging, nil, nil, messagingBinding())
		require.ErrorIs(t, err, pow.ErrNotFound)
	})

	t.Run("purpose mismatch is rejected", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeGeneric})
		require.NoError(t, err)
		header, hash := testutil.SolvePow(t, challenge)

		// A cheap generic proof must not pay for another purpose.
		_, err = controller.Consume(ctx, challenge.ID, storage.PowPurposeMessaging, header, hash, messagingBinding())
		require.ErrorIs(t, err, pow.ErrPurposeMismatch)
		_, err = controller.Consume(ctx, challenge.ID, storage.PowPurposeRegistration, header, hash, messagingBinding())
		require.ErrorIs(t, err, pow.ErrPurposeMismatch)

		// The challenge stays unconsumed and still works for its own
		// purpose.
		consumed, err := controller.Consume(ctx, challenge.ID, storage.PowPurposeGeneric, header, hash, messagingBinding())
		require.NoError(t, err)
		require.NotNil(t, consumed.ConsumedAt)
	})

	t.Run("reuse with identical binding", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeMessaging})
		require.NoError(t, err)
		header, hash := testutil.SolvePow(t, challenge)
		binding := messagingBinding()

		_, err = controller.Consume(ctx, challenge.ID, storage.PowPurposeMessaging, header, hash, binding)
		require.NoError(t, err)

		_, err = controller.Consume(ctx, challenge.ID, storage.PowPurposeMessaging, header, hash, binding)
		require.ErrorIs(t, err, pow.ErrConsumed)
	})

	t.Run("reuse with different binding", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeMessaging})
		require.NoError(t, err)
		header, hash := testutil.SolvePow(t, challenge)

		_, err = controller.Consume(ctx, challenge.ID, storage.PowPurposeMessaging, header, hash, messagingBinding())
		require.NoError(t, err)

		rebound := messagingBinding()
		rebound.SenderPubKey = []byte{0x03, 0x09, 0x09}
		_, err = controller.Consume(ctx, challenge.ID, storage.PowPurposeMessaging, header, hash, rebound)
		require.ErrorIs(t, err, pow.ErrReusedWithDifferentBinding)
	})

	t.Run("tampered payload byte fails header check", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeMessaging})
		require.NoError(t, err)
		header, hash := testutil.SolvePow(t, challenge)

		// Byte 0 of pow5-217a is outside the nonce region.
		header[0] ^= 0x01
		_, err = controller.Consume(ctx, challenge.ID, storage.PowPurposeMessaging, header, hash, messagingBinding())
		require.ErrorIs(t, err, pow.ErrHeaderMismatch)
	})

	t.Run("hash that does not re-derive fails", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeMessaging})
		require.NoError(t, err)
		header, hash := testutil.SolvePow(t, challenge)

		hash[31] ^= 0x01
		_, err = controller.Consume(ctx, challenge.ID, storage.PowPurposeMessaging, header, hash, messagingBinding())
		require.ErrorIs(t, err, pow.ErrBadSolution)
	})

	t.Run("correct hash above target fails", func(t *testing.T) {
		challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeMessaging})
		require.NoError(t, err)

		algorithm, err := pow.Lookup(challenge.Algorithm)
		require.NoError(t, err)

		// Walk counters until a correctly derived hash misses the
		// target; at minimum difficulty almost every counter does.
		header := append([]byte{}, challenge.Header...)
		_, end := algorithm.NonceRegion()
		found := false
		for counter := 0; counter < 1<<16; counter++ {
			header[end-4] = byte(counter)
			header[end-3] = byte(counter >> 8)
			hash := algorithm.Hash(header)
			if !pow.HashMeetsTarget(hash, challenge.Target) {
				_, err = controller.Consume(ctx, challenge.ID, storage.PowPurposeMessaging, header, hash, messagingBinding())
				require.ErrorIs(t, err, pow.ErrBadSolution)
				found = true
				break
			}
		}
		require.True(t, found)
	})
}

func TestConsumeExpired(t *testing.T) {
	controller, store := newController(t)
	ctx := context.Background()

	now := time.Now().UTC()
	challenge := &storage.PowChallenge{
		ID:         ids.New(),
		Algorithm:  pow.AlgorithmPow564B,
		Header:     make([]byte, 64),
		Target:     mustTarget(t, pow.MinDifficulty),
		Difficulty: pow.MinDifficulty,
		Purpose:    storage.PowPurposeGeneric,
		CreatedAt:  now.Add(-time.Hour),
		ExpiresAt:  now.Add(-50 * time.Minute),
	}
	require.NoError(t, store.PowChallenges().Create(ctx, challenge))

	header, hash := testutil.SolvePow(t, challenge)
	_, err := controller.Consume(ctx, challenge.ID, storage.PowPurposeGeneric, header, hash, messagingBinding())
	require.ErrorIs(t, err, pow.ErrExpired)
}

// Single-use must hold under concurrent attempts: exactly one caller
// wins and every other consume of the same binding reports Consumed.
func TestConsumeConcurrentSingleUse(t *testing.T) {
	controller, _ := newController(t)
	ctx := context.Background()

	challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeMessaging})
	require.NoError(t, err)
	header, hash := testutil.SolvePow(t, challenge)
	binding := messagingBinding()

	const attempts = 16
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = controller.Consume(ctx, challenge.ID, storage.PowPurposeMessaging, header, hash, binding)
		}(i)
	}
	wg.Wait()

	var wins, consumed int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, pow.ErrConsumed)
			consumed++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, attempts-1, consumed)
}

func TestVerify(t *testing.T) {
	controller, _ := newController(t)
	ctx := context.Background()

	challenge, err := controller.Issue(ctx, pow.IssueParams{Purpose: storage.PowPurposeGeneric})
	require.NoError(t, err)
	header, hash := testutil.SolvePow(t, challenge)

	t.Run("valid proof", func(t *testing.T) {
		require.NoError(t, controller.Verify(ctx, challenge.ID, header, hash))
	})

	t.Run("does not consume", func(t *testing.T) {
		fetched, err := controller.Lookup(ctx, challenge.ID)
		require.NoError(t, err)
		require.False(t, fetched.Consumed())
	})

	t.Run("bad hash", func(t *testing.T) {
		bad := append([]byte{}, hash...)
		bad[0] ^= 0x01
		require.ErrorIs(t, controller.Verify(ctx, challenge.ID, header, bad), pow.ErrBadSolution)
	})
}

func mustTarget(t *testing.T, difficulty int64) []byte {
	t.Helper()
	target, err := pow.TargetFromDifficulty(difficulty)
	require.NoError(t, err)
	return target
}
