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

package pow

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/keypears/keypears-core/internal/ids"
	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/internal/metrics"
	"github.com/keypears/keypears-core/pkg/storage"
)

// ChallengeTTL is how long a challenge stays solvable after issuance.
const ChallengeTTL = 10 * time.Minute

// Config tunes challenge issuance.
type Config struct {
	// RegistrationDifficulty is the fixed difficulty of registration
	// challenges.
	RegistrationDifficulty int64
}

// Controller issues and consumes PoW challenges.
type Controller struct {
	store    storage.PowChallengeStore
	vaults   storage.VaultStore
	channels storage.ChannelStore
	cfg      Config
	log      logger.Logger
}

// NewController creates a challenge controller.
func NewController(store storage.PowChallengeStore, vaults storage.VaultStore, channels storage.ChannelStore, cfg Config, log logger.Logger) *Controller {
	if cfg.RegistrationDifficulty < MinDifficulty {
		cfg.RegistrationDifficulty = MinDifficulty
	}
	return &Controller{store: store, vaults: vaults, channels: channels, cfg: cfg, log: log}
}

// IssueParams describe a challenge request.
type IssueParams struct {
	Purpose          string
	SenderAddress    string
	RecipientAddress string
	Difficulty       int64 // 0 means derive or use the minimum
}

// Issue creates a challenge. For messaging challenges with a known
// recipient, the effective difficulty is the maximum of the channel
// override, the recipient vault default, and the server minimum.
func (c *Controller) Issue(ctx context.Context, params IssueParams) (*storage.PowChallenge, error) {
	purpose := params.Purpose
	if purpose == "" {
		purpose = storage.PowPurposeGeneric
	}

	difficulty, err := c.effectiveDifficulty(ctx, purpose, params)
	if err != nil {
		return nil, err
	}

	algorithm := algorithmForPurpose(purpose)
	header := make([]byte, algorithm.HeaderLen())
	if _, err := rand.Read(header); err != nil {
		return nil, err
	}

	target, err := TargetFromDifficulty(difficulty)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	challenge := &storage.PowChallenge{
		ID:         ids.New(),
		Algorithm:  algorithm.Name(),
		Header:     header,
		Target:     target,
		Difficulty: difficulty,
		Purpose:    purpose,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ChallengeTTL),
	}
	if err := c.store.Create(ctx, challenge); err != nil {
		return nil, err
	}

	metrics.PowChallengesIssued.WithLabelValues(purpose, algorithm.Name()).Inc()
	c.log.Debug("issued pow challenge",
		logger.String("id", challenge.ID),
		logger.String("purpose", purpose),
		logger.Int64("difficulty", difficulty))
	return challenge, nil
}

// Consume validates a solution and atomically marks the challenge
// consumed with its binding. The challenge must have been issued for
// the purpose the caller is spending it on: a cheap generic proof must
// not pay for registration, nor a registration proof for message
// admission. The remaining check order is fixed: existence, expiry,
// prior consumption, header integrity, hash re-derivation, target.
func (c *Controller) Consume(ctx context.Context, id, purpose string, solvedHeader, solvedHash []byte, binding storage.PowBinding) (*storage.PowChallenge, error) {
	challenge, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if challenge.Purpose != purpose {
		return nil, c.reject(challenge, ErrPurposeMismatch)
	}
	if !time.Now().Before(challenge.ExpiresAt) {
		return nil, c.reject(challenge, ErrExpired)
	}
	if challenge.Consumed() {
		if challenge.Binding.Equal(binding) {
			return nil, c.reject(challenge, ErrConsumed)
		}
		return nil, c.reject(challenge, ErrReusedWithDifferentBinding)
	}
	if err := c.validateSolution(challenge, solvedHeader, solvedHash); err != nil {
		return nil, c.reject(challenge, err)
	}

	consumed, err := c.store.Consume(ctx, id, solvedHeader, solvedHash, binding, time.Now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyConsumed) {
			// Lost the conditional update; report against the
			// winner's binding.
			current, getErr := c.store.Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if current.Binding.Equal(binding) {
				return nil, c.reject(current, ErrConsumed)
			}
			return nil, c.reject(current, ErrReusedWithDifferentBinding)
		}
		return nil, err
	}

	metrics.PowChallengesConsumed.WithLabelValues(consumed.Purpose).Inc()
	return consumed, nil
}

// Verify checks a solution without consuming the challenge. Used by
// the public proof-check endpoint so miners can validate before
// spending the proof.
func (c *Controller) Verify(ctx context.Context, id string, solvedHeader, solvedHash []byte) error {
	challenge, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !time.Now().Before(challenge.ExpiresAt) {
		return ErrExpired
	}
	return c.validateSolution(challenge, solvedHeader, solvedHash)
}

// Lookup retrieves a challenge for binding checks by later pipeline
// stages.
func (c *Controller) Lookup(ctx context.Context, id string) (*storage.PowChallenge, error) {
	challenge, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return challenge, nil
}

func (c *Controller) validateSolution(challenge *storage.PowChallenge, solvedHeader, solvedHash []byte) error {
	algorithm, err := Lookup(challenge.Algorithm)
	if err != nil {
		return err
	}
	if !algorithm.VerifyHeader(challenge.Header, solvedHeader) {
		return ErrHeaderMismatch
	}
	derived := algorithm.Hash(solvedHeader)
	// The presented hash must re-derive exactly and sit under the
	// target. Both failures surface as one category to avoid an
	// oracle.
	if !bytesEqual(derived, solvedHash) {
		return ErrBadSolution
	}
	if !HashMeetsTarget(solvedHash, challenge.Target) {
		return ErrBadSolution
	}
	return nil
}

func (c *Controller) reject(challenge *storage.PowChallenge, err error) error {
	metrics.PowConsumeFailures.WithLabelValues(failureLabel(err)).Inc()
	c.log.Debug("pow consume rejected",
		logger.String("id", challenge.ID),
		logger.Error(err))
	return err
}

func (c *Controller) effectiveDifficulty(ctx context.Context, purpose string, params IssueParams) (int64, error) {
	if purpose == storage.PowPurposeRegistration {
		return c.cfg.RegistrationDifficulty, nil
	}

	difficulty := params.Difficulty
	if difficulty < MinDifficulty {
		difficulty = MinDifficulty
	}

	if purpose != storage.PowPurposeMessaging || params.RecipientAddress == "" {
		return difficulty, nil
	}

	name, domain, ok := splitAddress(params.RecipientAddress)
	if !ok {
		return difficulty, nil
	}
	vault, err := c.vaults.GetByAddress(ctx, name, domain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return difficulty, nil
		}
		return 0, err
	}
	if vault.MinDifficulty > difficulty {
		difficulty = vault.MinDifficulty
	}

	if params.SenderAddress != "" {
		channel, err := c.channels.GetByCounterparty(ctx, vault.ID, params.SenderAddress)
		if err == nil && channel.MinDifficulty != nil && *channel.MinDifficulty > difficulty {
			difficulty = *channel.MinDifficulty
		} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return 0, err
		}
	}
	return difficulty, nil
}

func algorithmForPurpose(purpose string) Algorithm {
	if purpose == storage.PowPurposeRegistration {
		return algorithms[AlgorithmPow564B]
	}
	return algorithms[AlgorithmPow5217A]
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrConsumed):
		return "consumed"
	case errors.Is(err, ErrBadSolution):
		return "bad_solution"
	case errors.Is(err, ErrHeaderMismatch):
		return "header_mismatch"
	case errors.Is(err, ErrAlgorithmMismatch):
		return "algorithm_mismatch"
	case errors.Is(err, ErrPurposeMismatch):
		return "purpose_mismatch"
	case errors.Is(err, ErrReusedWithDifferentBinding):
		return "rebound"
	default:
		return "other"
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitAddress(address string) (name, domain string, ok bool) {
	i := strings.IndexByte(address, '@')
	if i <= 0 || i == len(address)-1 {
		return "", "", false
	}
	return address[:i], address[i+1:], true
}
