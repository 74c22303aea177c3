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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keypears/keypears-core/pkg/storage"
)

// PowChallengeStore implements storage.PowChallengeStore for
// PostgreSQL.
type PowChallengeStore struct {
	db *pgxpool.Pool
}

const powColumns = `id, algorithm, header, target, difficulty, purpose, bound_sender, bound_recipient, bound_sender_pub_key, created_at, expires_at, consumed_at, solved_hash, solved_header`

// Create inserts a challenge.
func (s *PowChallengeStore) Create(ctx context.Context, challenge *storage.PowChallenge) error {
	query := `
		INSERT INTO pow_challenge (id, algorithm, header, target, difficulty, purpose, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.Exec(ctx, query,
		challenge.ID,
		challenge.Algorithm,
		challenge.Header,
		challenge.Target,
		challenge.Difficulty,
		challenge.Purpose,
		challenge.CreatedAt,
		challenge.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pow challenge: %w", err)
	}
	return nil
}

// Get retrieves a challenge by id.
func (s *PowChallengeStore) Get(ctx context.Context, id string) (*storage.PowChallenge, error) {
	query := `SELECT ` + powColumns + ` FROM pow_challenge WHERE id = $1`
	return scanChallenge(s.db.QueryRow(ctx, query, id))
}

// Consume performs the single-use conditional update. The bound fields
// and solution are written in the same statement that flips
// consumed_at, so there is no partial consumption.
func (s *PowChallengeStore) Consume(ctx context.Context, id string, solvedHeader, solvedHash []byte, binding storage.PowBinding, consumedAt time.Time) (*storage.PowChallenge, error) {
	query := `
		UPDATE pow_challenge
		SET consumed_at = $1,
		    solved_header = $2,
		    solved_hash = $3,
		    bound_sender = $4,
		    bound_recipient = $5,
		    bound_sender_pub_key = $6
		WHERE id = $7 AND consumed_at IS NULL
		RETURNING ` + powColumns + `
	`

	challenge, err := scanChallenge(s.db.QueryRow(ctx, query,
		consumedAt,
		solvedHeader,
		solvedHash,
		binding.Sender,
		binding.Recipient,
		binding.SenderPubKey,
		id,
	))
	if err == nil {
		return challenge, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	// Zero rows: either the id is unknown or somebody consumed it
	// first.
	if _, getErr := s.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, storage.ErrAlreadyConsumed
}

// DeleteExpired deletes unconsumed challenges past their expiry.
func (s *PowChallengeStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM pow_challenge WHERE consumed_at IS NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired challenges: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanChallenge(row rowScanner) (*storage.PowChallenge, error) {
	var challenge storage.PowChallenge
	var boundSender, boundRecipient *string
	err := row.Scan(
		&challenge.ID,
		&challenge.Algorithm,
		&challenge.Header,
		&challenge.Target,
		&challenge.Difficulty,
		&challenge.Purpose,
		&boundSender,
		&boundRecipient,
		&challenge.Binding.SenderPubKey,
		&challenge.CreatedAt,
		&challenge.ExpiresAt,
		&challenge.ConsumedAt,
		&challenge.SolvedHash,
		&challenge.SolvedHeader,
	)
	if err := mapError(err); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get pow challenge: %w", err)
	}
	if boundSender != nil {
		challenge.Binding.Sender = *boundSender
	}
	if boundRecipient != nil {
		challenge.Binding.Recipient = *boundRecipient
	}
	return &challenge, nil
}
