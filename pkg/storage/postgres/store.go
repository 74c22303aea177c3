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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keypears/keypears-core/pkg/storage"
)

// Store implements the storage.Store interface for PostgreSQL.
type Store struct {
	pool     *pgxpool.Pool
	vaults   *VaultStore
	sessions *DeviceSessionStore
	pow      *PowChallengeStore
	keys     *EngagementKeyStore
	channels *ChannelStore
	inbox    *InboxStore
	secrets  *SecretUpdateStore
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewStore creates a new PostgreSQL store.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool:     pool,
		vaults:   &VaultStore{db: pool},
		sessions: &DeviceSessionStore{db: pool},
		pow:      &PowChallengeStore{db: pool},
		keys:     &EngagementKeyStore{db: pool},
		channels: &ChannelStore{db: pool},
		inbox:    &InboxStore{db: pool},
		secrets:  &SecretUpdateStore{db: pool},
	}, nil
}

// Vaults returns the vault store.
func (s *Store) Vaults() storage.VaultStore { return s.vaults }

// Sessions returns the device session store.
func (s *Store) Sessions() storage.DeviceSessionStore { return s.sessions }

// PowChallenges returns the PoW challenge store.
func (s *Store) PowChallenges() storage.PowChallengeStore { return s.pow }

// EngagementKeys returns the engagement key store.
func (s *Store) EngagementKeys() storage.EngagementKeyStore { return s.keys }

// Channels returns the channel store.
func (s *Store) Channels() storage.ChannelStore { return s.channels }

// Inbox returns the inbox message store.
func (s *Store) Inbox() storage.InboxStore { return s.inbox }

// SecretUpdates returns the secret update store.
func (s *Store) SecretUpdates() storage.SecretUpdateStore { return s.secrets }

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// mapError translates pgx errors into storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return storage.ErrDuplicate
	}
	return err
}
