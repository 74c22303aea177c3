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

import "context"

// Schema is the DDL for all table families. The unique indexes encode
// the data-model invariants; migration tooling is out of scope.
const Schema = `
CREATE TABLE IF NOT EXISTS vault (
	id                  CHAR(26) PRIMARY KEY,
	name                VARCHAR(30) NOT NULL,
	domain              VARCHAR(255) NOT NULL,
	vault_pub_key       BYTEA NOT NULL,
	vault_pub_key_hash  BYTEA NOT NULL,
	hashed_login_key    BYTEA NOT NULL,
	encrypted_vault_key BYTEA NOT NULL,
	min_difficulty      BIGINT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL,
	UNIQUE (name, domain)
);

CREATE TABLE IF NOT EXISTS device_session (
	token              TEXT PRIMARY KEY,
	vault_id           CHAR(26) NOT NULL REFERENCES vault(id),
	device_id          TEXT NOT NULL,
	device_description TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	expires_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS device_session_vault_idx ON device_session (vault_id);

CREATE TABLE IF NOT EXISTS pow_challenge (
	id                   CHAR(26) PRIMARY KEY,
	algorithm            VARCHAR(16) NOT NULL,
	header               BYTEA NOT NULL,
	target               BYTEA NOT NULL,
	difficulty           BIGINT NOT NULL,
	purpose              VARCHAR(16) NOT NULL,
	bound_sender         TEXT,
	bound_recipient      TEXT,
	bound_sender_pub_key BYTEA,
	created_at           TIMESTAMPTZ NOT NULL,
	expires_at           TIMESTAMPTZ NOT NULL,
	consumed_at          TIMESTAMPTZ,
	solved_hash          BYTEA,
	solved_header        BYTEA
);
CREATE INDEX IF NOT EXISTS pow_challenge_expiry_idx ON pow_challenge (expires_at) WHERE consumed_at IS NULL;

CREATE TABLE IF NOT EXISTS engagement_key (
	id                   CHAR(26) PRIMARY KEY,
	vault_id             CHAR(26) NOT NULL REFERENCES vault(id),
	purpose              VARCHAR(8) NOT NULL,
	counterparty_address TEXT,
	sender_pub_key       BYTEA,
	engagement_pub_key   BYTEA NOT NULL,
	derivation_priv_key  BYTEA NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS engagement_key_send_idx
	ON engagement_key (vault_id, counterparty_address)
	WHERE purpose = 'send';
CREATE UNIQUE INDEX IF NOT EXISTS engagement_key_receive_idx
	ON engagement_key (vault_id, counterparty_address, sender_pub_key)
	WHERE purpose = 'receive';
CREATE INDEX IF NOT EXISTS engagement_key_pub_idx ON engagement_key (vault_id, engagement_pub_key);

CREATE TABLE IF NOT EXISTS channel_view (
	id                   CHAR(26) PRIMARY KEY,
	vault_id             CHAR(26) NOT NULL REFERENCES vault(id),
	counterparty_address TEXT NOT NULL,
	status               VARCHAR(8) NOT NULL,
	secret_id            CHAR(26) NOT NULL,
	min_difficulty       BIGINT,
	next_order           BIGINT NOT NULL DEFAULT 1,
	last_message_at      TIMESTAMPTZ NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	UNIQUE (vault_id, counterparty_address)
);

CREATE TABLE IF NOT EXISTS inbox_message (
	id                           CHAR(26) PRIMARY KEY,
	vault_id                     CHAR(26) NOT NULL REFERENCES vault(id),
	sender_address               TEXT NOT NULL,
	recipient_address            TEXT NOT NULL,
	channel_id                   CHAR(26) NOT NULL REFERENCES channel_view(id),
	order_in_channel             BIGINT NOT NULL,
	encrypted_content            BYTEA NOT NULL,
	sender_engagement_pub_key    BYTEA NOT NULL,
	recipient_engagement_pub_key BYTEA NOT NULL,
	pow_challenge_id             CHAR(26) NOT NULL,
	is_read                      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at                   TIMESTAMPTZ NOT NULL,
	UNIQUE (channel_id, order_in_channel),
	UNIQUE (channel_id, pow_challenge_id)
);

CREATE TABLE IF NOT EXISTS secret_update (
	id             CHAR(26) PRIMARY KEY,
	vault_id       CHAR(26) NOT NULL REFERENCES vault(id),
	secret_id      CHAR(26) NOT NULL,
	global_order   BIGINT NOT NULL,
	local_order    BIGINT NOT NULL,
	encrypted_blob BYTEA NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (vault_id, global_order),
	UNIQUE (vault_id, secret_id, local_order)
);
`

// EnsureSchema creates all tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}
