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

package storage

import "time"

// Engagement key purpose tags.
const (
	KeyPurposeSend    = "send"
	KeyPurposeReceive = "receive"
	KeyPurposeManual  = "manual"
)

// Channel statuses.
const (
	ChannelStatusPending = "pending"
	ChannelStatusSaved   = "saved"
	ChannelStatusIgnored = "ignored"
)

// PoW challenge purposes.
const (
	PowPurposeRegistration = "registration"
	PowPurposeMessaging    = "messaging"
	PowPurposeGeneric      = "generic"
)

// Vault is a registered cryptographic identity at name@domain.
type Vault struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Domain            string    `json:"domain"`
	VaultPubKey       []byte    `json:"vault_pub_key"`
	VaultPubKeyHash   []byte    `json:"vault_pub_key_hash"`
	HashedLoginKey    []byte    `json:"hashed_login_key"`
	EncryptedVaultKey []byte    `json:"encrypted_vault_key"`
	MinDifficulty     int64     `json:"min_difficulty"` // 0 inherits the server minimum
	CreatedAt         time.Time `json:"created_at"`
}

// Address returns the vault's name@domain form.
func (v *Vault) Address() string {
	return v.Name + "@" + v.Domain
}

// DeviceSession is an authenticated client session.
type DeviceSession struct {
	Token             string    `json:"token"`
	VaultID           string    `json:"vault_id"`
	DeviceID          string    `json:"device_id"`
	DeviceDescription string    `json:"device_description"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// PowBinding is the admission context stamped onto a consumed
// challenge. Any later use of the proof must present the same tuple.
type PowBinding struct {
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	SenderPubKey []byte `json:"sender_pub_key"`
}

// Equal compares bindings byte for byte.
func (b PowBinding) Equal(other PowBinding) bool {
	if b.Sender != other.Sender || b.Recipient != other.Recipient {
		return false
	}
	if len(b.SenderPubKey) != len(other.SenderPubKey) {
		return false
	}
	for i := range b.SenderPubKey {
		if b.SenderPubKey[i] != other.SenderPubKey[i] {
			return false
		}
	}
	return true
}

// PowChallenge is an issued proof-of-work challenge. The bound fields
// and consumption data are set together on first successful consume.
type PowChallenge struct {
	ID           string     `json:"id"`
	Algorithm    string     `json:"algorithm"`
	Header       []byte     `json:"header"`
	Target       []byte     `json:"target"`
	Difficulty   int64      `json:"difficulty"`
	Purpose      string     `json:"purpose"`
	Binding      PowBinding `json:"binding"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
	SolvedHash   []byte     `json:"solved_hash,omitempty"`
	SolvedHeader []byte     `json:"solved_header,omitempty"`
}

// Consumed reports whether the challenge has been used.
func (c *PowChallenge) Consumed() bool {
	return c.ConsumedAt != nil
}

// EngagementKey is a per-counterparty derived keypair. Only the
// derivation scalar is stored; the full private key exists client side.
type EngagementKey struct {
	ID                  string    `json:"id"`
	VaultID             string    `json:"vault_id"`
	Purpose             string    `json:"purpose"`
	CounterpartyAddress string    `json:"counterparty_address,omitempty"`
	SenderPubKey        []byte    `json:"sender_pub_key,omitempty"` // receive keys only
	EngagementPubKey    []byte    `json:"engagement_pub_key"`
	DerivationPrivKey   []byte    `json:"derivation_priv_key"`
	CreatedAt           time.Time `json:"created_at"`
}

// Channel is the per-vault view of a conversation with one
// counterparty address. NextOrder is the durable order counter for the
// channel's inbox sequence: it only ever moves forward, so deleting
// synced messages never resets OrderInChannel.
type Channel struct {
	ID                  string    `json:"id"`
	VaultID             string    `json:"vault_id"`
	CounterpartyAddress string    `json:"counterparty_address"`
	Status              string    `json:"status"`
	SecretID            string    `json:"secret_id"`
	MinDifficulty       *int64    `json:"min_difficulty,omitempty"`
	NextOrder           int64     `json:"next_order"`
	LastMessageAt       time.Time `json:"last_message_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// InboxMessage is an admitted, still-encrypted inbound message.
type InboxMessage struct {
	ID                        string    `json:"id"`
	VaultID                   string    `json:"vault_id"`
	SenderAddress             string    `json:"sender_address"`
	RecipientAddress          string    `json:"recipient_address"`
	ChannelID                 string    `json:"channel_id"`
	OrderInChannel            int64     `json:"order_in_channel"`
	EncryptedContent          []byte    `json:"encrypted_content"`
	SenderEngagementPubKey    []byte    `json:"sender_engagement_pub_key"`
	RecipientEngagementPubKey []byte    `json:"recipient_engagement_pub_key"`
	PowChallengeID            string    `json:"pow_challenge_id"`
	IsRead                    bool      `json:"is_read"`
	CreatedAt                 time.Time `json:"created_at"`
}

// SecretUpdate is one append-only row of a vault's encrypted log.
type SecretUpdate struct {
	ID            string    `json:"id"`
	VaultID       string    `json:"vault_id"`
	SecretID      string    `json:"secret_id"`
	GlobalOrder   int64     `json:"global_order"`
	LocalOrder    int64     `json:"local_order"`
	EncryptedBlob []byte    `json:"encrypted_blob"`
	CreatedAt     time.Time `json:"created_at"`
}
