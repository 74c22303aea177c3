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

// Package vault manages vault registration and device-session
// authentication.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
	"time"

	"github.com/keypears/keypears-core/crypto"
	"github.com/keypears/keypears-core/internal/ids"
	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/internal/metrics"
	"github.com/keypears/keypears-core/pkg/storage"
	"github.com/keypears/keypears-core/pow"
)

// DefaultSessionTTL is the session lifetime when the config leaves it
// unset.
const DefaultSessionTTL = 24 * time.Hour

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9]{0,29}$`)

var (
	// ErrInvalidName is returned when a vault name fails validation.
	ErrInvalidName = errors.New("invalid vault name")

	// ErrDomainNotAccepted is returned for domains this server does
	// not host.
	ErrDomainNotAccepted = errors.New("domain not accepted")

	// ErrPubKeyHashMismatch is returned when the presented hash does
	// not commit to the presented key.
	ErrPubKeyHashMismatch = errors.New("vault public key hash mismatch")

	// ErrNameTaken is returned when (name, domain) is already
	// registered.
	ErrNameTaken = errors.New("name already taken")

	// ErrLoginFailed is returned for a wrong vault id or login key.
	ErrLoginFailed = errors.New("login failed")

	// ErrLoginThrottled is returned while the per-vault backoff window
	// is open.
	ErrLoginThrottled = errors.New("login throttled")

	// ErrSessionInvalid is returned for a missing or expired session
	// token.
	ErrSessionInvalid = errors.New("session invalid")
)

// Config tunes the registry.
type Config struct {
	AcceptedDomains []string
	SessionTTL      time.Duration
}

// Registry registers vaults and issues device sessions.
type Registry struct {
	vaults   storage.VaultStore
	sessions storage.DeviceSessionStore
	pow      *pow.Controller
	cfg      Config
	limiter  *loginLimiter
	log      logger.Logger
}

// NewRegistry creates a vault registry.
func NewRegistry(vaults storage.VaultStore, sessions storage.DeviceSessionStore, powController *pow.Controller, cfg Config, log logger.Logger) *Registry {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &Registry{
		vaults:   vaults,
		sessions: sessions,
		pow:      powController,
		cfg:      cfg,
		limiter:  newLoginLimiter(),
		log:      log,
	}
}

// RegisterParams are the inputs of vault registration.
type RegisterParams struct {
	VaultID           string // optional; generated when empty
	Name              string
	Domain            string
	VaultPubKey       []byte
	VaultPubKeyHash   []byte
	LoginKey          []byte
	EncryptedVaultKey []byte
	PowChallengeID    string
	SolvedHeader      []byte
	SolvedHash        []byte
}

// Register creates a vault. The registration PoW is consumed bound to
// the claimed address, the login key is stretched and discarded, and
// the (name, domain) uniqueness is enforced by the store.
func (r *Registry) Register(ctx context.Context, params RegisterParams) (*storage.Vault, error) {
	if !namePattern.MatchString(params.Name) {
		return nil, ErrInvalidName
	}
	if !r.domainAccepted(params.Domain) {
		return nil, ErrDomainNotAccepted
	}
	if err := crypto.ValidatePublicKey(params.VaultPubKey); err != nil {
		return nil, err
	}
	if !crypto.ConstantTimeEqual(crypto.SHA256(params.VaultPubKey), params.VaultPubKeyHash) {
		return nil, ErrPubKeyHashMismatch
	}
	if len(params.LoginKey) != crypto.DigestSize {
		return nil, ErrLoginFailed
	}

	vaultID := params.VaultID
	if vaultID == "" {
		vaultID = ids.New()
	} else if !ids.IsValid(vaultID) {
		return nil, ErrInvalidName
	}

	address := params.Name + "@" + params.Domain
	_, err := r.pow.Consume(ctx, params.PowChallengeID, storage.PowPurposeRegistration,
		params.SolvedHeader, params.SolvedHash, storage.PowBinding{Sender: address})
	if err != nil {
		return nil, err
	}

	vault := &storage.Vault{
		ID:                vaultID,
		Name:              params.Name,
		Domain:            params.Domain,
		VaultPubKey:       append([]byte{}, params.VaultPubKey...),
		VaultPubKeyHash:   append([]byte{}, params.VaultPubKeyHash...),
		HashedLoginKey:    crypto.DeriveHashedLoginKey(params.LoginKey, vaultID),
		EncryptedVaultKey: append([]byte{}, params.EncryptedVaultKey...),
		CreatedAt:         time.Now().UTC(),
	}
	if err := r.vaults.Create(ctx, vault); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrNameTaken
		}
		return nil, err
	}

	r.log.Info("vault registered",
		logger.String("vault_id", vault.ID),
		logger.String("address", address))
	return vault, nil
}

// CheckNameAvailability reports whether (name, domain) can still be
// registered.
func (r *Registry) CheckNameAvailability(ctx context.Context, name, domain string) (bool, error) {
	if !namePattern.MatchString(name) {
		return false, ErrInvalidName
	}
	if !r.domainAccepted(domain) {
		return false, ErrDomainNotAccepted
	}
	_, err := r.vaults.GetByAddress(ctx, name, domain)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	return false, err
}

// Login checks the stretched login key in constant time and issues a
// device session. Failed attempts open an exponential backoff window
// per vault id.
func (r *Registry) Login(ctx context.Context, vaultID string, loginKey []byte, deviceID, deviceDescription string) (*storage.DeviceSession, error) {
	if !r.limiter.allow(vaultID) {
		metrics.LoginAttempts.WithLabelValues("throttled").Inc()
		return nil, ErrLoginThrottled
	}

	vault, err := r.vaults.Get(ctx, vaultID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.limiter.failure(vaultID)
			metrics.LoginAttempts.WithLabelValues("failure").Inc()
			return nil, ErrLoginFailed
		}
		return nil, err
	}

	derived := crypto.DeriveHashedLoginKey(loginKey, vaultID)
	if !crypto.ConstantTimeEqual(derived, vault.HashedLoginKey) {
		r.limiter.failure(vaultID)
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		return nil, ErrLoginFailed
	}
	r.limiter.success(vaultID)

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &storage.DeviceSession{
		Token:             token,
		VaultID:           vaultID,
		DeviceID:          deviceID,
		DeviceDescription: deviceDescription,
		CreatedAt:         now,
		ExpiresAt:         now.Add(r.cfg.SessionTTL),
	}
	if err := r.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	r.log.Info("login",
		logger.String("vault_id", vaultID),
		logger.String("device_id", deviceID))
	return session, nil
}

// Logout removes a session. Removing an unknown token is not an error.
func (r *Registry) Logout(ctx context.Context, token string) error {
	err := r.sessions.Delete(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// ValidateSession resolves a token to its session and owning vault.
func (r *Registry) ValidateSession(ctx context.Context, token string) (*storage.DeviceSession, *storage.Vault, error) {
	if token == "" {
		return nil, nil, ErrSessionInvalid
	}
	session, err := r.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrSessionInvalid
		}
		return nil, nil, err
	}
	vault, err := r.vaults.Get(ctx, session.VaultID)
	if err != nil {
		return nil, nil, ErrSessionInvalid
	}
	return session, vault, nil
}

// GetVault returns a vault by id.
func (r *Registry) GetVault(ctx context.Context, vaultID string) (*storage.Vault, error) {
	return r.vaults.Get(ctx, vaultID)
}

// ListSessions returns the vault's active sessions.
func (r *Registry) ListSessions(ctx context.Context, vaultID string) ([]*storage.DeviceSession, error) {
	return r.sessions.ListByVault(ctx, vaultID)
}

func (r *Registry) domainAccepted(domain string) bool {
	for _, accepted := range r.cfg.AcceptedDomains {
		if accepted == domain {
			return true
		}
	}
	return false
}

func newSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
