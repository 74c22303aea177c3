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

// Package admission runs the inbound message pipeline: proof-of-work,
// signature over the solved hash, and cross-domain identity, in that
// order, aborting on the first failure.
package admission

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/keypears/keypears-core/core/engagement"
	"github.com/keypears/keypears-core/crypto"
	"github.com/keypears/keypears-core/federation"
	"github.com/keypears/keypears-core/internal/ids"
	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/internal/metrics"
	"github.com/keypears/keypears-core/pkg/storage"
	"github.com/keypears/keypears-core/pow"
)

// Config tunes the admission service.
type Config struct {
	// LocalDomains are the domains hosted by this server; sender
	// identities on them are checked locally instead of over HTTP.
	LocalDomains []string
}

// Service is the inbound admission pipeline.
type Service struct {
	pow        *pow.Controller
	vaults     storage.VaultStore
	engagement *engagement.Service
	channels   storage.ChannelStore
	inbox      storage.InboxStore
	verifier   federation.Verifier
	cfg        Config
	log        logger.Logger
}

// NewService creates the admission service.
func NewService(powController *pow.Controller, vaults storage.VaultStore, engagementService *engagement.Service, channels storage.ChannelStore, inbox storage.InboxStore, verifier federation.Verifier, cfg Config, log logger.Logger) *Service {
	return &Service{
		pow:        powController,
		vaults:     vaults,
		engagement: engagementService,
		channels:   channels,
		inbox:      inbox,
		verifier:   verifier,
		cfg:        cfg,
		log:        log,
	}
}

// KeyRequestParams are the inputs of GetCounterpartyEngagementKey.
type KeyRequestParams struct {
	RecipientAddress string
	SenderAddress    string
	SenderPubKey     []byte
	PowChallengeID   string
	SolvedHeader     []byte
	SolvedHash       []byte
	Signature        []byte
}

// GetCounterpartyEngagementKey admits a sender through the three-layer
// pipeline and returns the recipient's receive key for this sender,
// minting it on first contact. The consumed proof stays bound to
// (sender, recipient, senderPubKey) for the follow-up send.
func (s *Service) GetCounterpartyEngagementKey(ctx context.Context, params KeyRequestParams) ([]byte, error) {
	// Layer 1: proof of work, consumed and bound atomically. Only a
	// messaging-purpose proof pays for admission, so the recipient's
	// difficulty escalation cannot be sidestepped with a cheaper
	// challenge.
	binding := storage.PowBinding{
		Sender:       params.SenderAddress,
		Recipient:    params.RecipientAddress,
		SenderPubKey: params.SenderPubKey,
	}
	if _, err := s.pow.Consume(ctx, params.PowChallengeID, storage.PowPurposeMessaging, params.SolvedHeader, params.SolvedHash, binding); err != nil {
		metrics.AdmissionFailures.WithLabelValues("pow").Inc()
		return nil, err
	}

	// Layer 2: the signature covers the exact 32 bytes of the solved
	// hash, nothing else.
	if !crypto.Verify(params.Signature, params.SolvedHash, params.SenderPubKey) {
		metrics.AdmissionFailures.WithLabelValues("signature").Inc()
		return nil, ErrSignatureInvalid
	}

	// Layer 3: the sender key must be a live send key on the sender's
	// home server.
	if err := s.verifySenderIdentity(ctx, params.SenderAddress, params.SenderPubKey); err != nil {
		metrics.AdmissionFailures.WithLabelValues("identity").Inc()
		return nil, err
	}

	recipient, err := s.resolveLocalVault(ctx, params.RecipientAddress)
	if err != nil {
		return nil, err
	}

	key, err := s.engagement.GetOrCreateReceiveKey(ctx, recipient.ID, params.SenderAddress, params.SenderPubKey)
	if err != nil {
		return nil, err
	}

	s.log.Info("counterparty admitted",
		logger.String("sender", params.SenderAddress),
		logger.String("recipient", params.RecipientAddress))
	return key.EngagementPubKey, nil
}

// SendParams are the inputs of SendMessage.
type SendParams struct {
	RecipientAddress          string
	SenderAddress             string
	EncryptedContent          []byte
	SenderEngagementPubKey    []byte
	RecipientEngagementPubKey []byte
	PowChallengeID            string
}

// SendResult is the acknowledgement returned to the sender.
type SendResult struct {
	MessageID      string
	OrderInChannel int64
	CreatedAt      time.Time
}

// SendMessage stores an inbound message under the channel binding of a
// previously consumed proof. Resending under the same proof returns
// the original row.
func (s *Service) SendMessage(ctx context.Context, params SendParams) (*SendResult, error) {
	proof, err := s.pow.Lookup(ctx, params.PowChallengeID)
	if err != nil {
		return nil, err
	}
	if !proof.Consumed() {
		metrics.AdmissionFailures.WithLabelValues("binding").Inc()
		return nil, ErrPowNotConsumed
	}
	if proof.Purpose != storage.PowPurposeMessaging {
		metrics.AdmissionFailures.WithLabelValues("binding").Inc()
		return nil, pow.ErrPurposeMismatch
	}

	// The binding must match byte for byte; each mismatch has its own
	// refinement so clients can tell what they got wrong.
	if proof.Binding.Sender != params.SenderAddress {
		metrics.AdmissionFailures.WithLabelValues("binding").Inc()
		return nil, ErrSenderMismatch
	}
	if proof.Binding.Recipient != params.RecipientAddress {
		metrics.AdmissionFailures.WithLabelValues("binding").Inc()
		return nil, ErrRecipientMismatch
	}
	if !bytes.Equal(proof.Binding.SenderPubKey, params.SenderEngagementPubKey) {
		metrics.AdmissionFailures.WithLabelValues("binding").Inc()
		return nil, ErrSenderPubKeyMismatch
	}

	recipient, err := s.resolveLocalVault(ctx, params.RecipientAddress)
	if err != nil {
		return nil, err
	}

	// The declared recipient key must be the receive key minted for
	// exactly this (recipient, sender, senderPubKey) triple.
	receiveKey, err := s.engagement.GetOrCreateReceiveKey(ctx, recipient.ID, params.SenderAddress, proof.Binding.SenderPubKey)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(receiveKey.EngagementPubKey, params.RecipientEngagementPubKey) {
		return nil, ErrReceiveKeyMismatch
	}

	now := time.Now().UTC()
	channel, _, err := s.channels.GetOrCreate(ctx, &storage.Channel{
		ID:                  ids.New(),
		VaultID:             recipient.ID,
		CounterpartyAddress: params.SenderAddress,
		Status:              storage.ChannelStatusPending,
		SecretID:            ids.New(),
		LastMessageAt:       now,
		CreatedAt:           now,
	})
	if err != nil {
		return nil, err
	}

	if existing, err := s.inbox.GetByPowChallenge(ctx, channel.ID, params.PowChallengeID); err == nil {
		return &SendResult{
			MessageID:      existing.ID,
			OrderInChannel: existing.OrderInChannel,
			CreatedAt:      existing.CreatedAt,
		}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	msg, err := s.inbox.Append(ctx, &storage.InboxMessage{
		ID:                        ids.New(),
		VaultID:                   recipient.ID,
		SenderAddress:             params.SenderAddress,
		RecipientAddress:          params.RecipientAddress,
		ChannelID:                 channel.ID,
		EncryptedContent:          params.EncryptedContent,
		SenderEngagementPubKey:    proof.Binding.SenderPubKey,
		RecipientEngagementPubKey: params.RecipientEngagementPubKey,
		PowChallengeID:            params.PowChallengeID,
		CreatedAt:                 now,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost an idempotency race; return the winner.
			existing, getErr := s.inbox.GetByPowChallenge(ctx, channel.ID, params.PowChallengeID)
			if getErr != nil {
				return nil, getErr
			}
			return &SendResult{
				MessageID:      existing.ID,
				OrderInChannel: existing.OrderInChannel,
				CreatedAt:      existing.CreatedAt,
			}, nil
		}
		return nil, err
	}

	metrics.MessagesAdmitted.Inc()
	s.log.Info("message admitted",
		logger.String("sender", params.SenderAddress),
		logger.String("recipient", params.RecipientAddress),
		logger.Int64("order", msg.OrderInChannel))
	return &SendResult{
		MessageID:      msg.ID,
		OrderInChannel: msg.OrderInChannel,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

// verifySenderIdentity runs layer 3 locally for hosted domains and via
// the federation port otherwise.
func (s *Service) verifySenderIdentity(ctx context.Context, senderAddress string, senderPubKey []byte) error {
	domain := domainOf(senderAddress)
	if domain == "" {
		return federation.ErrIdentityVerificationFailed
	}

	if s.isLocalDomain(domain) {
		valid, err := s.engagement.VerifyOwnership(ctx, senderAddress, senderPubKey)
		if err != nil {
			return err
		}
		if !valid {
			return federation.ErrIdentityVerificationFailed
		}
		return nil
	}
	return s.verifier.VerifyEngagementKeyOwnership(ctx, senderAddress, senderPubKey)
}

func (s *Service) resolveLocalVault(ctx context.Context, address string) (*storage.Vault, error) {
	name, domain, ok := splitAddress(address)
	if !ok {
		return nil, ErrRecipientUnknown
	}
	vault, err := s.vaults.GetByAddress(ctx, name, domain)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRecipientUnknown
		}
		return nil, err
	}
	return vault, nil
}

func (s *Service) isLocalDomain(domain string) bool {
	for _, local := range s.cfg.LocalDomains {
		if local == domain {
			return true
		}
	}
	return false
}

func splitAddress(address string) (name, domain string, ok bool) {
	i := strings.IndexByte(address, '@')
	if i <= 0 || i == len(address)-1 {
		return "", "", false
	}
	return address[:i], address[i+1:], true
}

func domainOf(address string) string {
	_, domain, ok := splitAddress(address)
	if !ok {
		return ""
	}
	return domain
}
