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

package api

import (
	"errors"
	"net/http"

	"github.com/keypears/keypears-core/core/admission"
	"github.com/keypears/keypears-core/core/channel"
	"github.com/keypears/keypears-core/core/engagement"
	"github.com/keypears/keypears-core/core/secretlog"
	"github.com/keypears/keypears-core/core/vault"
	"github.com/keypears/keypears-core/crypto"
	"github.com/keypears/keypears-core/federation"
	"github.com/keypears/keypears-core/pkg/storage"
	"github.com/keypears/keypears-core/pow"
)

// Error codes of the wire protocol.
const (
	CodeValidationFailed           = "ValidationFailed"
	CodeAuthRequired               = "AuthRequired"
	CodeAuthInvalid                = "AuthInvalid"
	CodePowInvalid                 = "PowInvalid"
	CodeSignatureInvalid           = "SignatureInvalid"
	CodeIdentityVerificationFailed = "IdentityVerificationFailed"
	CodeChannelBindingMismatch     = "ChannelBindingMismatch"
	CodeConflict                   = "Conflict"
	CodeNotFound                   = "NotFound"
	CodeRateLimited                = "RateLimited"
	CodeInternal                   = "Internal"
)

// Error is the structured error envelope returned by every endpoint.
type Error struct {
	Code       string `json:"code"`
	Refinement string `json:"refinement,omitempty"`
	Message    string `json:"message"`

	status int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func newError(status int, code, message string) *Error {
	return &Error{Code: code, Message: message, status: status}
}

func validationError(message string) *Error {
	return newError(http.StatusBadRequest, CodeValidationFailed, message)
}

// mapError turns service-layer sentinels into wire errors. Anything
// unmapped becomes an opaque Internal error; details stay in the logs.
func mapError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	// PoW taxonomy.
	case errors.Is(err, pow.ErrNotFound):
		return newError(http.StatusNotFound, CodeNotFound, "pow challenge not found")
	case errors.Is(err, pow.ErrExpired):
		return powInvalid("Expired")
	case errors.Is(err, pow.ErrConsumed):
		return powInvalid("Consumed")
	case errors.Is(err, pow.ErrBadSolution):
		return powInvalid("BadSolution")
	case errors.Is(err, pow.ErrHeaderMismatch):
		return powInvalid("HeaderMismatch")
	case errors.Is(err, pow.ErrAlgorithmMismatch):
		return powInvalid("AlgorithmMismatch")
	case errors.Is(err, pow.ErrPurposeMismatch):
		return powInvalid("PurposeMismatch")
	case errors.Is(err, pow.ErrReusedWithDifferentBinding):
		return powInvalid("ReusedWithDifferentBinding")
	case errors.Is(err, pow.ErrBadDifficulty):
		return validationError("invalid difficulty")

	// Admission pipeline.
	case errors.Is(err, admission.ErrSignatureInvalid):
		return newError(http.StatusUnauthorized, CodeSignatureInvalid, "signature does not verify")
	case errors.Is(err, federation.ErrIdentityVerificationFailed):
		return newError(http.StatusUnauthorized, CodeIdentityVerificationFailed, "sender identity could not be verified")
	case errors.Is(err, admission.ErrPowNotConsumed):
		return powInvalid("Consumed")
	case errors.Is(err, admission.ErrSenderMismatch):
		return bindingMismatch("SenderAddress", "sender address does not match")
	case errors.Is(err, admission.ErrRecipientMismatch):
		return bindingMismatch("RecipientAddress", "pow proof does not belong to recipient")
	case errors.Is(err, admission.ErrSenderPubKeyMismatch):
		return bindingMismatch("SenderPubKey", "sender public key does not match")
	case errors.Is(err, admission.ErrRecipientUnknown):
		return newError(http.StatusNotFound, CodeNotFound, "recipient unknown")
	case errors.Is(err, admission.ErrReceiveKeyMismatch):
		return validationError("recipient engagement key mismatch")

	// Registry.
	case errors.Is(err, vault.ErrInvalidName):
		return validationError("invalid name")
	case errors.Is(err, vault.ErrDomainNotAccepted):
		return validationError("domain not accepted")
	case errors.Is(err, vault.ErrPubKeyHashMismatch):
		return validationError("vault public key hash mismatch")
	case errors.Is(err, vault.ErrNameTaken):
		return newError(http.StatusConflict, CodeConflict, "name already taken")
	case errors.Is(err, vault.ErrLoginFailed):
		return newError(http.StatusUnauthorized, CodeAuthInvalid, "login failed")
	case errors.Is(err, vault.ErrLoginThrottled):
		return newError(http.StatusTooManyRequests, CodeRateLimited, "too many attempts")
	case errors.Is(err, vault.ErrSessionInvalid):
		return newError(http.StatusUnauthorized, CodeAuthInvalid, "session invalid")

	// Channels and logs.
	case errors.Is(err, channel.ErrNotFound):
		return newError(http.StatusNotFound, CodeNotFound, "channel not found")
	case errors.Is(err, channel.ErrInvalidStatus):
		return validationError("invalid channel status")
	case errors.Is(err, channel.ErrDifficultyTooLow):
		return validationError("difficulty below server minimum")
	case errors.Is(err, engagement.ErrNotFound):
		return newError(http.StatusNotFound, CodeNotFound, "engagement key not found")
	case errors.Is(err, secretlog.ErrInvalidSecretID):
		return validationError("invalid secret id")
	case errors.Is(err, secretlog.ErrEmptyBlob):
		return validationError("empty encrypted blob")

	// Crypto and storage.
	case errors.Is(err, crypto.ErrInvalidKey):
		return validationError("invalid key encoding")
	case errors.Is(err, storage.ErrNotFound):
		return newError(http.StatusNotFound, CodeNotFound, "not found")
	case errors.Is(err, storage.ErrDuplicate):
		return newError(http.StatusConflict, CodeConflict, "already exists")
	}

	return newError(http.StatusInternalServerError, CodeInternal, "internal error")
}

func powInvalid(refinement string) *Error {
	e := newError(http.StatusBadRequest, CodePowInvalid, "pow proof rejected")
	e.Refinement = refinement
	return e
}

func bindingMismatch(refinement, message string) *Error {
	e := newError(http.StatusBadRequest, CodeChannelBindingMismatch, message)
	e.Refinement = refinement
	return e
}
