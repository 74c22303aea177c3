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

// Package crypto provides the pure cryptographic primitives used by the
// server core: secp256k1 signing and key arithmetic, hashing, the
// authenticated symmetric envelope, and the login-key KDF. Functions in
// this package perform no I/O.
package crypto

import "errors"

// Sizes of the fixed-width byte encodings accepted by this package.
const (
	PrivateKeySize   = 32
	PublicKeySize    = 33 // compressed secp256k1 point
	SignatureSize    = 64 // r || s, each 32 bytes big-endian
	DigestSize       = 32
	SymmetricKeySize = 32
	IVSize           = 16
	MACSize          = 32
)

var (
	// ErrInvalidKey is returned for malformed scalar or point encodings.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidSignature is returned when a signature is malformed or
	// does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrDecryptionFailed is returned when an authenticated envelope
	// fails its integrity check or cannot be unpadded.
	ErrDecryptionFailed = errors.New("decryption failed")
)
