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

package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	priv, err := GeneratePrivateKey()
	require.NoError(t, err)
	pub, err := PublicKeyCreate(priv)
	require.NoError(t, err)
	require.Len(t, pub, PublicKeySize)

	digest := SHA256([]byte("hello"))

	t.Run("round trip", func(t *testing.T) {
		sig, err := Sign(digest, priv)
		require.NoError(t, err)
		require.Len(t, sig, SignatureSize)
		require.True(t, Verify(sig, digest, pub))
	})

	t.Run("deterministic nonce", func(t *testing.T) {
		sig1, err := Sign(digest, priv)
		require.NoError(t, err)
		sig2, err := Sign(digest, priv)
		require.NoError(t, err)
		require.Equal(t, sig1, sig2)
	})

	t.Run("wrong message fails", func(t *testing.T) {
		sig, err := Sign(digest, priv)
		require.NoError(t, err)
		require.False(t, Verify(sig, SHA256([]byte("other")), pub))
	})

	t.Run("wrong key fails", func(t *testing.T) {
		otherPriv, err := GeneratePrivateKey()
		require.NoError(t, err)
		otherPub, err := PublicKeyCreate(otherPriv)
		require.NoError(t, err)

		sig, err := Sign(digest, priv)
		require.NoError(t, err)
		require.False(t, Verify(sig, digest, otherPub))
	})

	t.Run("tampered signature fails", func(t *testing.T) {
		sig, err := Sign(digest, priv)
		require.NoError(t, err)
		sig[10] ^= 0xff
		require.False(t, Verify(sig, digest, pub))
	})

	t.Run("bad digest length", func(t *testing.T) {
		_, err := Sign([]byte("short"), priv)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})
}

// The additive derivation law: pub(a+b) == pub(a) + b*G. Engagement
// keys depend on both sides computing the same point.
func TestAdditiveDerivation(t *testing.T) {
	vaultPriv, err := GeneratePrivateKey()
	require.NoError(t, err)
	vaultPub, err := PublicKeyCreate(vaultPriv)
	require.NoError(t, err)

	d, err := GeneratePrivateKey()
	require.NoError(t, err)

	// Server side: E = vaultPub + d*G.
	serverPoint, err := PublicKeyAddScalar(vaultPub, d)
	require.NoError(t, err)

	// Client side: e = vaultPriv + d, then E = e*G.
	engagementPriv, err := PrivateKeyAdd(vaultPriv, d)
	require.NoError(t, err)
	clientPoint, err := PublicKeyCreate(engagementPriv)
	require.NoError(t, err)

	require.Equal(t, serverPoint, clientPoint)

	t.Run("derived key signs", func(t *testing.T) {
		digest := SHA256([]byte("engagement"))
		sig, err := Sign(digest, engagementPriv)
		require.NoError(t, err)
		require.True(t, Verify(sig, digest, serverPoint))
	})

	t.Run("scalar add commutes", func(t *testing.T) {
		ab, err := PrivateKeyAdd(vaultPriv, d)
		require.NoError(t, err)
		ba, err := PrivateKeyAdd(d, vaultPriv)
		require.NoError(t, err)
		require.Equal(t, ab, ba)
	})
}

func TestSharedSecret(t *testing.T) {
	aPriv, err := GeneratePrivateKey()
	require.NoError(t, err)
	aPub, err := PublicKeyCreate(aPriv)
	require.NoError(t, err)
	bPriv, err := GeneratePrivateKey()
	require.NoError(t, err)
	bPub, err := PublicKeyCreate(bPriv)
	require.NoError(t, err)

	ab, err := SharedSecret(aPriv, bPub)
	require.NoError(t, err)
	ba, err := SharedSecret(bPriv, aPub)
	require.NoError(t, err)
	require.Equal(t, ab, ba)
	require.Len(t, ab, PublicKeySize)
}

func TestInvalidEncodings(t *testing.T) {
	t.Run("zero scalar", func(t *testing.T) {
		_, err := PublicKeyCreate(make([]byte, PrivateKeySize))
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("wrong scalar length", func(t *testing.T) {
		_, err := PublicKeyCreate(make([]byte, 31))
		require.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("garbage point", func(t *testing.T) {
		junk := make([]byte, PublicKeySize)
		_, err := rand.Read(junk)
		require.NoError(t, err)
		junk[0] = 0x05 // invalid prefix for a compressed point
		require.ErrorIs(t, ValidatePublicKey(junk), ErrInvalidKey)
	})

	t.Run("point length", func(t *testing.T) {
		require.ErrorIs(t, ValidatePublicKey(bytes.Repeat([]byte{0x02}, 16)), ErrInvalidKey)
	})
}
