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

// Package testutil holds helpers shared by the package test suites.
package testutil

import (
	"encoding/binary"
	"testing"

	"github.com/keypears/keypears-core/crypto"
	"github.com/keypears/keypears-core/pow"
	"github.com/keypears/keypears-core/pkg/storage"
)

// SolvePow brute-forces the counter portion of a challenge header
// until the hash meets the target. At the minimum difficulty this
// takes a few hundred hashes.
func SolvePow(tb testing.TB, challenge *storage.PowChallenge) (header, hash []byte) {
	tb.Helper()

	algorithm, err := pow.Lookup(challenge.Algorithm)
	if err != nil {
		tb.Fatalf("unknown algorithm %q", challenge.Algorithm)
	}

	header = append([]byte{}, challenge.Header...)
	_, end := algorithm.NonceRegion()
	counterAt := end - 4

	for counter := uint32(0); counter < 1<<24; counter++ {
		binary.LittleEndian.PutUint32(header[counterAt:counterAt+4], counter)
		hash = algorithm.Hash(header)
		if pow.HashMeetsTarget(hash, challenge.Target) {
			return header, hash
		}
	}
	tb.Fatalf("no solution found for difficulty %d", challenge.Difficulty)
	return nil, nil
}

// Keypair generates a secp256k1 keypair for tests.
func Keypair(tb testing.TB) (priv, pub []byte) {
	tb.Helper()

	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		tb.Fatalf("generate private key: %v", err)
	}
	pub, err = crypto.PublicKeyCreate(priv)
	if err != nil {
		tb.Fatalf("derive public key: %v", err)
	}
	return priv, pub
}
