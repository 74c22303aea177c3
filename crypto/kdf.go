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

import "crypto/sha256"

// KDFRounds is the fixed iteration count of the login-key KDF. Clients
// derive the same value, so it must never change for existing vaults.
const KDFRounds = 100_000

// DeriveHashedLoginKey stretches a client login key into the value
// stored server side. Round zero folds the vault id in as salt; every
// later round rekeys on the full previous digest:
//
//	state_1 = SHA-256(loginKey || vaultID)
//	state_n = SHA-256(state_{n-1})
//
// The result is state_100000.
func DeriveHashedLoginKey(loginKey []byte, vaultID string) []byte {
	state := sha256.Sum256(append(append([]byte{}, loginKey...), []byte(vaultID)...))
	for i := 1; i < KDFRounds; i++ {
		state = sha256.Sum256(state[:])
	}
	return state[:]
}
