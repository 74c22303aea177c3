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

package pow

import (
	"bytes"
	"math/big"
)

// MinDifficulty is the server-wide floor. Issuance clamps every
// requested or derived difficulty to at least this value.
const MinDifficulty = 256

var two256 = new(big.Int).Lsh(big.NewInt(1), 256)

// TargetFromDifficulty computes floor(2^256 / difficulty) as a 32-byte
// big-endian upper bound. Difficulty 1 saturates to the maximum
// representable value.
func TargetFromDifficulty(difficulty int64) ([]byte, error) {
	if difficulty < 1 {
		return nil, ErrBadDifficulty
	}
	target := new(big.Int).Div(two256, big.NewInt(difficulty))
	out := make([]byte, 32)
	if target.BitLen() > 256 {
		for i := range out {
			out[i] = 0xff
		}
		return out, nil
	}
	target.FillBytes(out)
	return out, nil
}

// HashMeetsTarget reports whether hash <= target as 32-byte big-endian
// unsigned integers.
func HashMeetsTarget(hash, target []byte) bool {
	if len(hash) != 32 || len(target) != 32 {
		return false
	}
	return bytes.Compare(hash, target) <= 0
}
