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

// Package pow implements the proof-of-work admission gate: the pow5
// header algorithms, difficulty targets, and the challenge controller.
package pow

import (
	"github.com/keypears/keypears-core/crypto"
)

// Algorithm names.
const (
	AlgorithmPow564B  = "pow5-64b"
	AlgorithmPow5217A = "pow5-217a"
)

// Algorithm describes one pow5 header variant. The nonce region is the
// only part of an issued header a solver may rewrite; everything
// outside it is server data and must come back unchanged.
type Algorithm interface {
	// Name returns the wire identifier of the algorithm.
	Name() string

	// HeaderLen returns the header length in bytes.
	HeaderLen() int

	// NonceRegion returns the [start, end) byte range the solver owns.
	NonceRegion() (start, end int)

	// Hash derives the 32-byte proof hash of a header.
	Hash(header []byte) []byte

	// VerifyHeader checks that solved matches issued everywhere
	// outside the nonce region.
	VerifyHeader(issued, solved []byte) bool
}

// pow5 is the shared implementation; the two variants differ only in
// geometry. Both hash the header with double Blake3.
type pow5 struct {
	name       string
	headerLen  int
	nonceStart int
	nonceEnd   int
}

func (a *pow5) Name() string { return a.name }

func (a *pow5) HeaderLen() int { return a.headerLen }

func (a *pow5) NonceRegion() (int, int) { return a.nonceStart, a.nonceEnd }

func (a *pow5) Hash(header []byte) []byte { return crypto.DoubleBlake3(header) }

func (a *pow5) VerifyHeader(issued, solved []byte) bool {
	if len(issued) != a.headerLen || len(solved) != a.headerLen {
		return false
	}
	for i := 0; i < a.headerLen; i++ {
		if i >= a.nonceStart && i < a.nonceEnd {
			continue
		}
		if issued[i] != solved[i] {
			return false
		}
	}
	return true
}

var algorithms = map[string]Algorithm{
	// 64-byte header: bytes 0-27 random nonce, 28-31 solver counter.
	AlgorithmPow564B: &pow5{name: AlgorithmPow564B, headerLen: 64, nonceStart: 0, nonceEnd: 32},
	// 217-byte header: bytes 117-144 random nonce, 145-148 counter.
	AlgorithmPow5217A: &pow5{name: AlgorithmPow5217A, headerLen: 217, nonceStart: 117, nonceEnd: 149},
}

// Lookup returns the algorithm for a wire name.
func Lookup(name string) (Algorithm, error) {
	a, ok := algorithms[name]
	if !ok {
		return nil, ErrAlgorithmMismatch
	}
	return a, nil
}
