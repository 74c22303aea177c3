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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PowChallengesIssued tracks issued challenges
	PowChallengesIssued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "challenges_issued_total",
			Help:      "Total number of PoW challenges issued",
		},
		[]string{"purpose", "algorithm"},
	)

	// PowChallengesConsumed tracks successfully consumed challenges
	PowChallengesConsumed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "challenges_consumed_total",
			Help:      "Total number of PoW challenges consumed",
		},
		[]string{"purpose"},
	)

	// PowConsumeFailures tracks rejected consumption attempts
	PowConsumeFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pow",
			Name:      "consume_failures_total",
			Help:      "Total number of rejected PoW consumption attempts",
		},
		[]string{"reason"}, // expired, consumed, bad_solution, header_mismatch, algorithm_mismatch, purpose_mismatch, rebound, other
	)
)
