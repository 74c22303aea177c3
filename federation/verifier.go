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

package federation

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/keypears/keypears-core/internal/logger"
	"github.com/keypears/keypears-core/internal/metrics"
)

// Verifier is the port the admission pipeline depends on. Tests inject
// a deterministic fake; production uses HTTPVerifier.
type Verifier interface {
	// VerifyEngagementKeyOwnership checks that engagementPubKey is a
	// live send key for address on its home server. Any failure is
	// ErrIdentityVerificationFailed.
	VerifyEngagementKeyOwnership(ctx context.Context, address string, engagementPubKey []byte) error
}

// Cache and timeout policy. Positive answers are correctness
// sensitive, so the TTL stays short and negatives expire even sooner.
const (
	requestTimeout = 5 * time.Second
	totalTimeout   = 15 * time.Second
	maxRetries     = 2
	cacheSize      = 1024
	positiveTTL    = 60 * time.Second
	negativeTTL    = 15 * time.Second
)

type cacheEntry struct {
	valid    bool
	storedAt time.Time
}

// HTTPVerifier calls the counterparty domain's ownership endpoint.
type HTTPVerifier struct {
	resolver *Resolver
	client   *http.Client
	cache    *expirable.LRU[string, cacheEntry]
	log      logger.Logger
}

// NewHTTPVerifier creates a verifier over the given resolver.
func NewHTTPVerifier(resolver *Resolver, log logger.Logger) *HTTPVerifier {
	return &HTTPVerifier{
		resolver: resolver,
		client:   &http.Client{Timeout: requestTimeout},
		cache:    expirable.NewLRU[string, cacheEntry](cacheSize, nil, positiveTTL),
		log:      log,
	}
}

type verifyRequest struct {
	Address          string `json:"address"`
	EngagementPubKey string `json:"engagementPubKey"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// VerifyEngagementKeyOwnership implements Verifier.
func (v *HTTPVerifier) VerifyEngagementKeyOwnership(ctx context.Context, address string, engagementPubKey []byte) error {
	key := address + "|" + hex.EncodeToString(engagementPubKey)
	if entry, ok := v.cache.Get(key); ok {
		if entry.valid {
			metrics.FederationVerifications.WithLabelValues("cache_hit").Inc()
			return nil
		}
		if time.Since(entry.storedAt) < negativeTTL {
			metrics.FederationVerifications.WithLabelValues("cache_hit").Inc()
			return ErrIdentityVerificationFailed
		}
		v.cache.Remove(key)
	}

	start := time.Now()
	valid, err := v.verify(ctx, address, engagementPubKey)
	metrics.FederationVerifyDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.FederationVerifications.WithLabelValues("error").Inc()
		v.log.Warn("cross-domain verification failed",
			logger.String("address", address),
			logger.Error(err))
		return ErrIdentityVerificationFailed
	}

	v.cache.Add(key, cacheEntry{valid: valid, storedAt: time.Now()})
	if !valid {
		metrics.FederationVerifications.WithLabelValues("invalid").Inc()
		return ErrIdentityVerificationFailed
	}
	metrics.FederationVerifications.WithLabelValues("valid").Inc()
	return nil
}

// verify performs the HTTP exchange with jittered retries on transport
// errors and 5xx. 4xx and negative answers are final.
func (v *HTTPVerifier) verify(ctx context.Context, address string, engagementPubKey []byte) (bool, error) {
	domain := domainOf(address)
	if domain == "" {
		return false, ErrUnresolvableDomain
	}
	baseURL, err := v.resolver.URLFor(domain)
	if err != nil {
		return false, err
	}

	body, err := json.Marshal(verifyRequest{
		Address:          address,
		EngagementPubKey: hex.EncodeToString(engagementPubKey),
	})
	if err != nil {
		return false, err
	}

	// All attempts and backoff waits share one overall deadline.
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	var valid bool
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			baseURL+"/api/verifyEngagementKeyOwnership", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := v.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("remote returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("remote returned %d", resp.StatusCode))
		}

		var out verifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(err)
		}
		valid = out.Valid
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return false, err
	}
	return valid, nil
}

func domainOf(address string) string {
	i := strings.IndexByte(address, '@')
	if i <= 0 || i == len(address)-1 {
		return ""
	}
	return address[i+1:]
}
