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

package vault

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginLimiter combines a global request-rate cap with per-vault
// exponential backoff after failed attempts. The backoff doubles from
// one second per consecutive failure, capped at ten minutes, and
// clears on success.
type loginLimiter struct {
	mu      sync.Mutex
	global  *rate.Limiter
	backoff map[string]*loginBackoff
}

type loginBackoff struct {
	failures  int
	openUntil time.Time
}

const (
	backoffBase = time.Second
	backoffMax  = 10 * time.Minute
)

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{
		global:  rate.NewLimiter(rate.Limit(50), 100),
		backoff: make(map[string]*loginBackoff),
	}
}

// allow reports whether a login attempt for vaultID may proceed.
func (l *loginLimiter) allow(vaultID string) bool {
	if !l.global.Allow() {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.backoff[vaultID]
	if !exists {
		return true
	}
	return !time.Now().Before(b.openUntil)
}

// failure records a failed attempt and widens the window.
func (l *loginLimiter) failure(vaultID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.backoff[vaultID]
	if b == nil {
		b = &loginBackoff{}
		l.backoff[vaultID] = b
	}
	b.failures++

	delay := backoffBase << (b.failures - 1)
	if delay > backoffMax || delay <= 0 {
		delay = backoffMax
	}
	b.openUntil = time.Now().Add(delay)
}

// success clears the vault's backoff state.
func (l *loginLimiter) success(vaultID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.backoff, vaultID)
}
