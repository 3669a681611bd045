// Copyright 2025 Lumina Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides thread-safe in-memory caches for EC2 inventory.
//
// This file implements BaseCache, which provides:
// - Thread-safety with RWMutex
// - Timestamp tracking against an injectable clock
// - Key building
//
// Caches embed BaseCache and keep their own storage and query methods.
package cache

import (
	"strings"
	"sync"
	"time"
)

// BaseCache provides common cache infrastructure. It does NOT store data;
// that's handled by the embedding struct.
//
// Usage:
//
//	type MyCache struct {
//	    BaseCache
//	    data map[string]MyData
//	}
//
//	func (c *MyCache) Update(data map[string]MyData) {
//	    c.Lock()
//	    c.data = data
//	    c.MarkUpdated()
//	    c.Unlock()
//	}
type BaseCache struct {
	// mu protects the embedding struct's data fields
	mu sync.RWMutex

	lastUpdate time.Time
	now        func() time.Time
}

// NewBaseCache creates a new base cache reading time from time.Now.
func NewBaseCache() BaseCache {
	return BaseCache{now: time.Now}
}

// Lock acquires the write lock.
func (b *BaseCache) Lock() {
	b.mu.Lock()
}

// Unlock releases the write lock.
func (b *BaseCache) Unlock() {
	b.mu.Unlock()
}

// RLock acquires the read lock.
func (b *BaseCache) RLock() {
	b.mu.RLock()
}

// RUnlock releases the read lock.
func (b *BaseCache) RUnlock() {
	b.mu.RUnlock()
}

// SetClock replaces the time source. Tests use it to step through TTLs.
func (b *BaseCache) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Now returns the current time from the cache's clock.
// Caller must hold a lock.
func (b *BaseCache) Now() time.Time {
	if b.now == nil {
		return time.Now()
	}
	return b.now()
}

// MarkUpdated sets the last update timestamp.
// Caller must hold the write lock.
func (b *BaseCache) MarkUpdated() {
	b.lastUpdate = b.Now()
}

// GetLastUpdate returns when the cache was last modified, or the zero time.
func (b *BaseCache) GetLastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// IsStale returns true if the cache hasn't been updated within maxAge,
// including when it has never been updated.
func (b *BaseCache) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.lastUpdate.IsZero() {
		return true
	}
	return b.Now().Sub(b.lastUpdate) > maxAge
}

// BuildKey joins the non-empty, trimmed parts with separator. Case is kept
// so a key always names exactly what was queried.
//
//	BuildKey(":", "us-west-2", "instances") // "us-west-2:instances"
func BuildKey(separator string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return strings.Join(kept, separator)
}
