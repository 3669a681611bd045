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

package cache

import (
	"time"

	"github.com/nextdoor/riusage/pkg/aws"
)

// Entry kinds, used as the second part of cache keys.
const (
	KindInstances    = "instances"
	KindReservations = "reservations"
)

type entry[T any] struct {
	items     []T
	fetchedAt time.Time
}

// InventoryCache holds the last successful inventory load per region.
// Instances and Reserved Instances expire independently: the running
// fleet churns by the minute while reservations change a few times a year.
//
// A TTL of zero or less disables caching for that kind.
type InventoryCache struct {
	BaseCache

	instancesTTL    time.Duration
	reservationsTTL time.Duration

	instances    map[string]entry[aws.Instance]
	reservations map[string]entry[aws.ReservedInstance]

	// Invalidation generations. A load that started before an invalidation
	// must not store what it read.
	generation        uint64
	regionGenerations map[string]uint64
	allGeneration     uint64
}

// NewInventoryCache creates an empty cache with the given TTLs.
func NewInventoryCache(instancesTTL, reservationsTTL time.Duration) *InventoryCache {
	return &InventoryCache{
		BaseCache:         NewBaseCache(),
		instancesTTL:      instancesTTL,
		reservationsTTL:   reservationsTTL,
		instances:         make(map[string]entry[aws.Instance]),
		reservations:      make(map[string]entry[aws.ReservedInstance]),
		regionGenerations: make(map[string]uint64),
	}
}

// Instances returns a copy of the cached instances for region and whether
// they are still fresh.
func (c *InventoryCache) Instances(region string) ([]aws.Instance, bool) {
	c.RLock()
	defer c.RUnlock()
	return lookup(c.instances, BuildKey(":", region, KindInstances), c.instancesTTL, c.Now())
}

// InstancesGeneration returns a token for region that changes whenever its
// instances are invalidated. Read it before fetching and pass it to
// SetInstancesIfGeneration.
func (c *InventoryCache) InstancesGeneration(region string) uint64 {
	c.RLock()
	defer c.RUnlock()
	return c.instancesGeneration(BuildKey(":", region, KindInstances))
}

// SetInstancesIfGeneration stores instances only when no invalidation of
// region happened since gen was read. It reports whether they were stored.
func (c *InventoryCache) SetInstancesIfGeneration(region string, gen uint64, instances []aws.Instance) bool {
	key := BuildKey(":", region, KindInstances)

	c.Lock()
	defer c.Unlock()
	if c.instancesGeneration(key) != gen {
		return false
	}
	store(c.instances, key, instances, c.Now())
	c.MarkUpdated()
	return true
}

// Caller must hold a lock.
func (c *InventoryCache) instancesGeneration(key string) uint64 {
	return max(c.regionGenerations[key], c.allGeneration)
}

// ReservedInstances returns a copy of the cached Reserved Instances for
// region and whether they are still fresh.
func (c *InventoryCache) ReservedInstances(region string) ([]aws.ReservedInstance, bool) {
	c.RLock()
	defer c.RUnlock()
	return lookup(c.reservations, BuildKey(":", region, KindReservations), c.reservationsTTL, c.Now())
}

// SetReservedInstances replaces the cached Reserved Instances for region.
func (c *InventoryCache) SetReservedInstances(region string, ris []aws.ReservedInstance) {
	c.Lock()
	defer c.Unlock()
	store(c.reservations, BuildKey(":", region, KindReservations), ris, c.Now())
	c.MarkUpdated()
}

// InvalidateInstances drops cached instances for the given regions, or for
// every region when none are given. Reservations are kept. Loads already
// in flight for those regions won't be stored.
func (c *InventoryCache) InvalidateInstances(regions ...string) {
	c.Lock()
	defer c.Unlock()

	c.generation++
	if len(regions) == 0 {
		c.instances = make(map[string]entry[aws.Instance])
		c.allGeneration = c.generation
	}
	for _, region := range regions {
		key := BuildKey(":", region, KindInstances)
		delete(c.instances, key)
		c.regionGenerations[key] = c.generation
	}
	c.MarkUpdated()
}

// FetchedAt returns when kind was last stored for region, or the zero time.
func (c *InventoryCache) FetchedAt(kind, region string) time.Time {
	c.RLock()
	defer c.RUnlock()

	switch kind {
	case KindInstances:
		return c.instances[BuildKey(":", region, kind)].fetchedAt
	case KindReservations:
		return c.reservations[BuildKey(":", region, kind)].fetchedAt
	}
	return time.Time{}
}

func lookup[T any](entries map[string]entry[T], key string, ttl time.Duration, now time.Time) ([]T, bool) {
	if ttl <= 0 {
		return nil, false
	}
	e, ok := entries[key]
	if !ok || now.Sub(e.fetchedAt) >= ttl {
		return nil, false
	}
	return append([]T(nil), e.items...), true
}

func store[T any](entries map[string]entry[T], key string, items []T, now time.Time) {
	entries[key] = entry[T]{
		items:     append([]T(nil), items...),
		fetchedAt: now,
	}
}
