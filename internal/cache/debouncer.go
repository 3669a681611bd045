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
	"sort"
	"sync"
	"time"
)

// Debouncer collects keys and hands them to a callback once no new key has
// arrived for the configured quiet period. A scale-up that adds fifty nodes
// in one zone produces a single flush naming that zone's region once.
//
// With a positive maxWait, keys never wait longer than maxWait after the
// first of them arrived, even if new keys keep coming.
//
// Safe for concurrent use.
type Debouncer struct {
	mu      sync.Mutex
	quiet   time.Duration
	maxWait time.Duration
	flush   func(keys []string)
	pending map[string]struct{}
	timer   *time.Timer

	// firstAdd is when the oldest pending key arrived.
	firstAdd time.Time
}

// NewDebouncer creates a debouncer. flush runs on its own goroutine with
// the sorted, de-duplicated keys seen since the previous flush.
func NewDebouncer(quiet, maxWait time.Duration, flush func(keys []string)) *Debouncer {
	return &Debouncer{
		quiet:   quiet,
		maxWait: maxWait,
		flush:   flush,
		pending: make(map[string]struct{}),
	}
}

// Add records key and restarts the quiet period, capped by maxWait.
func (d *Debouncer) Add(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if len(d.pending) == 0 {
		d.firstAdd = now
	}
	d.pending[key] = struct{}{}

	delay := d.quiet
	if d.maxWait > 0 {
		if remaining := d.firstAdd.Add(d.maxWait).Sub(now); remaining < delay {
			delay = max(remaining, 0)
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.fire)
}

// Pending returns how many keys are waiting for the next flush.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels a scheduled flush and discards pending keys.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.pending))
	for k := range d.pending {
		keys = append(keys, k)
	}
	d.pending = make(map[string]struct{})
	d.timer = nil
	d.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	d.flush(keys)
}
