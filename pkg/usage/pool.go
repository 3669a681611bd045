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

package usage

// matchRule is one preference tier of the pool search.
type matchRule struct {
	name    string
	matches func(r *Reservation, inst Instance) bool
}

// matchRules lists the tiers from most to least specific. A reservation that
// fits an earlier tier is always preferred, even if a later tier would have
// found an earlier record in input order.
//
// Convertible tiers do not compare zones. Standard zonal reservations only
// ever match in the first tier.
var matchRules = []matchRule{
	{
		name: "standard-zonal",
		matches: func(r *Reservation, inst Instance) bool {
			return r.OfferingClass() == Standard &&
				r.AvailabilityZone() == inst.AvailabilityZone &&
				r.Family() == inst.Family &&
				r.Size() == inst.Size
		},
	},
	{
		name: "standard-regional",
		matches: func(r *Reservation, inst Instance) bool {
			return r.OfferingClass() == Standard &&
				r.IsRegional() &&
				r.Family() == inst.Family &&
				r.Size() == inst.Size
		},
	},
	{
		name: "standard-regional-family",
		matches: func(r *Reservation, inst Instance) bool {
			return r.OfferingClass() == Standard &&
				r.IsRegional() &&
				r.Family() == inst.Family
		},
	},
	{
		name: "convertible",
		matches: func(r *Reservation, inst Instance) bool {
			return r.OfferingClass() == Convertible &&
				r.Family() == inst.Family &&
				r.Size() == inst.Size
		},
	},
	{
		name: "convertible-family",
		matches: func(r *Reservation, inst Instance) bool {
			return r.OfferingClass() == Convertible &&
				r.Family() == inst.Family
		},
	},
}

// Pool tracks the remaining capacity of a set of reservations while
// instances are matched against them. A Pool is single-use and not safe for
// concurrent use.
type Pool struct {
	records []*Reservation
}

// NewPool builds a pool with one record per spec, in the given order.
// The specs are copied; the caller's slice is never modified.
func NewPool(specs []ReservationSpec) *Pool {
	records := make([]*Reservation, 0, len(specs))
	for _, spec := range specs {
		records = append(records, newReservation(spec))
	}
	return &Pool{records: records}
}

// ConsumeReservedCapacity finds the reservation that should cover inst,
// deducts the instance's units from it and returns it.
//
// Tiers are tried in matchRules order and, within a tier, records in input
// order; the first record with enough remaining capacity wins. When nothing
// fits the result is nil and the pool is unchanged.
func (p *Pool) ConsumeReservedCapacity(inst Instance) (*Reservation, error) {
	r, _, err := p.consume(inst)
	return r, err
}

func (p *Pool) consume(inst Instance) (*Reservation, string, error) {
	r, tier := p.find(inst)
	if r == nil {
		return nil, "", nil
	}
	if err := r.consume(inst.Units); err != nil {
		return nil, "", err
	}
	return r, tier, nil
}

// find returns the reservation that would be consumed for inst along with
// the name of the tier that selected it.
func (p *Pool) find(inst Instance) (*Reservation, string) {
	for _, rule := range matchRules {
		for _, r := range p.records {
			if r.remaining >= inst.Units && rule.matches(r, inst) {
				return r, rule.name
			}
		}
	}
	return nil, ""
}

// UnusedReservedCapacity returns every reservation with capacity left, in
// input order.
func (p *Pool) UnusedReservedCapacity() []*Reservation {
	var unused []*Reservation
	for _, r := range p.records {
		if r.remaining > 0 {
			unused = append(unused, r)
		}
	}
	return unused
}

// Reservations returns all records in input order.
func (p *Pool) Reservations() []*Reservation {
	out := make([]*Reservation, len(p.records))
	copy(out, p.records)
	return out
}
