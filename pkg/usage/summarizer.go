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

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
)

// Input is a point-in-time inventory snapshot for one reconciliation.
type Input struct {
	Reservations []ReservationSpec
	Instances    []Instance
}

// Result is the outcome of Summarize.
type Result struct {
	// Rows holds one entry per family, sorted by family name.
	Rows []SummaryRow

	// Unreserved lists the non-spot instances no reservation could cover.
	Unreserved []Instance

	// Unused lists reservations with capacity left after matching.
	Unused []*Reservation
}

// Summarizer classifies instances and aggregates them per family.
// It holds no matching state, so a single Summarizer can be reused.
type Summarizer struct {
	Log logr.Logger
}

// NewSummarizer creates a Summarizer logging through log.
func NewSummarizer(log logr.Logger) *Summarizer {
	return &Summarizer{Log: log}
}

// familyTotals accumulates per-family unit counts by bucket.
type familyTotals map[string]float64

func (t familyTotals) add(family string, units float64) {
	t[family] += units
}

// Summarize matches in.Instances against a fresh pool built from
// in.Reservations and returns the per-family breakdown.
//
// Spot instances are counted as spot and never matched. Every other instance
// is matched once; if no reservation covers it, it is also counted as
// unreserved. It is then counted as managed-cluster or on-demand whether or
// not a match was found.
func (s *Summarizer) Summarize(in Input) (*Result, error) {
	pool := NewPool(in.Reservations)

	onDemand := familyTotals{}
	spot := familyTotals{}
	managed := familyTotals{}
	unreserved := familyTotals{}
	var unmatched []Instance

	for _, inst := range in.Instances {
		if inst.Spot {
			spot.add(inst.Family, inst.Units)
			continue
		}

		r, tier, err := pool.consume(inst)
		if err != nil {
			return nil, fmt.Errorf("matching instance %s: %w", inst.InstanceID, err)
		}
		if r == nil {
			unreserved.add(inst.Family, inst.Units)
			unmatched = append(unmatched, inst)
			s.Log.V(2).Info("no reservation for instance",
				"instance_id", inst.InstanceID,
				"instance_type", inst.Family+"."+inst.Size,
				"availability_zone", inst.AvailabilityZone,
				"units", inst.Units)
		} else {
			s.Log.V(2).Info("matched instance to reservation",
				"instance_id", inst.InstanceID,
				"instance_type", inst.Family+"."+inst.Size,
				"reservation_id", r.ID(),
				"tier", tier,
				"remaining_units", r.RemainingUnits())
		}

		if inst.ManagedCluster {
			managed.add(inst.Family, inst.Units)
		} else {
			onDemand.add(inst.Family, inst.Units)
		}
	}

	reserved := familyTotals{}
	for _, r := range pool.Reservations() {
		reserved.add(r.Family(), r.TotalUnits())
	}

	unused := pool.UnusedReservedCapacity()
	surplus := familyTotals{}
	for _, r := range unused {
		surplus.add(r.Family(), r.RemainingUnits())
	}

	// Unreserved and surplus families are always a subset of these four.
	families := map[string]struct{}{}
	for _, bucket := range []familyTotals{onDemand, spot, managed, reserved} {
		for family := range bucket {
			families[family] = struct{}{}
		}
	}

	names := make([]string, 0, len(families))
	for family := range families {
		names = append(names, family)
	}
	sort.Strings(names)

	rows := make([]SummaryRow, 0, len(names))
	for _, family := range names {
		rows = append(rows, SummaryRow{
			Family:         family,
			OnDemand:       onDemand[family],
			Spot:           spot[family],
			ManagedCluster: managed[family],
			Reserved:       reserved[family],
			Unreserved:     unreserved[family],
			Surplus:        surplus[family],
		})
	}

	s.Log.V(1).Info("summarized reservation usage",
		"instances", len(in.Instances),
		"reservations", len(in.Reservations),
		"families", len(rows),
		"unreserved_instances", len(unmatched),
		"unused_reservations", len(unused))

	return &Result{Rows: rows, Unreserved: unmatched, Unused: unused}, nil
}
