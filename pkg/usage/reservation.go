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
	"errors"
	"fmt"
)

// ErrCapacityUnderflow is matched by every *CapacityUnderflowError.
var ErrCapacityUnderflow = errors.New("reserved capacity underflow")

// CapacityUnderflowError reports an attempt to take more units from a
// reservation than it has left. The pool never does this on its own; seeing
// one means the matching logic is broken.
type CapacityUnderflowError struct {
	ReservationID string
	Remaining     float64
	Requested     float64
}

func (e *CapacityUnderflowError) Error() string {
	return fmt.Sprintf("reservation %q: cannot consume %g units, only %g remaining",
		e.ReservationID, e.Requested, e.Remaining)
}

func (e *CapacityUnderflowError) Is(target error) bool {
	return target == ErrCapacityUnderflow
}

// Reservation is a pool-owned capacity record. Its remaining units start at
// the reservation total and only ever go down.
type Reservation struct {
	spec      ReservationSpec
	remaining float64
}

func newReservation(spec ReservationSpec) *Reservation {
	return &Reservation{spec: spec, remaining: spec.Units}
}

func (r *Reservation) ID() string                   { return r.spec.ID }
func (r *Reservation) Family() string               { return r.spec.Family }
func (r *Reservation) Size() string                 { return r.spec.Size }
func (r *Reservation) OfferingClass() OfferingClass { return r.spec.OfferingClass }
func (r *Reservation) AvailabilityZone() string     { return r.spec.AvailabilityZone }
func (r *Reservation) Count() int                   { return r.spec.Count }

// TotalUnits is the capacity the reservation was purchased with.
func (r *Reservation) TotalUnits() float64 { return r.spec.Units }

// RemainingUnits is the capacity not yet claimed by an instance.
func (r *Reservation) RemainingUnits() float64 { return r.remaining }

// Spec returns a copy of the descriptor the record was built from.
func (r *Reservation) Spec() ReservationSpec { return r.spec }

// IsRegional reports whether the reservation carries the regional zone marker.
func (r *Reservation) IsRegional() bool { return r.spec.AvailabilityZone == RegionalZone }

func (r *Reservation) consume(units float64) error {
	if units > r.remaining {
		return &CapacityUnderflowError{
			ReservationID: r.spec.ID,
			Remaining:     r.remaining,
			Requested:     units,
		}
	}
	r.remaining -= units
	return nil
}
