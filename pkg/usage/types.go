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

// Package usage matches running EC2 instances against Reserved Instance
// capacity and aggregates the result per instance family.
//
// All capacity is expressed in normalized units (see NormalizeSize) so that
// instances of different sizes within a family can share a reservation.
// A Pool is built from a reservation snapshot, instances draw from it one at
// a time, and the Summarizer rolls the outcome up into one SummaryRow per
// family. Nothing here talks to AWS; see adapter.go for the conversion from
// pkg/aws inventory types.
package usage

// OfferingClass is the flexibility class of a reservation.
type OfferingClass string

const (
	// Standard reservations are zonal or regional and stay within a family.
	Standard OfferingClass = "standard"

	// Convertible reservations ignore zones when matching.
	Convertible OfferingClass = "convertible"
)

// RegionalZone is the availability zone marker for reservations that apply
// to every zone in the region.
const RegionalZone = "*"

// Instance is a running compute instance as seen by the matcher.
type Instance struct {
	// InstanceID is only used for logging.
	InstanceID string

	Family           string
	Size             string
	AvailabilityZone string

	// Units is the normalized size of the instance.
	Units float64

	// Spot instances never consume reserved capacity.
	Spot bool

	// ManagedCluster is set for instances owned by a managed cluster service
	// such as EMR.
	ManagedCluster bool
}

// ReservationSpec describes a reservation purchase. Units is the total
// capacity (instance count times normalized size).
type ReservationSpec struct {
	ID               string
	Family           string
	Size             string
	OfferingClass    OfferingClass
	AvailabilityZone string
	Count            int
	Units            float64
}

// SummaryRow is the per-family outcome of a reconciliation.
type SummaryRow struct {
	Family         string  `json:"family"`
	OnDemand       float64 `json:"onDemand"`
	Spot           float64 `json:"spot"`
	ManagedCluster float64 `json:"managedCluster"`
	Reserved       float64 `json:"reserved"`
	Unreserved     float64 `json:"unreserved"`
	Surplus        float64 `json:"surplus"`
}
