/*
Copyright 2025 Lumina Contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nextdoor/riusage/pkg/usage"
)

// UpdateUsageMetrics replaces the usage series of one region with result.
//
// Series for the region are deleted first, so a family that disappeared
// from the region (all instances terminated, reservations expired) stops
// being reported. Other regions are untouched.
func (m *Metrics) UpdateUsageMetrics(region string, result *usage.Result) {
	regionLabel := prometheus.Labels{LabelRegion: region}
	m.ReservationUsageUnits.DeletePartialMatch(regionLabel)
	m.ReservationRemainingUnits.DeletePartialMatch(regionLabel)

	for _, row := range result.Rows {
		buckets := map[string]float64{
			BucketOnDemand:       row.OnDemand,
			BucketSpot:           row.Spot,
			BucketManagedCluster: row.ManagedCluster,
			BucketReserved:       row.Reserved,
			BucketUnreserved:     row.Unreserved,
			BucketSurplus:        row.Surplus,
		}
		for bucket, units := range buckets {
			m.ReservationUsageUnits.With(prometheus.Labels{
				LabelRegion:         region,
				LabelInstanceFamily: row.Family,
				LabelBucket:         bucket,
			}).Set(units)
		}
	}

	for _, r := range result.Unused {
		m.ReservationRemainingUnits.With(prometheus.Labels{
			LabelRegion:         region,
			LabelReservationID:  r.ID(),
			LabelInstanceFamily: r.Family(),
			LabelOfferingClass:  string(r.OfferingClass()),
		}).Set(r.RemainingUnits())
	}
}
