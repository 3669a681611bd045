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

	"github.com/nextdoor/riusage/pkg/aws"
	"github.com/nextdoor/riusage/pkg/usage"
)

type instanceKey struct {
	accountID, family, lifecycle string
}

type reservationKey struct {
	accountID, family, offeringClass string
}

// UpdateInventoryMetrics replaces the inventory counts of one region.
//
// Like UpdateUsageMetrics, the region's series are deleted before the new
// counts are set so terminated instances and expired reservations drop
// out. Only running instances and active reservations are counted.
func (m *Metrics) UpdateInventoryMetrics(region string, instances []aws.Instance, ris []aws.ReservedInstance) {
	regionLabel := prometheus.Labels{LabelRegion: region}
	m.EC2InstanceCount.DeletePartialMatch(regionLabel)
	m.ReservedInstanceCount.DeletePartialMatch(regionLabel)

	instanceCounts := make(map[instanceKey]int)
	for _, inst := range instances {
		if inst.State != "" && inst.State != "running" {
			continue
		}
		lifecycle := inst.Lifecycle
		if lifecycle == "" {
			lifecycle = aws.LifecycleOnDemand
		}
		family, _, _ := usage.ParseInstanceType(inst.InstanceType)
		instanceCounts[instanceKey{inst.AccountID, family, lifecycle}]++
	}
	for key, count := range instanceCounts {
		m.EC2InstanceCount.With(prometheus.Labels{
			LabelAccountID:      key.accountID,
			LabelRegion:         region,
			LabelInstanceFamily: key.family,
			LabelLifecycle:      key.lifecycle,
		}).Set(float64(count))
	}

	reservationCounts := make(map[reservationKey]int32)
	for _, ri := range ris {
		if ri.State != "" && ri.State != "active" {
			continue
		}
		family, _, _ := usage.ParseInstanceType(ri.InstanceType)
		reservationCounts[reservationKey{ri.AccountID, family, ri.OfferingClass}] += ri.InstanceCount
	}
	for key, count := range reservationCounts {
		m.ReservedInstanceCount.With(prometheus.Labels{
			LabelAccountID:      key.accountID,
			LabelRegion:         region,
			LabelInstanceFamily: key.family,
			LabelOfferingClass:  key.offeringClass,
		}).Set(float64(count))
	}
}
