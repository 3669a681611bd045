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

	"github.com/nextdoor/riusage/pkg/aws"
)

// DefaultManagedClusterTags identifies EMR-owned instances.
var DefaultManagedClusterTags = []string{"aws:elasticmapreduce:job-flow-id"}

// InstanceFromEC2 converts an EC2 instance into the matcher's view.
// An instance carrying any of managedClusterTags is a managed-cluster
// instance.
func InstanceFromEC2(inst aws.Instance, managedClusterTags []string) (Instance, error) {
	family, size, units, err := NormalizeInstanceType(inst.InstanceType)
	if err != nil {
		return Instance{}, fmt.Errorf("instance %s: %w", inst.InstanceID, err)
	}

	managed := false
	for _, key := range managedClusterTags {
		if _, ok := inst.Tags[key]; ok {
			managed = true
			break
		}
	}

	return Instance{
		InstanceID:       inst.InstanceID,
		Family:           family,
		Size:             size,
		AvailabilityZone: inst.AvailabilityZone,
		Units:            units,
		Spot:             inst.Lifecycle == aws.LifecycleSpot,
		ManagedCluster:   managed,
	}, nil
}

// ReservationFromEC2 converts a Reserved Instance purchase into a spec.
// Regional reservations get the RegionalZone marker.
func ReservationFromEC2(ri aws.ReservedInstance) (ReservationSpec, error) {
	family, size, units, err := NormalizeInstanceType(ri.InstanceType)
	if err != nil {
		return ReservationSpec{}, fmt.Errorf("reservation %s: %w", ri.ReservedInstanceID, err)
	}

	zone := ri.AvailabilityZone
	if ri.IsRegional() {
		zone = RegionalZone
	}

	count := int(ri.InstanceCount)
	return ReservationSpec{
		ID:               ri.ReservedInstanceID,
		Family:           family,
		Size:             size,
		OfferingClass:    OfferingClass(ri.OfferingClass),
		AvailabilityZone: zone,
		Count:            count,
		Units:            float64(count) * units,
	}, nil
}

// InputFromEC2 converts a full inventory snapshot. The first conversion
// error aborts the whole snapshot.
func InputFromEC2(
	reservations []aws.ReservedInstance,
	instances []aws.Instance,
	managedClusterTags []string,
) (Input, error) {
	in := Input{
		Reservations: make([]ReservationSpec, 0, len(reservations)),
		Instances:    make([]Instance, 0, len(instances)),
	}
	for _, ri := range reservations {
		spec, err := ReservationFromEC2(ri)
		if err != nil {
			return Input{}, err
		}
		in.Reservations = append(in.Reservations, spec)
	}
	for _, inst := range instances {
		converted, err := InstanceFromEC2(inst, managedClusterTags)
		if err != nil {
			return Input{}, err
		}
		in.Instances = append(in.Instances, converted)
	}
	return in, nil
}
