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

// Metric label name constants.
const (
	// Account labels
	LabelAccountID   = "account_id"
	LabelAccountName = "account_name"

	// Location labels
	LabelRegion = "region"

	// Reservation usage labels
	LabelInstanceFamily = "instance_family"
	LabelBucket         = "bucket"
	LabelReservationID  = "reservation_id"
	LabelOfferingClass  = "offering_class"

	// Inventory labels
	LabelLifecycle = "lifecycle"

	// Data freshness labels
	LabelDataType = "data_type"
)

// Values of the bucket label on MetricReservationUsageUnits.
const (
	BucketOnDemand       = "on_demand"
	BucketSpot           = "spot"
	BucketManagedCluster = "managed_cluster"
	BucketReserved       = "reserved"
	BucketUnreserved     = "unreserved"
	BucketSurplus        = "surplus"
)

// Values of the data_type label.
const (
	DataTypeInstances    = "ec2_instances"
	DataTypeReservations = "reserved_instances"
)
