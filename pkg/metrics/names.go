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

// Metric names are exported so dashboards and alerting code can reference
// them without string literals:
//
//	query := fmt.Sprintf("sum by (%s) (%s{%s=%q})",
//	    metrics.LabelInstanceFamily,
//	    metrics.MetricReservationUsageUnits,
//	    metrics.LabelBucket, metrics.BucketUnreserved)

// Service health metrics.
const (
	// MetricControllerRunning is 1 while the service runs.
	// Type: Gauge
	MetricControllerRunning = "riusage_controller_running"

	// MetricDataFreshnessSeconds is the age of each inventory data type.
	// Type: Gauge
	// Labels: account_id, region, data_type
	MetricDataFreshnessSeconds = "riusage_data_freshness_seconds"

	// MetricDataLastSuccess is 1 if the last load of a data type succeeded.
	// Type: Gauge
	// Labels: account_id, region, data_type
	MetricDataLastSuccess = "riusage_data_last_success"

	// MetricReconcileDuration is the time taken per region report.
	// Type: Histogram
	// Labels: region
	MetricReconcileDuration = "riusage_reconcile_duration_seconds"
)

// AWS account validation metrics.
const (
	// Type: Gauge
	// Labels: account_id, account_name
	MetricAccountValidationStatus = "riusage_account_validation_status"

	// Type: Gauge
	// Labels: account_id, account_name
	MetricAccountValidationLastSuccess = "riusage_account_validation_last_success_timestamp"

	// Type: Histogram
	// Labels: account_id, account_name
	MetricAccountValidationDuration = "riusage_account_validation_duration_seconds"
)

// Reservation usage metrics.
const (
	// MetricReservationUsageUnits is the per-family breakdown in normalized units.
	// Type: Gauge
	// Labels: region, instance_family, bucket
	MetricReservationUsageUnits = "ec2_reservation_usage_units"

	// MetricReservationRemainingUnits is the unused capacity per reservation.
	// Type: Gauge
	// Labels: region, reservation_id, instance_family, offering_class
	MetricReservationRemainingUnits = "ec2_reserved_instance_remaining_units"
)

// Inventory metrics.
const (
	// MetricEC2InstanceCount is the number of running instances per family.
	// Type: Gauge
	// Labels: account_id, region, instance_family, lifecycle
	MetricEC2InstanceCount = "ec2_instance_count"

	// MetricReservedInstanceCount is the number of instances covered by
	// active Reserved Instances per family.
	// Type: Gauge
	// Labels: account_id, region, instance_family, offering_class
	MetricReservedInstanceCount = "ec2_reserved_instance_count"
)
