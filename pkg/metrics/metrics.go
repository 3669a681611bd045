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

// Package metrics provides Prometheus metrics for the riusage service.
// It exposes service health, AWS account validation status, inventory
// freshness and the per-family reservation usage breakdown.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the riusage service.
type Metrics struct {
	// lastUpdateTimes tracks when each data type was last loaded.
	// Key format: "account_id:region:data_type"
	lastUpdateTimes map[string]time.Time
	lastUpdateMu    sync.RWMutex

	stopOnce sync.Once
	stopCh   chan struct{}

	// ControllerRunning is set to 1 on startup. If the metric disappears
	// from the metrics endpoint, the service has crashed.
	ControllerRunning prometheus.Gauge

	// AccountValidationStatus is 1 when the account's credentials worked on
	// the last check and 0 otherwise.
	// Labels: account_id, account_name
	AccountValidationStatus *prometheus.GaugeVec

	// AccountValidationLastSuccess records the Unix timestamp of the last
	// successful validation for each AWS account.
	// Labels: account_id, account_name
	AccountValidationLastSuccess *prometheus.GaugeVec

	// AccountValidationDuration measures the time taken to validate account access.
	// Labels: account_id, account_name
	AccountValidationDuration *prometheus.HistogramVec

	// DataFreshness stores the age (in seconds) of inventory data since its
	// last successful load. Updated every second by a background goroutine.
	// Labels: account_id, region, data_type
	DataFreshness *prometheus.GaugeVec

	// DataLastSuccess is 1 when the last load of a data type succeeded and
	// 0 when it failed.
	// Labels: account_id, region, data_type
	DataLastSuccess *prometheus.GaugeVec

	// ReservationUsageUnits is the per-family usage breakdown in normalized
	// units, one series per bucket.
	// Labels: region, instance_family, bucket
	ReservationUsageUnits *prometheus.GaugeVec

	// ReservationRemainingUnits is the unused capacity of each reservation
	// that still has some left after matching.
	// Labels: region, reservation_id, instance_family, offering_class
	ReservationRemainingUnits *prometheus.GaugeVec

	// ReconcileDuration measures how long computing one region's report takes.
	// Labels: region
	ReconcileDuration *prometheus.HistogramVec

	// EC2InstanceCount counts running instances per family and lifecycle.
	// Labels: account_id, region, instance_family, lifecycle
	EC2InstanceCount *prometheus.GaugeVec

	// ReservedInstanceCount sums the instance count of active Reserved
	// Instances per family.
	// Labels: account_id, region, instance_family, offering_class
	ReservedInstanceCount *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics with the provided
// registry. The registry is typically the controller-runtime metrics registry
// (ctrlmetrics.Registry) which exposes metrics via the /metrics endpoint.
//
// Example usage:
//
//	import ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
//	m := metrics.NewMetrics(ctrlmetrics.Registry)
//	m.ControllerRunning.Set(1)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lastUpdateTimes: make(map[string]time.Time),
		stopCh:          make(chan struct{}),

		ControllerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricControllerRunning,
			Help: "Indicates whether the riusage service is running (1 = running)",
		}),

		AccountValidationStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricAccountValidationStatus,
			Help: "AWS account validation status (1 = success, 0 = failed)",
		}, []string{LabelAccountID, LabelAccountName}),

		AccountValidationLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricAccountValidationLastSuccess,
			Help: "Unix timestamp of last successful validation",
		}, []string{LabelAccountID, LabelAccountName}),

		AccountValidationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricAccountValidationDuration,
			Help:    "Time taken to validate account access",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{LabelAccountID, LabelAccountName}),

		DataFreshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricDataFreshnessSeconds,
			Help: "Age of inventory data in seconds since last successful load (updated every second)",
		}, []string{LabelAccountID, LabelRegion, LabelDataType}),

		DataLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricDataLastSuccess,
			Help: "Whether the last inventory load succeeded (1 = success, 0 = failed)",
		}, []string{LabelAccountID, LabelRegion, LabelDataType}),

		ReservationUsageUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricReservationUsageUnits,
			Help: "Normalized instance units per family and usage bucket",
		}, []string{LabelRegion, LabelInstanceFamily, LabelBucket}),

		ReservationRemainingUnits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricReservationRemainingUnits,
			Help: "Normalized units of a Reserved Instance not covering any running instance",
		}, []string{LabelRegion, LabelReservationID, LabelInstanceFamily, LabelOfferingClass}),

		ReconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricReconcileDuration,
			Help:    "Time taken to load inventory and compute reservation usage for a region",
			Buckets: prometheus.DefBuckets,
		}, []string{LabelRegion}),

		EC2InstanceCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricEC2InstanceCount,
			Help: "Number of running EC2 instances by family and lifecycle",
		}, []string{LabelAccountID, LabelRegion, LabelInstanceFamily, LabelLifecycle}),

		ReservedInstanceCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricReservedInstanceCount,
			Help: "Number of instances covered by active Reserved Instances by family",
		}, []string{LabelAccountID, LabelRegion, LabelInstanceFamily, LabelOfferingClass}),
	}

	reg.MustRegister(
		m.ControllerRunning,
		m.AccountValidationStatus,
		m.AccountValidationLastSuccess,
		m.AccountValidationDuration,
		m.DataFreshness,
		m.DataLastSuccess,
		m.ReservationUsageUnits,
		m.ReservationRemainingUnits,
		m.ReconcileDuration,
		m.EC2InstanceCount,
		m.ReservedInstanceCount,
	)

	go m.updateDataFreshnessLoop()

	return m
}

// RecordAccountValidation records the result of an AWS account validation
// attempt.
func (m *Metrics) RecordAccountValidation(accountID, accountName string, success bool, duration time.Duration) {
	labels := prometheus.Labels{
		LabelAccountID:   accountID,
		LabelAccountName: accountName,
	}

	m.AccountValidationDuration.With(labels).Observe(duration.Seconds())

	if success {
		m.AccountValidationStatus.With(labels).Set(1)
		m.AccountValidationLastSuccess.With(labels).Set(float64(time.Now().Unix()))
	} else {
		// The last-success timestamp is left alone so its age keeps growing.
		m.AccountValidationStatus.With(labels).Set(0)
	}
}

// MarkDataUpdated records a successful load of dataType for an account and
// region. The freshness gauge counts up from this moment.
func (m *Metrics) MarkDataUpdated(accountID, region, dataType string) {
	m.lastUpdateMu.Lock()
	m.lastUpdateTimes[freshnessKey(accountID, region, dataType)] = time.Now()
	m.lastUpdateMu.Unlock()

	m.DataLastSuccess.With(dataLabels(accountID, region, dataType)).Set(1)
}

// MarkDataFailed records a failed load. Freshness is left untouched.
func (m *Metrics) MarkDataFailed(accountID, region, dataType string) {
	m.DataLastSuccess.With(dataLabels(accountID, region, dataType)).Set(0)
}

func dataLabels(accountID, region, dataType string) prometheus.Labels {
	return prometheus.Labels{
		LabelAccountID: accountID,
		LabelRegion:    region,
		LabelDataType:  dataType,
	}
}

func freshnessKey(accountID, region, dataType string) string {
	return accountID + ":" + region + ":" + dataType
}

func (m *Metrics) updateDataFreshnessLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.UpdateDataFreshness(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

// UpdateDataFreshness sets every freshness gauge to its age at now.
func (m *Metrics) UpdateDataFreshness(now time.Time) {
	m.lastUpdateMu.RLock()
	defer m.lastUpdateMu.RUnlock()

	for key, lastUpdate := range m.lastUpdateTimes {
		// Account IDs and data types never contain ':'; regions don't either.
		parts := strings.SplitN(key, ":", 3)
		if len(parts) != 3 {
			continue
		}
		m.DataFreshness.With(dataLabels(parts[0], parts[1], parts[2])).Set(now.Sub(lastUpdate).Seconds())
	}
}

// Stop signals the background goroutine to stop updating metrics.
// It is safe to call more than once.
func (m *Metrics) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// DeleteAccountMetrics removes all metric labels associated with an account.
func (m *Metrics) DeleteAccountMetrics(accountID, accountName string) {
	labels := prometheus.Labels{
		LabelAccountID:   accountID,
		LabelAccountName: accountName,
	}
	m.AccountValidationStatus.Delete(labels)
	m.AccountValidationLastSuccess.Delete(labels)
	m.AccountValidationDuration.Delete(labels)

	m.lastUpdateMu.Lock()
	for key := range m.lastUpdateTimes {
		if strings.HasPrefix(key, accountID+":") {
			delete(m.lastUpdateTimes, key)
		}
	}
	m.lastUpdateMu.Unlock()
	m.DataFreshness.DeletePartialMatch(prometheus.Labels{LabelAccountID: accountID})
	m.DataLastSuccess.DeletePartialMatch(prometheus.Labels{LabelAccountID: accountID})
}
