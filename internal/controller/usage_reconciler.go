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

package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/nextdoor/riusage/pkg/config"
	"github.com/nextdoor/riusage/pkg/metrics"
	"github.com/nextdoor/riusage/pkg/usage"
)

// +kubebuilder:rbac:groups=core,resources=nodes,verbs=get;list;watch

// UsageReconciler computes the reservation usage report for every
// configured region and publishes it as metrics.
//
// Each report builds a fresh reservation pool from a fresh inventory load,
// so regions can be computed in parallel and no matching state survives
// between runs.
type UsageReconciler struct {
	Loader  *InventoryLoader
	Config  *config.Config
	Metrics *metrics.Metrics
	Log     logr.Logger

	// RetryConfig controls the initial load in Run. Zero means DefaultRetryConfig.
	RetryConfig RetryConfig
}

// Report loads region's inventory and summarizes it. It does not publish
// metrics; Reconcile does.
func (r *UsageReconciler) Report(ctx context.Context, region string) (*usage.Result, error) {
	_, result, err := r.report(ctx, region)
	return result, err
}

func (r *UsageReconciler) report(ctx context.Context, region string) (*Inventory, *usage.Result, error) {
	inv, err := r.Loader.Load(ctx, region)
	if err != nil {
		return nil, nil, err
	}

	in, err := usage.InputFromEC2(inv.ReservedInstances, inv.Instances, r.Config.GetManagedClusterTags())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid inventory in %s: %w", region, err)
	}

	result, err := usage.NewSummarizer(r.Log.WithValues("region", region)).Summarize(in)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to summarize %s: %w", region, err)
	}
	return inv, result, nil
}

// Reconcile refreshes every configured region. Failures are logged and the
// next cycle is still scheduled; regions that succeeded keep their new
// metrics.
func (r *UsageReconciler) Reconcile(ctx context.Context, _ ctrl.Request) (ctrl.Result, error) {
	log := r.Log.WithValues("reconciler", "usage")

	if err := r.refreshAll(ctx); err != nil {
		log.Error(err, "reconciliation cycle completed with errors")
	}

	requeueAfter := r.Config.GetReconciliationInterval()
	log.V(1).Info("reconciliation interval configured", "next_run_in", requeueAfter.String())
	return ctrl.Result{RequeueAfter: requeueAfter}, nil
}

func (r *UsageReconciler) refreshAll(ctx context.Context) error {
	regions := r.Config.GetRegions()
	errs := make([]error, len(regions))

	var wg sync.WaitGroup
	for i, region := range regions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.refreshRegion(ctx, region)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (r *UsageReconciler) refreshRegion(ctx context.Context, region string) error {
	start := time.Now()
	inv, result, err := r.report(ctx, region)
	if err != nil {
		return err
	}
	duration := time.Since(start)

	if r.Metrics != nil {
		r.Metrics.UpdateInventoryMetrics(region, inv.Instances, inv.ReservedInstances)
		r.Metrics.UpdateUsageMetrics(region, result)
		r.Metrics.ReconcileDuration.WithLabelValues(region).Observe(duration.Seconds())
	}

	r.Log.Info("updated reservation usage",
		"region", region,
		"families", len(result.Rows),
		"unreserved_instances", len(result.Unreserved),
		"unused_reservations", len(result.Unused),
		"duration_seconds", duration.Seconds())
	return nil
}

// Run reconciles on a ticker until ctx is cancelled. The first cycle is
// retried with backoff so a slow credential chain at startup doesn't leave
// the metrics empty for a whole interval.
func (r *UsageReconciler) Run(ctx context.Context) error {
	log := r.Log.WithValues("reconciler", "usage")
	log.Info("starting usage reconciler")

	retry := r.RetryConfig
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}
	if err := RetryWithBackoff(ctx, retry, log, "initial usage reconciliation", func() error {
		return r.refreshAll(ctx)
	}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error(err, "initial reconciliation failed, continuing on schedule")
	}

	interval := r.Config.GetReconciliationInterval()
	log.Info("configured reconciliation interval", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down usage reconciler")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Reconcile(ctx, ctrl.Request{}); err != nil {
				log.Error(err, "scheduled reconciliation failed")
			}
		}
	}
}

// SetupWithManager registers the reconciler as a timer-driven controller.
// coverage:ignore - controller-runtime boilerplate, tested via E2E
func (r *UsageReconciler) SetupWithManager(mgr ctrl.Manager) error {
	// The first Node event starts the cycle; RequeueAfter drives every
	// later run. Inventory comes from the EC2 API, not from Node objects.
	var once sync.Once
	return ctrl.NewControllerManagedBy(mgr).
		Named("usage").
		For(&corev1.Node{}).
		WithEventFilter(predicate.NewPredicateFuncs(func(client.Object) bool {
			first := false
			once.Do(func() { first = true })
			return first
		})).
		Complete(r)
}
