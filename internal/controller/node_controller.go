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

// Package controller contains the inventory loader, the usage reconciler
// and the Kubernetes controllers that drive them.
package controller

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/nextdoor/riusage/internal/cache"
)

// DefaultNodeChurnQuiet is how long node additions and removals are
// collected before the affected regions' instance lists are dropped.
const DefaultNodeChurnQuiet = 30 * time.Second

// nodeChurnMaxWaitFactor caps how long steady churn can postpone an
// invalidation, in multiples of the quiet period.
const nodeChurnMaxWaitFactor = 4

var regionPattern = regexp.MustCompile(`^([a-z]+(?:-[a-z]+)+-\d+)`)

// NodeReconciler watches cluster Nodes and invalidates the cached instance
// list of a region when a node joins or leaves it, so the next report sees
// the new fleet without waiting for the cache TTL.
//
// Status-only updates of known nodes are ignored.
type NodeReconciler struct {
	client.Client

	debouncer *cache.Debouncer

	mu          sync.Mutex
	nodeRegions map[string]string // node name -> region
}

// NewNodeReconciler creates a NodeReconciler that invalidates inv after
// quiet has passed without further node churn.
func NewNodeReconciler(c client.Client, inv *cache.InventoryCache, quiet time.Duration) *NodeReconciler {
	return &NodeReconciler{
		Client: c,
		debouncer: cache.NewDebouncer(quiet, nodeChurnMaxWaitFactor*quiet, func(regions []string) {
			inv.InvalidateInstances(regions...)
		}),
		nodeRegions: make(map[string]string),
	}
}

// +kubebuilder:rbac:groups=core,resources=nodes,verbs=get;list;watch

// Reconcile handles Node add/update/delete events.
func (r *NodeReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx)

	var node corev1.Node
	if err := r.Get(ctx, req.NamespacedName, &node); err != nil {
		if errors.IsNotFound(err) {
			r.forget(req.Name)
			return ctrl.Result{}, nil
		}
		log.Error(err, "failed to get node")
		return ctrl.Result{}, err
	}

	region, err := RegionFromProviderID(node.Spec.ProviderID)
	if err != nil {
		// Expected for non-AWS nodes (kind, minikube).
		log.V(1).Info("ignoring node without an EC2 provider ID",
			"node", node.Name,
			"error", err.Error())
		return ctrl.Result{}, nil
	}

	if r.remember(node.Name, region) {
		log.V(1).Info("node joined, refreshing region inventory",
			"node", node.Name,
			"region", region)
	}
	return ctrl.Result{}, nil
}

// remember records a node and reports whether it was new.
func (r *NodeReconciler) remember(name, region string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if known, ok := r.nodeRegions[name]; ok && known == region {
		return false
	}
	r.nodeRegions[name] = region
	r.debouncer.Add(region)
	return true
}

func (r *NodeReconciler) forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	region, ok := r.nodeRegions[name]
	if !ok {
		return
	}
	delete(r.nodeRegions, name)
	r.debouncer.Add(region)
}

// Stop cancels a pending invalidation.
func (r *NodeReconciler) Stop() {
	r.debouncer.Stop()
}

// SetupWithManager sets up the controller with the Manager.
// coverage:ignore - controller-runtime boilerplate, tested via E2E
func (r *NodeReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&corev1.Node{}).
		Named("node").
		Complete(r)
}

// RegionFromProviderID extracts the AWS region from a node's providerID.
//
//	aws:///us-west-2a/i-0123456789abcdef0  ->  us-west-2
func RegionFromProviderID(providerID string) (string, error) {
	if !strings.HasPrefix(providerID, "aws://") {
		return "", fmt.Errorf("providerID does not start with 'aws://': %q", providerID)
	}

	parts := strings.Split(strings.TrimPrefix(providerID, "aws://"), "/")
	if len(parts) < 3 || !strings.HasPrefix(parts[len(parts)-1], "i-") {
		return "", fmt.Errorf("providerID has invalid format: %q", providerID)
	}

	match := regionPattern.FindStringSubmatch(parts[len(parts)-2])
	if match == nil {
		return "", fmt.Errorf("providerID has no availability zone: %q", providerID)
	}
	return match[1], nil
}
