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

	"github.com/nextdoor/riusage/internal/cache"
	"github.com/nextdoor/riusage/pkg/aws"
	"github.com/nextdoor/riusage/pkg/config"
	"github.com/nextdoor/riusage/pkg/metrics"
)

// Inventory is the raw EC2 data for one region, pooled across accounts.
// Records appear in account configuration order, and in API order within
// an account.
type Inventory struct {
	Region            string
	Instances         []aws.Instance
	ReservedInstances []aws.ReservedInstance
}

// InventoryLoader fetches a region's running instances and active Reserved
// Instances from every configured account.
//
// The two kinds load concurrently and each kind queries all accounts
// concurrently. A single failed call fails the whole load: a report built
// from a partial inventory would misstate coverage.
type InventoryLoader struct {
	AWSClient aws.Client
	Config    *config.Config

	// Cache is optional. When set, fresh entries are served without AWS calls.
	Cache *cache.InventoryCache

	// Metrics is optional.
	Metrics *metrics.Metrics

	Log logr.Logger
}

// Load returns the inventory for region.
func (l *InventoryLoader) Load(ctx context.Context, region string) (*Inventory, error) {
	var (
		wg        sync.WaitGroup
		instances []aws.Instance
		ris       []aws.ReservedInstance
		instErr   error
		riErr     error
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(2)
	go func() {
		defer wg.Done()
		instances, instErr = l.loadInstances(ctx, region)
		if instErr != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		ris, riErr = l.loadReservedInstances(ctx, region)
		if riErr != nil {
			cancel()
		}
	}()
	wg.Wait()

	if err := errors.Join(instErr, riErr); err != nil {
		return nil, fmt.Errorf("failed to load inventory for %s: %w", region, err)
	}

	return &Inventory{
		Region:            region,
		Instances:         runningOnly(instances),
		ReservedInstances: activeOnly(ris),
	}, nil
}

func (l *InventoryLoader) loadInstances(ctx context.Context, region string) ([]aws.Instance, error) {
	var gen uint64
	if l.Cache != nil {
		if cached, ok := l.Cache.Instances(region); ok {
			l.Log.V(1).Info("serving instances from cache", "region", region, "count", len(cached))
			return cached, nil
		}
		gen = l.Cache.InstancesGeneration(region)
	}

	instances, err := fetchFromAccounts(ctx, l, region, metrics.DataTypeInstances,
		func(ctx context.Context, c aws.EC2Client) ([]aws.Instance, error) {
			return c.DescribeInstances(ctx, []string{region})
		})
	if err != nil {
		return nil, err
	}

	if l.Cache != nil && !l.Cache.SetInstancesIfGeneration(region, gen, instances) {
		l.Log.V(1).Info("instances invalidated during load, not caching", "region", region)
	}
	return instances, nil
}

func (l *InventoryLoader) loadReservedInstances(ctx context.Context, region string) ([]aws.ReservedInstance, error) {
	if l.Cache != nil {
		if cached, ok := l.Cache.ReservedInstances(region); ok {
			l.Log.V(1).Info("serving reserved instances from cache", "region", region, "count", len(cached))
			return cached, nil
		}
	}

	ris, err := fetchFromAccounts(ctx, l, region, metrics.DataTypeReservations,
		func(ctx context.Context, c aws.EC2Client) ([]aws.ReservedInstance, error) {
			return c.DescribeReservedInstances(ctx, []string{region})
		})
	if err != nil {
		return nil, err
	}

	if l.Cache != nil {
		l.Cache.SetReservedInstances(region, ris)
	}
	return ris, nil
}

// fetchFromAccounts calls describe once per account in parallel and
// concatenates the results in account order.
func fetchFromAccounts[T any](
	ctx context.Context,
	l *InventoryLoader,
	region string,
	dataType string,
	describe func(context.Context, aws.EC2Client) ([]T, error),
) ([]T, error) {
	accounts := l.Config.GetAccounts()
	results := make([][]T, len(accounts))
	errs := make([]error, len(accounts))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i, account := range accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = fetchFromAccount(ctx, l, account, region, dataType, describe)
			if errs[i] != nil {
				cancel()
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	var total int
	for _, r := range results {
		total += len(r)
	}
	all := make([]T, 0, total)
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func fetchFromAccount[T any](
	ctx context.Context,
	l *InventoryLoader,
	account config.AWSAccount,
	region string,
	dataType string,
	describe func(context.Context, aws.EC2Client) ([]T, error),
) ([]T, error) {
	log := l.Log.WithValues(
		"account_id", account.AccountID,
		"account_name", account.Name,
		"region", region,
		"data_type", dataType,
	)

	accountConfig := aws.AccountConfigFor(account, region)
	accountConfig.Region = region

	ec2Client, err := l.AWSClient.EC2(ctx, accountConfig)
	if err != nil {
		l.markFailed(ctx, account.AccountID, region, dataType)
		return nil, fmt.Errorf("failed to create EC2 client for account %s: %w", account.Name, err)
	}

	start := time.Now()
	items, err := describe(ctx, ec2Client)
	if err != nil {
		l.markFailed(ctx, account.AccountID, region, dataType)
		return nil, fmt.Errorf("failed to load %s for account %s in %s: %w", dataType, account.Name, region, err)
	}

	if l.Metrics != nil {
		l.Metrics.MarkDataUpdated(account.AccountID, region, dataType)
	}
	log.V(1).Info("loaded inventory",
		"count", len(items),
		"duration_seconds", time.Since(start).Seconds())
	return items, nil
}

func (l *InventoryLoader) markFailed(ctx context.Context, accountID, region, dataType string) {
	// A sibling's failure cancelled this call; it says nothing about the account.
	if ctx.Err() != nil {
		return
	}
	if l.Metrics != nil {
		l.Metrics.MarkDataFailed(accountID, region, dataType)
	}
}

// runningOnly drops instances reported in any state other than running.
// The EC2 API already filters; snapshots may not.
func runningOnly(instances []aws.Instance) []aws.Instance {
	kept := make([]aws.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.State == "" || inst.State == "running" {
			kept = append(kept, inst)
		}
	}
	return kept
}

func activeOnly(ris []aws.ReservedInstance) []aws.ReservedInstance {
	kept := make([]aws.ReservedInstance, 0, len(ris))
	for _, ri := range ris {
		if ri.State == "" || ri.State == "active" {
			kept = append(kept, ri)
		}
	}
	return kept
}
