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
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextdoor/riusage/internal/cache"
	"github.com/nextdoor/riusage/pkg/aws"
	"github.com/nextdoor/riusage/pkg/config"
	"github.com/nextdoor/riusage/pkg/metrics"
)

const (
	accountA = "111111111111"
	accountB = "222222222222"
)

func twoAccountConfig() *config.Config {
	return &config.Config{
		DefaultRegion: "us-west-2",
		Regions:       []string{"us-west-2"},
		AWSAccounts: []config.AWSAccount{
			{AccountID: accountA, Name: "a"},
			{AccountID: accountB, Name: "b"},
		},
	}
}

// seedFleet loads the mixed fleet fixture split across two accounts.
func seedFleet(client *aws.MockClient) {
	a := client.Account(accountA)
	a.Instances = []aws.Instance{
		{InstanceID: "i-1", InstanceType: "i9.large", AvailabilityZone: "us-west-2a", Region: "us-west-2", State: "running"},
		{InstanceID: "i-2", InstanceType: "p7.large", AvailabilityZone: "us-west-2a", Region: "us-west-2", State: "running"},
		{InstanceID: "i-3", InstanceType: "d5.large", AvailabilityZone: "us-west-2b", Region: "us-west-2", State: "running"},
		{InstanceID: "i-4", InstanceType: "c6.large", AvailabilityZone: "us-west-2b", Region: "us-west-2", State: "running", Lifecycle: aws.LifecycleSpot},
	}
	a.ReservedInstances = []aws.ReservedInstance{
		{ReservedInstanceID: "ri-p7", InstanceType: "p7.small", Scope: aws.ScopeRegion, Region: "us-west-2", InstanceCount: 8, OfferingClass: aws.OfferingClassConvertible, State: "active"},
		{ReservedInstanceID: "ri-i9-a", InstanceType: "i9.small", Scope: aws.ScopeRegion, Region: "us-west-2", InstanceCount: 18, OfferingClass: aws.OfferingClassConvertible, State: "active"},
	}

	b := client.Account(accountB)
	b.Instances = []aws.Instance{
		{InstanceID: "i-5", InstanceType: "i9.large", AvailabilityZone: "us-west-2c", Region: "us-west-2", State: "running",
			Tags: map[string]string{"aws:elasticmapreduce:job-flow-id": "j-1"}},
		{InstanceID: "i-6", InstanceType: "m5.large", AvailabilityZone: "us-west-2c", Region: "us-west-2", State: "stopped"},
	}
	b.ReservedInstances = []aws.ReservedInstance{
		{ReservedInstanceID: "ri-i9-b", InstanceType: "i9.small", Scope: aws.ScopeRegion, Region: "us-west-2", InstanceCount: 4, OfferingClass: aws.OfferingClassConvertible, State: "active"},
		{ReservedInstanceID: "ri-i9-c", InstanceType: "i9.small", Scope: aws.ScopeRegion, Region: "us-west-2", InstanceCount: 2, OfferingClass: aws.OfferingClassConvertible, State: "active"},
		{ReservedInstanceID: "ri-old", InstanceType: "i9.small", Scope: aws.ScopeRegion, Region: "us-west-2", InstanceCount: 50, OfferingClass: aws.OfferingClassConvertible, State: "retired"},
	}
}

func newTestMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	t.Cleanup(m.Stop)
	return m
}

func instanceIDs(instances []aws.Instance) []string {
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.InstanceID)
	}
	return ids
}

func reservationIDs(ris []aws.ReservedInstance) []string {
	ids := make([]string, 0, len(ris))
	for _, ri := range ris {
		ids = append(ids, ri.ReservedInstanceID)
	}
	return ids
}

func TestInventoryLoader_LoadConcatenatesInAccountOrder(t *testing.T) {
	client := aws.NewMockClient()
	seedFleet(client)
	m := newTestMetrics(t)

	loader := &InventoryLoader{
		AWSClient: client,
		Config:    twoAccountConfig(),
		Metrics:   m,
		Log:       logr.Discard(),
	}

	inv, err := loader.Load(context.Background(), "us-west-2")
	require.NoError(t, err)

	assert.Equal(t, "us-west-2", inv.Region)
	assert.Equal(t, []string{"i-1", "i-2", "i-3", "i-4", "i-5"}, instanceIDs(inv.Instances), "stopped instance is dropped")
	assert.Equal(t, []string{"ri-p7", "ri-i9-a", "ri-i9-b", "ri-i9-c"}, reservationIDs(inv.ReservedInstances), "retired RI is dropped")

	for _, account := range []string{accountA, accountB} {
		for _, dataType := range []string{metrics.DataTypeInstances, metrics.DataTypeReservations} {
			value := testutil.ToFloat64(m.DataLastSuccess.With(prometheus.Labels{
				metrics.LabelAccountID: account,
				metrics.LabelRegion:    "us-west-2",
				metrics.LabelDataType:  dataType,
			}))
			assert.Equal(t, 1.0, value, "last success for %s/%s", account, dataType)
		}
	}
}

func TestInventoryLoader_UsesAccountRegionOverride(t *testing.T) {
	client := aws.NewMockClient()
	client.Account(accountA).Instances = []aws.Instance{
		{InstanceID: "i-east", Region: "us-east-1"},
		{InstanceID: "i-west", Region: "us-west-2"},
	}
	cfg := &config.Config{AWSAccounts: []config.AWSAccount{{AccountID: accountA, Name: "a", Region: "eu-west-1"}}}

	loader := &InventoryLoader{AWSClient: client, Config: cfg, Log: logr.Discard()}
	inv, err := loader.Load(context.Background(), "us-east-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"i-east"}, instanceIDs(inv.Instances), "the requested region wins over the account default")
}

func TestInventoryLoader_FailsWholeLoad(t *testing.T) {
	client := aws.NewMockClient()
	seedFleet(client)
	throttled := errors.New("RequestLimitExceeded")
	client.Account(accountB).DescribeReservedInstancesError = throttled
	m := newTestMetrics(t)

	loader := &InventoryLoader{
		AWSClient: client,
		Config:    twoAccountConfig(),
		Metrics:   m,
		Log:       logr.Discard(),
	}

	inv, err := loader.Load(context.Background(), "us-west-2")
	require.Error(t, err)
	assert.Nil(t, inv)
	assert.ErrorIs(t, err, throttled)
	assert.Contains(t, err.Error(), "failed to load inventory for us-west-2")
	assert.Contains(t, err.Error(), "account b")

	value := testutil.ToFloat64(m.DataLastSuccess.With(prometheus.Labels{
		metrics.LabelAccountID: accountB,
		metrics.LabelRegion:    "us-west-2",
		metrics.LabelDataType:  metrics.DataTypeReservations,
	}))
	assert.Equal(t, 0.0, value)
}

func TestInventoryLoader_ClientCreationFailure(t *testing.T) {
	client := aws.NewMockClient()
	client.EC2Error = errors.New("AccessDenied")

	loader := &InventoryLoader{AWSClient: client, Config: twoAccountConfig(), Log: logr.Discard()}
	_, err := loader.Load(context.Background(), "us-west-2")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create EC2 client")
}

func TestInventoryLoader_ServesFromCache(t *testing.T) {
	client := aws.NewMockClient()
	seedFleet(client)
	inventoryCache := cache.NewInventoryCache(5*time.Minute, time.Hour)

	loader := &InventoryLoader{
		AWSClient: client,
		Config:    twoAccountConfig(),
		Cache:     inventoryCache,
		Log:       logr.Discard(),
	}

	first, err := loader.Load(context.Background(), "us-west-2")
	require.NoError(t, err)
	second, err := loader.Load(context.Background(), "us-west-2")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	instanceCalls, riCalls := client.Account(accountA).Calls()
	assert.Equal(t, 1, instanceCalls)
	assert.Equal(t, 1, riCalls)

	inventoryCache.InvalidateInstances("us-west-2")
	_, err = loader.Load(context.Background(), "us-west-2")
	require.NoError(t, err)

	instanceCalls, riCalls = client.Account(accountA).Calls()
	assert.Equal(t, 2, instanceCalls, "instances are refetched after invalidation")
	assert.Equal(t, 1, riCalls, "reservations still come from cache")
}

func TestInventoryLoader_FailureIsNotCached(t *testing.T) {
	client := aws.NewMockClient()
	seedFleet(client)
	client.Account(accountA).DescribeInstancesError = errors.New("boom")
	inventoryCache := cache.NewInventoryCache(5*time.Minute, time.Hour)

	loader := &InventoryLoader{AWSClient: client, Config: twoAccountConfig(), Cache: inventoryCache, Log: logr.Discard()}
	_, err := loader.Load(context.Background(), "us-west-2")
	require.Error(t, err)

	_, ok := inventoryCache.Instances("us-west-2")
	assert.False(t, ok)
}

func TestInventoryLoader_InvalidationDuringFetchIsKept(t *testing.T) {
	ctx := context.Background()
	client := aws.NewMockClient()
	seedFleet(client)
	inventoryCache := cache.NewInventoryCache(5*time.Minute, time.Hour)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	client.Account(accountA).BeforeDescribeInstances = func(context.Context) {
		once.Do(func() { close(started) })
		<-release
	}

	loader := &InventoryLoader{AWSClient: client, Config: twoAccountConfig(), Cache: inventoryCache, Log: logr.Discard()}

	done := make(chan error, 1)
	go func() {
		_, err := loader.Load(ctx, "us-west-2")
		done <- err
	}()

	<-started
	inventoryCache.InvalidateInstances("us-west-2")
	close(release)
	require.NoError(t, <-done)

	_, ok := inventoryCache.Instances("us-west-2")
	assert.False(t, ok, "a fleet read before the node churn must not be cached as fresh")
	_, ok = inventoryCache.ReservedInstances("us-west-2")
	assert.True(t, ok, "reservations are cached normally")

	_, err := loader.Load(ctx, "us-west-2")
	require.NoError(t, err)
	instanceCalls, _ := client.Account(accountA).Calls()
	assert.Equal(t, 2, instanceCalls, "the next load goes back to EC2")

	_, ok = inventoryCache.Instances("us-west-2")
	assert.True(t, ok, "a load started after the invalidation is cached")
}
