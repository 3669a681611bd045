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

package aws

import (
	"context"
	"sync"
)

// MockClient is a mock implementation of the Client interface for testing.
// It provides configurable responses and tracks method calls.
type MockClient struct {
	mu sync.Mutex

	// EC2Clients maps AccountID to MockEC2Client
	EC2Clients map[string]*MockEC2Client

	// AssumeRoleCalls tracks all AssumeRole attempts
	AssumeRoleCalls []AssumeRoleCall

	// EC2Error can be set to simulate client creation failures
	EC2Error error
}

// AssumeRoleCall records an AssumeRole operation for testing.
type AssumeRoleCall struct {
	AccountID     string
	AssumeRoleARN string
	SessionName   string
}

// NewMockClient creates a new MockClient with initialized maps.
func NewMockClient() *MockClient {
	return &MockClient{
		EC2Clients: make(map[string]*MockEC2Client),
	}
}

// EC2 returns a mock EC2Client for the specified account, creating an empty
// one on first use.
func (m *MockClient) EC2(_ context.Context, accountConfig AccountConfig) (EC2Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.EC2Error != nil {
		return nil, m.EC2Error
	}

	if accountConfig.AssumeRoleARN != "" {
		m.AssumeRoleCalls = append(m.AssumeRoleCalls, AssumeRoleCall{
			AccountID:     accountConfig.AccountID,
			AssumeRoleARN: accountConfig.AssumeRoleARN,
			SessionName:   accountConfig.SessionName,
		})
	}

	return m.accountLocked(accountConfig.AccountID), nil
}

// Account returns the mock EC2 client for accountID, creating it if needed.
// Handy for seeding data before the code under test asks for it.
func (m *MockClient) Account(accountID string) *MockEC2Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountLocked(accountID)
}

func (m *MockClient) accountLocked(accountID string) *MockEC2Client {
	client, exists := m.EC2Clients[accountID]
	if !exists {
		client = NewMockEC2Client()
		client.AccountID = accountID
		m.EC2Clients[accountID] = client
	}
	return client
}

// MockEC2Client is a mock implementation of EC2Client for testing.
type MockEC2Client struct {
	mu sync.Mutex

	// AccountID is stamped on returned records that don't carry one, as
	// the real client does.
	AccountID string

	// Instances is the mock instance data
	Instances []Instance

	// ReservedInstances is the mock RI data
	ReservedInstances []ReservedInstance

	// Error injection for testing error paths
	DescribeInstancesError         error
	DescribeReservedInstancesError error

	// BeforeDescribeInstances, when set, runs after the call is counted and
	// before data is returned. Tests use it to hold a load in flight.
	BeforeDescribeInstances func(ctx context.Context)

	// CallCounts tracks method call counts
	DescribeInstancesCallCount         int
	DescribeReservedInstancesCallCount int
}

// NewMockEC2Client creates a new MockEC2Client.
func NewMockEC2Client() *MockEC2Client {
	return &MockEC2Client{}
}

// DescribeInstances returns the mock instance data filtered by region.
func (m *MockEC2Client) DescribeInstances(ctx context.Context, regions []string) ([]Instance, error) {
	m.mu.Lock()
	m.DescribeInstancesCallCount++
	hook := m.BeforeDescribeInstances
	err := m.DescribeInstancesError
	instances := filterByRegion(m.Instances, regions, func(i Instance) string { return i.Region })
	m.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return nil, err
	}
	for i := range instances {
		if instances[i].AccountID == "" {
			instances[i].AccountID = m.AccountID
		}
	}
	return instances, nil
}

// DescribeReservedInstances returns the mock RI data filtered by region.
func (m *MockEC2Client) DescribeReservedInstances(_ context.Context, regions []string) ([]ReservedInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DescribeReservedInstancesCallCount++

	if m.DescribeReservedInstancesError != nil {
		return nil, m.DescribeReservedInstancesError
	}
	ris := filterByRegion(m.ReservedInstances, regions, func(ri ReservedInstance) string { return ri.Region })
	for i := range ris {
		if ris[i].AccountID == "" {
			ris[i].AccountID = m.AccountID
		}
	}
	return ris, nil
}

// Calls returns the current call counts for both describe operations.
func (m *MockEC2Client) Calls() (instances, reservations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DescribeInstancesCallCount, m.DescribeReservedInstancesCallCount
}

// filterByRegion keeps items whose region is listed. An empty region list
// keeps everything. The result is always a fresh slice.
func filterByRegion[T any](items []T, regions []string, regionOf func(T) string) []T {
	wanted := make(map[string]bool, len(regions))
	for _, r := range regions {
		wanted[r] = true
	}

	filtered := []T{}
	for _, item := range items {
		if len(regions) == 0 || wanted[regionOf(item)] {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
