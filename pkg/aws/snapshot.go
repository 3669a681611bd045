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
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Snapshot is a saved EC2 inventory. It is the on-disk format read by
// SnapshotClient, e.g.:
//
//	instances:
//	  - instanceId: i-0123
//	    instanceType: m5.large
//	    availabilityZone: us-west-2a
//	    region: us-west-2
//	    lifecycle: on-demand
//	reservedInstances:
//	  - reservedInstanceId: ri-0123
//	    instanceType: m5.small
//	    scope: Region
//	    region: us-west-2
//	    instanceCount: 4
//	    offeringClass: convertible
type Snapshot struct {
	Instances         []Instance         `json:"instances"`
	ReservedInstances []ReservedInstance `json:"reservedInstances"`
}

// LoadSnapshot reads and parses a snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot parses YAML or JSON snapshot data.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.UnmarshalStrict(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snap, nil
}

// SnapshotClient serves a fixed inventory through the Client interface.
// It is used for offline audits (--snapshot-file) and in tests.
//
// Items with an account ID are only returned for that account; items
// without one are returned for every account.
type SnapshotClient struct {
	snapshot *Snapshot
}

// NewSnapshotClient wraps snap.
func NewSnapshotClient(snap *Snapshot) *SnapshotClient {
	return &SnapshotClient{snapshot: snap}
}

// EC2 returns a view of the snapshot for one account.
func (c *SnapshotClient) EC2(_ context.Context, accountConfig AccountConfig) (EC2Client, error) {
	return &snapshotEC2Client{snapshot: c.snapshot, accountID: accountConfig.AccountID}, nil
}

type snapshotEC2Client struct {
	snapshot  *Snapshot
	accountID string
}

func (c *snapshotEC2Client) owns(accountID string) bool {
	return accountID == "" || c.accountID == "" || accountID == c.accountID
}

func (c *snapshotEC2Client) DescribeInstances(_ context.Context, regions []string) ([]Instance, error) {
	var owned []Instance
	for _, inst := range c.snapshot.Instances {
		if c.owns(inst.AccountID) {
			owned = append(owned, inst)
		}
	}
	return filterByRegion(owned, regions, func(i Instance) string { return i.Region }), nil
}

func (c *snapshotEC2Client) DescribeReservedInstances(_ context.Context, regions []string) ([]ReservedInstance, error) {
	var owned []ReservedInstance
	for _, ri := range c.snapshot.ReservedInstances {
		if c.owns(ri.AccountID) {
			owned = append(owned, ri)
		}
	}
	return filterByRegion(owned, regions, func(ri ReservedInstance) string { return ri.Region }), nil
}
