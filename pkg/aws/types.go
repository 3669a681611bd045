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

// Package aws provides abstractions for reading EC2 inventory from AWS.
//
// This file contains the data structures shared by every client.
// The json tags double as the schema for inventory snapshot files.

package aws

import (
	"time"
)

// Lifecycle constants for EC2 instances.
const (
	LifecycleOnDemand = "on-demand"
	LifecycleSpot     = "spot"
)

// Reserved Instance scope values as reported by DescribeReservedInstances.
const (
	ScopeRegion           = "Region"
	ScopeAvailabilityZone = "Availability Zone"
)

// Reserved Instance offering classes.
const (
	OfferingClassStandard    = "standard"
	OfferingClassConvertible = "convertible"
)

// AccountConfig represents configuration for accessing an AWS account.
// Supports both direct credentials and AssumeRole-based access.
type AccountConfig struct {
	// AccountID is the AWS account ID (e.g., "111111111111").
	// Empty means "whatever account the default credential chain resolves to".
	AccountID string

	// Name is a human-readable name for this account (e.g., "Production")
	Name string

	// AssumeRoleARN is the ARN of the role to assume for cross-account access.
	// If empty, uses the default credential chain.
	// Example: "arn:aws:iam::111111111111:role/riusage-reader"
	AssumeRoleARN string

	// ExternalID is an optional external ID for AssumeRole operations.
	ExternalID string

	// SessionName is the name to use for AssumeRole sessions.
	// Defaults to "riusage" if not specified.
	SessionName string

	// Region is the default AWS region for API calls.
	Region string
}

// Instance represents a running EC2 instance.
type Instance struct {
	// InstanceID is the EC2 instance ID (e.g., "i-abc123def456")
	InstanceID string `json:"instanceId"`

	// InstanceType is the instance type (e.g., "m5.xlarge")
	InstanceType string `json:"instanceType"`

	// AvailabilityZone is the AZ where the instance is running
	AvailabilityZone string `json:"availabilityZone"`

	// Region is the AWS region
	Region string `json:"region,omitempty"`

	// Lifecycle is either "spot" or "on-demand"
	Lifecycle string `json:"lifecycle,omitempty"`

	// State is the current instance state (e.g., "running")
	State string `json:"state,omitempty"`

	// LaunchTime is when the instance was launched
	LaunchTime time.Time `json:"launchTime,omitempty"`

	// AccountID is the AWS account that owns this instance
	AccountID string `json:"accountId,omitempty"`

	// Tags are the EC2 instance tags
	Tags map[string]string `json:"tags,omitempty"`
}

// ReservedInstance represents an EC2 Reserved Instance purchase.
type ReservedInstance struct {
	// ReservedInstanceID is the unique identifier
	ReservedInstanceID string `json:"reservedInstanceId"`

	// InstanceType is the instance type this RI covers
	InstanceType string `json:"instanceType"`

	// Scope is "Region" or "Availability Zone"
	Scope string `json:"scope,omitempty"`

	// AvailabilityZone is the AZ for zonal RIs, empty for regional ones
	AvailabilityZone string `json:"availabilityZone,omitempty"`

	// Region is the AWS region
	Region string `json:"region,omitempty"`

	// InstanceCount is the number of instances this RI covers
	InstanceCount int32 `json:"instanceCount"`

	// State is the RI state (e.g., "active", "retired")
	State string `json:"state,omitempty"`

	// Start is when the RI started
	Start time.Time `json:"start,omitempty"`

	// End is when the RI expires
	End time.Time `json:"end,omitempty"`

	// OfferingClass is "standard" or "convertible"
	OfferingClass string `json:"offeringClass"`

	// OfferingType is the payment option ("All Upfront", "Partial Upfront", "No Upfront")
	OfferingType string `json:"offeringType,omitempty"`

	// AccountID is the AWS account that owns this RI
	AccountID string `json:"accountId,omitempty"`
}

// IsRegional reports whether the reservation applies to any zone in its region.
func (ri ReservedInstance) IsRegional() bool {
	return ri.Scope == ScopeRegion || (ri.Scope == "" && ri.AvailabilityZone == "")
}
