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
)

// Client is the main interface for reading inventory from AWS.
// It hands out per-account EC2 clients with built-in support for
// cross-account AssumeRole operations.
type Client interface {
	// EC2 returns an EC2Client for the specified account configuration.
	// If accountConfig.AssumeRoleARN is set, it will assume that role.
	// Otherwise, it uses the default credential chain.
	EC2(ctx context.Context, accountConfig AccountConfig) (EC2Client, error)
}

// EC2Client provides the EC2 API operations needed for reservation matching.
type EC2Client interface {
	// DescribeInstances returns all running EC2 instances in the specified regions.
	// If regions is empty, queries the client's own region.
	DescribeInstances(ctx context.Context, regions []string) ([]Instance, error)

	// DescribeReservedInstances returns all active Reserved Instances in the specified regions.
	// If regions is empty, queries the client's own region.
	DescribeReservedInstances(ctx context.Context, regions []string) ([]ReservedInstance, error)
}

// ClientConfig configures the AWS client creation.
type ClientConfig struct {
	// DefaultRegion is the default AWS region for API calls
	DefaultRegion string

	// MaxRetries is the maximum number of attempts the SDK makes per API call.
	// Zero keeps the SDK default.
	MaxRetries int

	// EndpointURL overrides the AWS endpoint for every service.
	// Only used for testing against LocalStack.
	EndpointURL string
}

// NewClient creates a new AWS client with the specified configuration.
// The client handles credential management, AssumeRole operations and
// retries automatically.
func NewClient(ctx context.Context, config ClientConfig) (Client, error) {
	return NewRealClient(ctx, config)
}
