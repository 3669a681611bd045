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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// RealEC2Client is a production implementation of EC2Client that makes
// real API calls to AWS EC2 using the AWS SDK v2.
type RealEC2Client struct {
	client    *ec2.Client
	region    string
	accountID string
}

// NewRealEC2Client creates a new EC2 client from an SDK config whose
// credentials are already resolved for the target account.
func NewRealEC2Client(cfg aws.Config, accountID, endpointURL string) *RealEC2Client {
	client := ec2.NewFromConfig(cfg, func(o *ec2.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
	})
	return &RealEC2Client{
		client:    client,
		region:    cfg.Region,
		accountID: accountID,
	}
}

// regionsOrDefault falls back to the client's own region.
func (c *RealEC2Client) regionsOrDefault(regions []string) []string {
	if len(regions) == 0 {
		return []string{c.region}
	}
	return regions
}

// inRegion redirects a single call to region.
func inRegion(region string) func(*ec2.Options) {
	return func(o *ec2.Options) {
		o.Region = region
	}
}

// DescribeInstances returns all running EC2 instances in the specified regions,
// in the order EC2 returns them.
func (c *RealEC2Client) DescribeInstances(ctx context.Context, regions []string) ([]Instance, error) {
	var instances []Instance
	for _, region := range c.regionsOrDefault(regions) {
		paginator := ec2.NewDescribeInstancesPaginator(c.client, &ec2.DescribeInstancesInput{
			Filters: []types.Filter{{
				Name:   aws.String("instance-state-name"),
				Values: []string{string(types.InstanceStateNameRunning)},
			}},
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx, inRegion(region))
			if err != nil {
				return nil, fmt.Errorf("describe instances in %s: %w", region, err)
			}
			for _, reservation := range page.Reservations {
				for _, inst := range reservation.Instances {
					instances = append(instances, convertInstance(inst, region, c.accountID))
				}
			}
		}
	}
	return instances, nil
}

// DescribeReservedInstances returns all active Reserved Instances in the
// specified regions. The API is not paginated.
func (c *RealEC2Client) DescribeReservedInstances(ctx context.Context, regions []string) ([]ReservedInstance, error) {
	var reserved []ReservedInstance
	for _, region := range c.regionsOrDefault(regions) {
		out, err := c.client.DescribeReservedInstances(ctx, &ec2.DescribeReservedInstancesInput{
			Filters: []types.Filter{{
				Name:   aws.String("state"),
				Values: []string{string(types.ReservedInstanceStateActive)},
			}},
		}, inRegion(region))
		if err != nil {
			return nil, fmt.Errorf("describe reserved instances in %s: %w", region, err)
		}
		for _, ri := range out.ReservedInstances {
			reserved = append(reserved, convertReservedInstance(ri, region, c.accountID))
		}
	}
	return reserved, nil
}

// convertInstance converts an SDK instance into our Instance type.
// Nil pointers become zero values.
func convertInstance(inst types.Instance, region, accountID string) Instance {
	out := Instance{
		InstanceID:   aws.ToString(inst.InstanceId),
		InstanceType: string(inst.InstanceType),
		Region:       region,
		Lifecycle:    LifecycleOnDemand,
		AccountID:    accountID,
		LaunchTime:   aws.ToTime(inst.LaunchTime),
	}
	if inst.Placement != nil {
		out.AvailabilityZone = aws.ToString(inst.Placement.AvailabilityZone)
	}
	if inst.InstanceLifecycle == types.InstanceLifecycleTypeSpot {
		out.Lifecycle = LifecycleSpot
	}
	if inst.State != nil {
		out.State = string(inst.State.Name)
	}
	if len(inst.Tags) > 0 {
		out.Tags = make(map[string]string, len(inst.Tags))
		for _, tag := range inst.Tags {
			out.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
	}
	return out
}

// convertReservedInstance converts an SDK reservation into our
// ReservedInstance type. Regional reservations carry no zone.
func convertReservedInstance(ri types.ReservedInstances, region, accountID string) ReservedInstance {
	out := ReservedInstance{
		ReservedInstanceID: aws.ToString(ri.ReservedInstancesId),
		InstanceType:       string(ri.InstanceType),
		Scope:              string(ri.Scope),
		Region:             region,
		InstanceCount:      aws.ToInt32(ri.InstanceCount),
		State:              string(ri.State),
		Start:              aws.ToTime(ri.Start),
		End:                aws.ToTime(ri.End),
		OfferingClass:      string(ri.OfferingClass),
		OfferingType:       string(ri.OfferingType),
		AccountID:          accountID,
	}
	if ri.Scope != types.ScopeRegional {
		out.AvailabilityZone = aws.ToString(ri.AvailabilityZone)
	}
	return out
}
