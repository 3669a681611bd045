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

package config

import "time"

// DefaultRegions is the fallback list of AWS regions reconciled when no
// regions are explicitly configured.
var DefaultRegions = []string{"us-west-2", "us-east-1"}

// DefaultManagedClusterTags marks EMR-owned instances.
var DefaultManagedClusterTags = []string{"aws:elasticmapreduce:job-flow-id"}

// DefaultRegion is reported on when a request names no region.
const DefaultRegion = "us-west-2"

const (
	// DefaultReconciliationInterval is how often metrics are refreshed.
	DefaultReconciliationInterval = 5 * time.Minute

	// DefaultInstancesTTL is the running-instance cache TTL.
	DefaultInstancesTTL = 5 * time.Minute

	// DefaultReservationsTTL is the reservation cache TTL.
	DefaultReservationsTTL = time.Hour
)
