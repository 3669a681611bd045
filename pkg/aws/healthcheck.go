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
	"fmt"
	"net/http"

	"github.com/nextdoor/riusage/pkg/config"
)

// AccountConfigFor converts a configured account into client settings.
// An account without its own region uses defaultRegion.
func AccountConfigFor(account config.AWSAccount, defaultRegion string) AccountConfig {
	region := account.Region
	if region == "" {
		region = defaultRegion
	}
	return AccountConfig{
		AccountID:     account.AccountID,
		Name:          account.Name,
		AssumeRoleARN: account.AssumeRoleARN,
		ExternalID:    account.ExternalID,
		Region:        region,
	}
}

// HealthChecker validates every configured account on each call. It
// implements the controller-runtime healthz.Checker signature.
//
// It makes AWS calls on every probe; prefer CredentialMonitor for
// frequently polled endpoints.
type HealthChecker struct {
	validator     Validator
	accounts      []config.AWSAccount
	defaultRegion string
}

// NewHealthChecker creates a new health checker that validates access to
// the provided AWS accounts using the given validator.
func NewHealthChecker(validator Validator, accounts []config.AWSAccount, defaultRegion string) *HealthChecker {
	return &HealthChecker{
		validator:     validator,
		accounts:      accounts,
		defaultRegion: defaultRegion,
	}
}

// Name returns the name of this health checker for logging purposes.
func (h *HealthChecker) Name() string {
	return "aws-account-access"
}

// Check returns nil if all accounts are accessible. Failures are collected
// across all accounts so the error names every broken one.
func (h *HealthChecker) Check(req *http.Request) error {
	ctx := req.Context()

	if len(h.accounts) == 0 {
		return nil
	}

	var failedAccounts []string
	for _, account := range h.accounts {
		if err := h.validator.ValidateAccountAccess(ctx, AccountConfigFor(account, h.defaultRegion)); err != nil {
			failedAccounts = append(failedAccounts, fmt.Sprintf("%s (%s): %v",
				account.Name, account.AccountID, err))
		}
	}

	if len(failedAccounts) > 0 {
		return fmt.Errorf("failed to validate access to %d/%d AWS accounts: %v",
			len(failedAccounts), len(h.accounts), failedAccounts)
	}

	return nil
}
