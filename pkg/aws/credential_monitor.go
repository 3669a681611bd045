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
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/riusage/pkg/config"
)

// ValidationRecorder receives the outcome of every credential check.
// *metrics.Metrics implements it.
type ValidationRecorder interface {
	RecordAccountValidation(accountID, accountName string, success bool, duration time.Duration)
}

// AccountStatus represents the health status of a single AWS account.
type AccountStatus struct {
	AccountID   string    // AWS account ID
	AccountName string    // Human-readable account name
	LastChecked time.Time // When the last check was performed
	LastError   error     // Error from the last check (nil if healthy)
	Healthy     bool      // Overall health status
}

// CredentialMonitor runs periodic background checks of AWS credentials
// and caches the results so readiness probes answer from memory.
//
// Probes only fail when every account is unhealthy; a partially degraded
// set of accounts keeps the service ready, though reports for the broken
// accounts' regions will fail until access is restored.
type CredentialMonitor struct {
	validator     Validator
	accounts      []config.AWSAccount
	defaultRegion string
	checkInterval time.Duration
	recorder      ValidationRecorder

	mu            sync.RWMutex
	accountStatus map[string]*AccountStatus // key: account name

	Log logr.Logger
}

// NewCredentialMonitor creates a new credential monitor. A zero
// checkInterval means 10 minutes. recorder may be nil.
//
// The monitor does not start automatically; call Start.
func NewCredentialMonitor(
	validator Validator,
	accounts []config.AWSAccount,
	defaultRegion string,
	checkInterval time.Duration,
	recorder ValidationRecorder,
	log logr.Logger,
) *CredentialMonitor {
	if checkInterval == 0 {
		checkInterval = 10 * time.Minute
	}

	return &CredentialMonitor{
		validator:     validator,
		accounts:      accounts,
		defaultRegion: defaultRegion,
		checkInterval: checkInterval,
		recorder:      recorder,
		accountStatus: make(map[string]*AccountStatus),
		Log:           log,
	}
}

// Start runs an initial check and then checks every interval until ctx is
// cancelled. It does not block.
func (m *CredentialMonitor) Start(ctx context.Context) {
	m.Log.Info("starting credential monitor",
		"accounts", len(m.accounts),
		"check_interval", m.checkInterval)

	go m.monitorLoop(ctx)
}

func (m *CredentialMonitor) monitorLoop(ctx context.Context) {
	m.CheckAllAccounts(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckAllAccounts(ctx)
		case <-ctx.Done():
			m.Log.Info("credential monitor stopped")
			return
		}
	}
}

// CheckAllAccounts validates every configured account and updates the
// cached status. Exported for tests.
func (m *CredentialMonitor) CheckAllAccounts(ctx context.Context) {
	m.Log.V(1).Info("running credential checks", "accounts", len(m.accounts))

	for _, account := range m.accounts {
		m.checkAccount(ctx, account)
	}
}

func (m *CredentialMonitor) checkAccount(ctx context.Context, account config.AWSAccount) {
	start := time.Now()
	err := m.validator.ValidateAccountAccess(ctx, AccountConfigFor(account, m.defaultRegion))
	duration := time.Since(start)

	if m.recorder != nil {
		m.recorder.RecordAccountValidation(account.AccountID, account.Name, err == nil, duration)
	}

	m.mu.Lock()
	m.accountStatus[account.Name] = &AccountStatus{
		AccountID:   account.AccountID,
		AccountName: account.Name,
		LastChecked: time.Now(),
		LastError:   err,
		Healthy:     err == nil,
	}
	m.mu.Unlock()

	if err != nil {
		m.Log.Error(err, "credential check failed",
			"account_id", account.AccountID,
			"account_name", account.Name,
			"duration", duration)
		return
	}
	m.Log.V(1).Info("credential check succeeded",
		"account_id", account.AccountID,
		"account_name", account.Name,
		"duration", duration)
}

// GetStatus returns an error only if every checked account is unhealthy.
// Accounts not yet checked are ignored.
func (m *CredentialMonitor) GetStatus() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.accounts) == 0 {
		return nil
	}

	var unhealthyAccounts []string
	var healthyCount int

	for _, account := range m.accounts {
		status, exists := m.accountStatus[account.Name]
		if !exists {
			continue
		}
		if status.Healthy {
			healthyCount++
			continue
		}
		unhealthyAccounts = append(unhealthyAccounts, fmt.Sprintf("%s (%s): %v",
			status.AccountName, status.AccountID, status.LastError))
	}

	if len(unhealthyAccounts) == 0 {
		return nil
	}
	if healthyCount == 0 {
		return fmt.Errorf("all %d AWS accounts are unhealthy: %v", len(unhealthyAccounts), unhealthyAccounts)
	}

	m.Log.Info("some AWS accounts are unhealthy (degraded operation)",
		"unhealthy_count", len(unhealthyAccounts),
		"healthy_count", healthyCount,
		"unhealthy_accounts", unhealthyAccounts)
	return nil
}

// Check adapts GetStatus to the healthz.Checker signature.
func (m *CredentialMonitor) Check(_ *http.Request) error {
	return m.GetStatus()
}

// GetAccountStatus returns a copy of the cached status for an account name,
// or nil if it hasn't been checked yet.
func (m *CredentialMonitor) GetAccountStatus(accountName string) *AccountStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.accountStatus[accountName]
	if !exists {
		return nil
	}
	statusCopy := *status
	return &statusCopy
}
