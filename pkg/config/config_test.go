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

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty config file uses the default credential chain",
			yaml:    ``,
			wantErr: false,
		},
		{
			name: "valid minimal config",
			yaml: `awsAccounts:
  - accountId: "123456789012"
    name: "Test Account"
    assumeRoleArn: "arn:aws:iam::123456789012:role/test-role"`,
			wantErr: false,
		},
		{
			name: "account without role uses default credentials",
			yaml: `awsAccounts:
  - accountId: "123456789012"
    name: "Local"`,
			wantErr: false,
		},
		{
			name: "valid config with multiple accounts",
			yaml: `awsAccounts:
  - accountId: "123456789012"
    name: "Production"
    assumeRoleArn: "arn:aws:iam::123456789012:role/riusage-reader"
  - accountId: "987654321098"
    name: "Staging"
    assumeRoleArn: "arn:aws:iam::987654321098:role/riusage-reader"
    externalId: "shared-secret"
defaultRegion: us-east-1
regions: [us-east-1, eu-west-1]
logLevel: debug`,
			wantErr: false,
		},
		{
			name: "valid config with optional fields",
			yaml: `defaultRegion: us-west-2
logLevel: info
metricsBindAddress: ":9090"
healthProbeBindAddress: ":9091"
accountValidationInterval: "10m"
reconciliation:
  interval: "1m"
cache:
  instancesTTL: "30s"
  reservationsTTL: "2h"
managedClusterTags: ["aws:elasticmapreduce:job-flow-id", "team"]
server:
  bindAddress: ":9000"
  verificationToken: "abc"
snapshotFile: /tmp/inventory.yaml`,
			wantErr: false,
		},
		{
			name: "invalid account ID - too short",
			yaml: `awsAccounts:
  - accountId: "12345"
    name: "Test"`,
			wantErr: true,
			errMsg:  "must be 12 digits",
		},
		{
			name: "missing account name",
			yaml: `awsAccounts:
  - accountId: "123456789012"
    assumeRoleArn: "arn:aws:iam::123456789012:role/test-role"`,
			wantErr: true,
			errMsg:  "account name is required",
		},
		{
			name: "invalid role ARN",
			yaml: `awsAccounts:
  - accountId: "123456789012"
    name: "Test"
    assumeRoleArn: "not-an-arn"`,
			wantErr: true,
			errMsg:  "invalid AssumeRole ARN",
		},
		{
			name: "role ARN for another account",
			yaml: `awsAccounts:
  - accountId: "123456789012"
    name: "Test"
    assumeRoleArn: "arn:aws:iam::999999999999:role/test-role"`,
			wantErr: true,
			errMsg:  "does not match configured account ID",
		},
		{
			name: "duplicate account IDs",
			yaml: `awsAccounts:
  - accountId: "123456789012"
    name: "One"
  - accountId: "123456789012"
    name: "Two"`,
			wantErr: true,
			errMsg:  "duplicate account ID",
		},
		{
			name:    "invalid log level",
			yaml:    `logLevel: verbose`,
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name: "invalid reconciliation interval",
			yaml: `reconciliation:
  interval: "soon"`,
			wantErr: true,
			errMsg:  "invalid reconciliation interval",
		},
		{
			name: "negative cache TTL",
			yaml: `cache:
  instancesTTL: "-5m"`,
			wantErr: true,
			errMsg:  "must not be negative",
		},
		{
			name:    "blank managed cluster tag",
			yaml:    `managedClusterTags: [" "]`,
			wantErr: true,
			errMsg:  "managed cluster tag keys must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))

			if tt.wantErr {
				if err == nil {
					t.Errorf("Load() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Errorf("Load() unexpected error: %v", err)
				return
			}
			if cfg == nil {
				t.Error("Load() returned nil config")
			}
		})
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for nonexistent file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Load() error = %q, want error containing 'failed to read config file'", err.Error())
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `awsAccounts:
  - accountId: "123456789012"
    name: "Test"`))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.DefaultRegion != "us-west-2" {
		t.Errorf("DefaultRegion = %q, want 'us-west-2'", cfg.DefaultRegion)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want 'info'", cfg.LogLevel)
	}
	if cfg.MetricsBindAddress != ":8080" {
		t.Errorf("MetricsBindAddress = %q, want ':8080'", cfg.MetricsBindAddress)
	}
	if cfg.HealthProbeBindAddress != ":8081" {
		t.Errorf("HealthProbeBindAddress = %q, want ':8081'", cfg.HealthProbeBindAddress)
	}
	if cfg.Server.BindAddress != ":8090" {
		t.Errorf("Server.BindAddress = %q, want ':8090'", cfg.Server.BindAddress)
	}
	if got := cfg.GetAccountValidationInterval(); got != 10*time.Minute {
		t.Errorf("GetAccountValidationInterval() = %v, want 10m", got)
	}
	if got := cfg.GetReconciliationInterval(); got != 5*time.Minute {
		t.Errorf("GetReconciliationInterval() = %v, want 5m", got)
	}
	if got := cfg.GetInstancesTTL(); got != 5*time.Minute {
		t.Errorf("GetInstancesTTL() = %v, want 5m", got)
	}
	if got := cfg.GetReservationsTTL(); got != time.Hour {
		t.Errorf("GetReservationsTTL() = %v, want 1h", got)
	}
	if got := cfg.GetManagedClusterTags(); len(got) != 1 || got[0] != "aws:elasticmapreduce:job-flow-id" {
		t.Errorf("GetManagedClusterTags() = %v, want EMR tag", got)
	}
	if got := cfg.GetRegions(); len(got) != len(DefaultRegions) {
		t.Errorf("GetRegions() = %v, want %v", got, DefaultRegions)
	}
	if got := (&Config{}).GetDefaultRegion(); got != DefaultRegion {
		t.Errorf("GetDefaultRegion() on empty config = %q, want %q", got, DefaultRegion)
	}
}

func TestEnvOverrides(t *testing.T) {
	configPath := writeConfig(t, `defaultRegion: us-west-2
logLevel: info
metricsBindAddress: ":8080"
server:
  verificationToken: "from-file"`)

	t.Setenv("RIUSAGE_DEFAULT_REGION", "eu-west-1")
	t.Setenv("RIUSAGE_LOG_LEVEL", "debug")
	t.Setenv("RIUSAGE_METRICS_BIND_ADDRESS", ":9090")
	t.Setenv("RIUSAGE_RECONCILIATION_INTERVAL", "2m")
	t.Setenv("RIUSAGE_CACHE_INSTANCES_TTL", "1m")
	t.Setenv("RIUSAGE_SERVER_VERIFICATION_TOKEN", "from-env")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.DefaultRegion != "eu-west-1" {
		t.Errorf("DefaultRegion = %q, want 'eu-west-1' (from env)", cfg.DefaultRegion)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want 'debug' (from env)", cfg.LogLevel)
	}
	if cfg.MetricsBindAddress != ":9090" {
		t.Errorf("MetricsBindAddress = %q, want ':9090' (from env)", cfg.MetricsBindAddress)
	}
	if got := cfg.GetReconciliationInterval(); got != 2*time.Minute {
		t.Errorf("GetReconciliationInterval() = %v, want 2m (from env)", got)
	}
	if got := cfg.GetInstancesTTL(); got != time.Minute {
		t.Errorf("GetInstancesTTL() = %v, want 1m (from env)", got)
	}
	if cfg.Server.VerificationToken != "from-env" {
		t.Errorf("Server.VerificationToken = %q, want 'from-env'", cfg.Server.VerificationToken)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RIUSAGE_DEFAULT_REGION", "ap-southeast-2")

	cfg, err := LoadDefaults()
	if err != nil {
		t.Fatalf("LoadDefaults() unexpected error: %v", err)
	}
	if cfg.DefaultRegion != "ap-southeast-2" {
		t.Errorf("DefaultRegion = %q, want 'ap-southeast-2'", cfg.DefaultRegion)
	}
	if got := cfg.GetAccounts(); len(got) != 1 || got[0].AccountID != "" {
		t.Errorf("GetAccounts() = %v, want a single default-credential account", got)
	}
}

func TestGetAccounts(t *testing.T) {
	cfg := &Config{AWSAccounts: []AWSAccount{
		{AccountID: "123456789012", Name: "a"},
		{AccountID: "987654321098", Name: "b"},
	}}
	got := cfg.GetAccounts()
	if len(got) != 2 || got[1].Name != "b" {
		t.Errorf("GetAccounts() = %v, want configured accounts in order", got)
	}
}

func TestResolveRegion(t *testing.T) {
	cfg := &Config{DefaultRegion: "eu-west-1", Regions: []string{"us-west-2", "us-east-1"}}

	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{input: "us-east-1", want: "us-east-1", wantOK: true},
		{input: " US-WEST-2 ", want: "us-west-2", wantOK: true},
		{input: "eu-west-1", want: "eu-west-1", wantOK: true},
		{input: "ap-south-1", wantOK: false},
		{input: "", wantOK: false},
		{input: "us-west-2; rm -rf /", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := cfg.ResolveRegion(tt.input)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ResolveRegion(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValidAccountID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"123456789012", true},
		{"12345678901", false},
		{"1234567890123", false},
		{"12345678901a", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isValidAccountID(tt.id); got != tt.want {
			t.Errorf("isValidAccountID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestValidIAMRoleARN(t *testing.T) {
	tests := []struct {
		arn  string
		want bool
	}{
		{"arn:aws:iam::123456789012:role/test-role", true},
		{"arn:aws-us-gov:iam::123456789012:role/test", true},
		{"arn:aws-cn:iam::123456789012:role/path/to/role", true},
		{"arn:aws:iam::123456789012:user/test", false},
		{"arn:aws:s3:::bucket", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isValidIAMRoleARN(tt.arn); got != tt.want {
			t.Errorf("isValidIAMRoleARN(%q) = %v, want %v", tt.arn, got, tt.want)
		}
	}
}

func TestExtractAccountIDFromARN(t *testing.T) {
	if got := extractAccountIDFromARN("arn:aws:iam::123456789012:role/test"); got != "123456789012" {
		t.Errorf("extractAccountIDFromARN() = %q, want '123456789012'", got)
	}
	if got := extractAccountIDFromARN("garbage"); got != "" {
		t.Errorf("extractAccountIDFromARN() = %q, want empty", got)
	}
}
