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

// Package config provides configuration management for the riusage service.
//
// The service requires configuration for:
//   - AWS accounts whose instances and reservations are reconciled
//   - IAM roles to assume in each account
//   - Refresh intervals, cache TTLs and the HTTP report endpoint
//
// Configuration can be loaded from YAML files or environment variables.
// Uses Viper for robust configuration management with automatic env binding.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete service configuration.
type Config struct {
	// AWSAccounts is the list of AWS accounts to reconcile.
	// Reservations and instances from every account are pooled per region.
	// If empty, a single account reached through the default credential
	// chain is used.
	AWSAccounts []AWSAccount `yaml:"awsAccounts,omitempty"`

	// DefaultRegion is the region reported on when a request names none.
	// Default: us-west-2
	DefaultRegion string `yaml:"defaultRegion,omitempty"`

	// Regions is the list of AWS regions reconciled on every refresh and
	// published as metrics. If empty, defaults to DefaultRegions.
	Regions []string `yaml:"regions,omitempty"`

	// LogLevel controls the verbosity of logs.
	// Valid values: debug, info, warn, error
	// Default: info
	LogLevel string `yaml:"logLevel,omitempty"`

	// MetricsBindAddress is the address the metrics endpoint binds to.
	// Default: :8080
	MetricsBindAddress string `yaml:"metricsBindAddress,omitempty"`

	// HealthProbeBindAddress is the address the health probe endpoint binds to.
	// Default: :8081
	HealthProbeBindAddress string `yaml:"healthProbeBindAddress,omitempty"`

	// AccountValidationInterval is how often to validate AWS account access.
	// Format: Go duration string (e.g., "5m", "10m")
	// Default: 10m
	AccountValidationInterval string `yaml:"accountValidationInterval,omitempty"`

	// Reconciliation contains settings for the periodic refresh loop.
	Reconciliation ReconciliationConfig `yaml:"reconciliation,omitempty"`

	// Cache controls how long raw EC2 inventory is reused between reports.
	Cache CacheConfig `yaml:"cache,omitempty"`

	// ManagedClusterTags lists instance tag keys that mark an instance as
	// part of a managed cluster (EMR). The presence of the key is enough.
	// Default: ["aws:elasticmapreduce:job-flow-id"]
	ManagedClusterTags []string `yaml:"managedClusterTags,omitempty"`

	// Server configures the HTTP report endpoint.
	Server ServerConfig `yaml:"server,omitempty"`

	// SnapshotFile, when set, replaces the AWS API with a saved inventory
	// file. Used for offline audits and end-to-end tests.
	SnapshotFile string `yaml:"snapshotFile,omitempty"`
}

// ReconciliationConfig contains settings for reconciliation intervals.
type ReconciliationConfig struct {
	// Interval is how often usage is recomputed for metrics.
	// Format: Go duration string (e.g., "5m", "1m")
	// Default: 5m
	Interval string `yaml:"interval,omitempty"`
}

// CacheConfig contains inventory cache TTLs.
type CacheConfig struct {
	// InstancesTTL is how long a region's running instance list is reused.
	// Default: 5m
	InstancesTTL string `yaml:"instancesTTL,omitempty"`

	// ReservationsTTL is how long a region's reservation list is reused.
	// Reservations change rarely.
	// Default: 1h
	ReservationsTTL string `yaml:"reservationsTTL,omitempty"`
}

// ServerConfig configures the HTTP report endpoint.
type ServerConfig struct {
	// BindAddress is the address the report API binds to. "0" disables it.
	// Default: :8090
	BindAddress string `yaml:"bindAddress,omitempty"`

	// VerificationToken, when set, must be supplied by callers in the
	// "token" parameter (this is how Slack slash commands authenticate).
	VerificationToken string `yaml:"verificationToken,omitempty"`
}

// AWSAccount represents a single AWS account to reconcile.
type AWSAccount struct {
	// AccountID is the 12-digit AWS account ID.
	AccountID string `yaml:"accountId"`

	// Name is a human-readable name for the account.
	// Used in logs and metrics labels.
	Name string `yaml:"name"`

	// AssumeRoleARN is the IAM role ARN to assume for accessing this account.
	// Format: arn:aws:iam::ACCOUNT_ID:role/ROLE_NAME
	// If empty, the default credential chain is used.
	AssumeRoleARN string `yaml:"assumeRoleArn,omitempty"`

	// ExternalID is passed to AssumeRole when set.
	ExternalID string `yaml:"externalId,omitempty"`

	// Region is the AWS region for this account (optional).
	// If not set, uses the default region from Config.DefaultRegion.
	Region string `yaml:"region,omitempty"`
}

// Load loads configuration from a YAML file and validates it.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RIUSAGE_* prefix)
//  2. Configuration file values
//  3. Default values
//
// For example:
//   - RIUSAGE_DEFAULT_REGION overrides defaultRegion
//   - RIUSAGE_LOG_LEVEL overrides logLevel
//   - RIUSAGE_SERVER_VERIFICATION_TOKEN overrides server.verificationToken
//
// Nested list fields like awsAccounts[0].accountId are not overridable via env vars.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return unmarshal(v, path)
}

// LoadDefaults builds a configuration from defaults and environment
// variables only, for running without a config file.
func LoadDefaults() (*Config, error) {
	return unmarshal(newViper(), "defaults")
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("defaultRegion", DefaultRegion)
	v.SetDefault("logLevel", "info")
	v.SetDefault("metricsBindAddress", ":8080")
	v.SetDefault("healthProbeBindAddress", ":8081")
	v.SetDefault("accountValidationInterval", "10m")
	v.SetDefault("reconciliation.interval", "5m")
	v.SetDefault("cache.instancesTTL", "5m")
	v.SetDefault("cache.reservationsTTL", "1h")
	v.SetDefault("managedClusterTags", DefaultManagedClusterTags)
	v.SetDefault("server.bindAddress", ":8090")

	// Viper's automatic mapping doesn't handle camelCase to
	// SCREAMING_SNAKE_CASE, so every key is bound explicitly.
	v.SetEnvPrefix("RIUSAGE")
	_ = v.BindEnv("defaultRegion", "RIUSAGE_DEFAULT_REGION")
	_ = v.BindEnv("logLevel", "RIUSAGE_LOG_LEVEL")
	_ = v.BindEnv("metricsBindAddress", "RIUSAGE_METRICS_BIND_ADDRESS")
	_ = v.BindEnv("healthProbeBindAddress", "RIUSAGE_HEALTH_PROBE_BIND_ADDRESS")
	_ = v.BindEnv("accountValidationInterval", "RIUSAGE_ACCOUNT_VALIDATION_INTERVAL")
	_ = v.BindEnv("reconciliation.interval", "RIUSAGE_RECONCILIATION_INTERVAL")
	_ = v.BindEnv("cache.instancesTTL", "RIUSAGE_CACHE_INSTANCES_TTL")
	_ = v.BindEnv("cache.reservationsTTL", "RIUSAGE_CACHE_RESERVATIONS_TTL")
	_ = v.BindEnv("server.bindAddress", "RIUSAGE_SERVER_BIND_ADDRESS")
	_ = v.BindEnv("server.verificationToken", "RIUSAGE_SERVER_VERIFICATION_TOKEN")
	_ = v.BindEnv("snapshotFile", "RIUSAGE_SNAPSHOT_FILE")

	return v
}

func unmarshal(v *viper.Viper, source string) (*Config, error) {
	var cfg Config
	// coverage:ignore - Viper unmarshal errors are extremely rare and difficult to trigger
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", source, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	accountIDs := make(map[string]bool)
	for i, account := range c.AWSAccounts {
		if accountIDs[account.AccountID] {
			return fmt.Errorf("duplicate account ID: %s", account.AccountID)
		}
		accountIDs[account.AccountID] = true

		if err := account.Validate(); err != nil {
			return fmt.Errorf("invalid account at index %d: %w", i, err)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}

	durations := []struct {
		name  string
		value string
	}{
		{"account validation interval", c.AccountValidationInterval},
		{"reconciliation interval", c.Reconciliation.Interval},
		{"instances cache TTL", c.Cache.InstancesTTL},
		{"reservations cache TTL", c.Cache.ReservationsTTL},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		if parsed < 0 {
			return fmt.Errorf("invalid %s %q: must not be negative", d.name, d.value)
		}
	}

	for _, tag := range c.ManagedClusterTags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("managed cluster tag keys must not be empty")
		}
	}

	return nil
}

// Validate checks that the AWS account configuration is valid.
func (a *AWSAccount) Validate() error {
	if !isValidAccountID(a.AccountID) {
		return fmt.Errorf("invalid account ID %q: must be 12 digits", a.AccountID)
	}

	// Name is required for logs and metrics
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("account name is required")
	}

	if a.AssumeRoleARN == "" {
		return nil
	}

	if !isValidIAMRoleARN(a.AssumeRoleARN) {
		return fmt.Errorf(
			"invalid AssumeRole ARN %q: must be in format arn:aws:iam::ACCOUNT_ID:role/ROLE_NAME",
			a.AssumeRoleARN,
		)
	}

	arnAccountID := extractAccountIDFromARN(a.AssumeRoleARN)
	if arnAccountID != a.AccountID {
		return fmt.Errorf("AssumeRole ARN account ID %q does not match configured account ID %q", arnAccountID, a.AccountID)
	}

	return nil
}

var (
	accountIDPattern = regexp.MustCompile(`^\d{12}$`)

	// Partition can be "aws", "aws-us-gov" or "aws-cn".
	roleARNPattern = regexp.MustCompile(`^arn:(aws|aws-us-gov|aws-cn):iam::\d{12}:role/[a-zA-Z0-9+=,.@\-_/]+$`)
)

// isValidAccountID checks if a string is a valid 12-digit AWS account ID.
func isValidAccountID(accountID string) bool {
	return accountIDPattern.MatchString(accountID)
}

// isValidIAMRoleARN checks if a string is a valid IAM role ARN.
// Valid format: arn:aws:iam::123456789012:role/RoleName
func isValidIAMRoleARN(arn string) bool {
	return roleARNPattern.MatchString(arn)
}

// extractAccountIDFromARN extracts the account ID from an IAM role ARN.
// Returns empty string if the ARN is invalid.
func extractAccountIDFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) >= 5 {
		return parts[4]
	}
	return ""
}

// parseDuration returns the parsed value or fallback when unset.
// Validate has already rejected malformed values.
func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// GetAccountValidationInterval returns the parsed account validation interval.
func (c *Config) GetAccountValidationInterval() time.Duration {
	return parseDuration(c.AccountValidationInterval, 10*time.Minute)
}

// GetReconciliationInterval returns how often usage is recomputed.
func (c *Config) GetReconciliationInterval() time.Duration {
	return parseDuration(c.Reconciliation.Interval, DefaultReconciliationInterval)
}

// GetInstancesTTL returns the running-instance cache TTL.
func (c *Config) GetInstancesTTL() time.Duration {
	return parseDuration(c.Cache.InstancesTTL, DefaultInstancesTTL)
}

// GetReservationsTTL returns the reservation cache TTL.
func (c *Config) GetReservationsTTL() time.Duration {
	return parseDuration(c.Cache.ReservationsTTL, DefaultReservationsTTL)
}

// GetDefaultRegion returns the region used when a request names none.
func (c *Config) GetDefaultRegion() string {
	if c.DefaultRegion != "" {
		return c.DefaultRegion
	}
	return DefaultRegion
}

// GetRegions returns the regions reconciled on every refresh.
func (c *Config) GetRegions() []string {
	if len(c.Regions) > 0 {
		return c.Regions
	}
	return DefaultRegions
}

// ResolveRegion matches region case-insensitively against the reconciled
// regions and the default region, and returns the configured spelling.
// The second result is false for regions this service doesn't cover.
func (c *Config) ResolveRegion(region string) (string, bool) {
	region = strings.TrimSpace(region)
	for _, known := range append([]string{c.GetDefaultRegion()}, c.GetRegions()...) {
		if strings.EqualFold(known, region) {
			return known, true
		}
	}
	return "", false
}

// GetManagedClusterTags returns the tag keys marking managed-cluster instances.
func (c *Config) GetManagedClusterTags() []string {
	if len(c.ManagedClusterTags) > 0 {
		return c.ManagedClusterTags
	}
	return DefaultManagedClusterTags
}

// GetAccounts returns the accounts to query. With no accounts configured it
// returns a single unnamed account using the default credential chain.
func (c *Config) GetAccounts() []AWSAccount {
	if len(c.AWSAccounts) > 0 {
		return c.AWSAccounts
	}
	return []AWSAccount{{Name: "default"}}
}
