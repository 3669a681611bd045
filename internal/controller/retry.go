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

package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/riusage/pkg/usage"
)

// RetryConfig configures RetryWithBackoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of attempts (default: 10)
	MaxRetries int

	// InitialDelay is the wait after the first failure (default: 5s)
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts (default: 60s)
	MaxDelay time.Duration

	// Multiplier grows the wait after each failure (default: 2.0)
	Multiplier float64
}

// DefaultRetryConfig returns the retry settings used for startup loads.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   10,
		InitialDelay: 5 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// next returns the wait that follows delay.
func (c RetryConfig) next(delay time.Duration) time.Duration {
	grown := time.Duration(float64(delay) * c.Multiplier)
	if grown > c.MaxDelay {
		return c.MaxDelay
	}
	return grown
}

// isPermanent reports whether retrying err cannot help. Inventory that
// fails to normalize fails the same way until the inventory changes.
func isPermanent(err error) bool {
	return errors.Is(err, usage.ErrInvalidSizeLabel) || errors.Is(err, usage.ErrCapacityUnderflow)
}

// RetryWithBackoff runs operation until it succeeds, returns a permanent
// error, runs MaxRetries times, or ctx is done.
//
//	err := RetryWithBackoff(ctx, DefaultRetryConfig(), log, "initial load", func() error {
//	    return reconciler.refreshAll(ctx)
//	})
func RetryWithBackoff(
	ctx context.Context,
	config RetryConfig,
	log logr.Logger,
	operationName string,
	operation func() error,
) error {
	delay := config.InitialDelay
	var err error

	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		if err = operation(); err == nil {
			if attempt > 1 {
				log.Info("operation succeeded after retries",
					"operation", operationName,
					"attempts", attempt)
			}
			return nil
		}

		if isPermanent(err) {
			return fmt.Errorf("%s failed permanently: %w", operationName, err)
		}
		if attempt == config.MaxRetries {
			break
		}

		log.Error(err, "operation failed",
			"operation", operationName,
			"attempt", attempt,
			"max_retries", config.MaxRetries,
			"next_retry_delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			delay = config.next(delay)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, config.MaxRetries, err)
}
