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

package usage

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidSizeLabel is matched by every *InvalidSizeLabelError.
var ErrInvalidSizeLabel = errors.New("invalid size label")

// InvalidSizeLabelError reports a size label that has no normalized value.
type InvalidSizeLabelError struct {
	// Label is the literal label that was rejected.
	Label string

	// Absent is true when the instance type carried no size at all.
	Absent bool
}

func (e *InvalidSizeLabelError) Error() string {
	if e.Absent {
		return "unsupported size: null"
	}
	return fmt.Sprintf("unsupported size: %q", e.Label)
}

// Is lets errors.Is(err, ErrInvalidSizeLabel) succeed.
func (e *InvalidSizeLabelError) Is(target error) bool {
	return target == ErrInvalidSizeLabel
}

// sizeUnits holds the fixed part of the size table. Sizes above xlarge are
// handled by multiplierPattern.
var sizeUnits = map[string]float64{
	"nano":   0.25,
	"micro":  0.5,
	"small":  1,
	"medium": 2,
	"large":  4,
	"xlarge": 8,
}

var multiplierPattern = regexp.MustCompile(`^(\d+)xlarge$`)

// NormalizeSize converts a size label such as "large" or "16xlarge" into
// normalized capacity units. "Nxlarge" is worth N times an xlarge.
func NormalizeSize(label string) (float64, error) {
	if units, ok := sizeUnits[label]; ok {
		return units, nil
	}

	m := multiplierPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, &InvalidSizeLabelError{Label: label}
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, &InvalidSizeLabelError{Label: label}
	}
	return sizeUnits["xlarge"] * float64(n), nil
}

// ParseInstanceType splits an instance type like "m5.2xlarge" into family and
// size. The family is everything before the first dot. A type with no dot
// has no size, which NormalizeInstanceType reports as an absent label.
func ParseInstanceType(instanceType string) (family, size string, hasSize bool) {
	family, size, hasSize = strings.Cut(instanceType, ".")
	return family, size, hasSize
}

// NormalizeInstanceType parses instanceType and normalizes its size.
func NormalizeInstanceType(instanceType string) (family, size string, units float64, err error) {
	family, size, ok := ParseInstanceType(instanceType)
	if !ok {
		return family, "", 0, &InvalidSizeLabelError{Absent: true}
	}
	units, err = NormalizeSize(size)
	if err != nil {
		return family, size, 0, err
	}
	return family, size, units, nil
}
