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

// Package report renders reservation usage summaries for humans and
// machines: an aligned plain-text table, JSON, and a Slack-friendly variant
// of the table.
package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nextdoor/riusage/pkg/usage"
)

// Format is an output representation of a summary.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatSlack Format = "slack"
)

// Content types served for each format.
const (
	ContentTypeText = "text/plain; charset=UTF-8"
	ContentTypeJSON = "application/json"
)

// columnWidth is the width every numeric column is right-aligned to.
const columnWidth = 10

var columns = []string{"on demand", "spot", "emr", "reserved", "unreserved", "surplus"}

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatSlack:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or slack)", s)
	}
}

// Negotiate picks the response format for an HTTP request. Slack's
// slash-command bot always gets the Slack variant; otherwise JSON is served
// when the Accept header asks for it.
func Negotiate(accept, userAgent string) Format {
	if strings.Contains(userAgent, "Slackbot") {
		return FormatSlack
	}
	if strings.Contains(accept, "application/json") {
		return FormatJSON
	}
	return FormatText
}

// ContentType returns the Content-Type header value for f.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return ContentTypeJSON
	}
	return ContentTypeText
}

// Render formats rows as f.
func Render(f Format, rows []usage.SummaryRow) ([]byte, error) {
	switch f {
	case FormatJSON:
		return JSON(rows)
	case FormatSlack:
		return []byte(Slack(rows)), nil
	default:
		return []byte(PlainText(rows)), nil
	}
}

// PlainText renders rows as a fixed-width table with a header line. Each
// line starts with the family name followed by right-aligned columns.
func PlainText(rows []usage.SummaryRow) string {
	familyWidth := 0
	for _, row := range rows {
		familyWidth = max(familyWidth, len(row.Family))
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", familyWidth+1))
	for _, c := range columns {
		fmt.Fprintf(&b, " %*s", columnWidth, c)
	}
	b.WriteString("\n")

	for _, row := range rows {
		fmt.Fprintf(&b, "%-*s ", familyWidth, row.Family)
		for _, v := range []float64{row.OnDemand, row.Spot, row.ManagedCluster, row.Reserved, row.Unreserved, row.Surplus} {
			fmt.Fprintf(&b, " %*s", columnWidth, formatUnits(v))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Slack wraps the plain-text table in a code block so Slack keeps the
// alignment.
func Slack(rows []usage.SummaryRow) string {
	return "```\n" + PlainText(rows) + "```\n"
}

// JSON renders rows as a JSON array. An empty summary is "[]", not "null".
func JSON(rows []usage.SummaryRow) ([]byte, error) {
	if rows == nil {
		rows = []usage.SummaryRow{}
	}
	return json.Marshal(rows)
}

// formatUnits prints units without trailing zeros, so 4 is "4" and a
// nano instance is "0.25".
func formatUnits(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
