// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package output renders execution results into the Checkmk piggyback local
// check format.
package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pitkley/watchpost/pkg/result"
)

// Write streams the results to w, grouped by piggyback host in first-seen
// order. Every group is wrapped in piggyback framing except the no-piggyback
// sentinel, whose services are attached to the agent host itself.
func Write(w io.Writer, results []result.ExecutionResult) error {
	var hosts []string
	grouped := make(map[string][]result.ExecutionResult)
	for _, r := range results {
		if _, seen := grouped[r.PiggybackHost]; !seen {
			hosts = append(hosts, r.PiggybackHost)
		}
		grouped[r.PiggybackHost] = append(grouped[r.PiggybackHost], r)
	}

	for _, host := range hosts {
		if err := writeHost(w, host, grouped[host]); err != nil {
			return err
		}
	}
	return nil
}

// Render is Write into a string.
func Render(results []result.ExecutionResult) (string, error) {
	var sb strings.Builder
	if err := Write(&sb, results); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeHost(w io.Writer, host string, results []result.ExecutionResult) error {
	framed := host != result.NoPiggybackHost
	if framed {
		if _, err := fmt.Fprintf(w, "<<<<%s>>>>\n", host); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "<<<local:sep(0)>>>\n"); err != nil {
		return err
	}
	for _, r := range results {
		if _, err := io.WriteString(w, serviceLine(r)); err != nil {
			return err
		}
	}
	if framed {
		if _, err := io.WriteString(w, "<<<<>>>>\n"); err != nil {
			return err
		}
	}
	return nil
}

// serviceLine renders one service status line. Checkmk's local check format
// is line-oriented; newlines inside the details block are carried as the
// two-character escape \n, which the agent folds back into the long output.
func serviceLine(r result.ExecutionResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %q %s %s", int(r.State), r.ServiceName, renderMetrics(r.Metrics), r.Summary)
	if r.Details != "" {
		sb.WriteString(`\n`)
		sb.WriteString(strings.ReplaceAll(r.Details, "\n", `\n`))
	}
	sb.WriteString("\n")
	return sb.String()
}

// renderMetrics renders the perfdata section, "-" when there are no metrics.
func renderMetrics(metrics []result.Metric) string {
	if len(metrics) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		var sb strings.Builder
		sb.WriteString(m.Name)
		sb.WriteString("=")
		sb.WriteString(formatValue(m.Value))
		sb.WriteString(m.Unit)
		if m.Levels != nil {
			sb.WriteString(";")
			sb.WriteString(formatValue(m.Levels.Warn))
			sb.WriteString(";")
			sb.WriteString(formatValue(m.Levels.Crit))
			if m.Boundaries != nil {
				sb.WriteString(";")
				sb.WriteString(formatValue(m.Boundaries.Min))
				sb.WriteString(";")
				sb.WriteString(formatValue(m.Boundaries.Max))
			}
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "|")
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
