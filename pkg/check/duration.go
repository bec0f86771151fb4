// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package check

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var durationRe = regexp.MustCompile(`^(\d+)(s|m|h|d)$`)

// ParseDuration parses the duration strings accepted in check metadata:
// "<n>s", "<n>m", "<n>h", "<n>d", or the literal "none" for no caching.
// Anything else is a configuration error.
func ParseDuration(spec string) (time.Duration, error) {
	if spec == "none" {
		return 0, nil
	}

	m := durationRe.FindStringSubmatch(spec)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: expected <number>(s|m|h|d) or \"none\"", spec)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", spec, err)
	}

	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid duration unit %q", m[2])
	}
}
