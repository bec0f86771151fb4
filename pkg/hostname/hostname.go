// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package hostname renders and sanitizes the piggyback hostnames attached to
// emitted results.
package hostname

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Context carries the values a hostname strategy may interpolate.
type Context struct {
	CheckID         string
	ServiceName     string
	EnvironmentName string
	Metadata        map[string]string
}

// Strategy produces a hostname for one result.
type Strategy interface {
	Hostname(ctx Context) (string, error)
}

type static string

// Static returns a strategy that always yields the given hostname.
func Static(hostname string) Strategy { return static(hostname) }

func (s static) Hostname(Context) (string, error) { return string(s), nil }

type template string

// Template returns a strategy that renders "{placeholder}" markers from the
// context: service_name, environment_name, check_id and every metadata key.
func Template(tmpl string) Strategy { return template(tmpl) }

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_.-]+)\}`)

func (t template) Hostname(ctx Context) (string, error) {
	values := map[string]string{
		"service_name":     ctx.ServiceName,
		"environment_name": ctx.EnvironmentName,
		"check_id":         ctx.CheckID,
	}
	for k, v := range ctx.Metadata {
		values[k] = v
	}

	var unknown []string
	rendered := placeholderRe.ReplaceAllStringFunc(string(t), func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := values[key]; ok {
			return v
		}
		unknown = append(unknown, key)
		return match
	})
	if len(unknown) > 0 {
		return "", fmt.Errorf("hostname template %q references unknown placeholder(s): %s", string(t), strings.Join(unknown, ", "))
	}
	return rendered, nil
}

type funcStrategy func(ctx Context) (string, error)

// Func wraps a callable as a strategy.
func Func(fn func(ctx Context) (string, error)) Strategy { return funcStrategy(fn) }

func (f funcStrategy) Hostname(ctx Context) (string, error) { return f(ctx) }

const (
	maxLabelLength    = 63
	maxHostnameLength = 253
)

// Coerce forces a hostname into RFC 1123 shape: lowercased, Unicode folded
// to ASCII, characters outside [a-z0-9-.] replaced with dashes, labels
// stripped of leading/trailing dashes and clamped to 63 characters, empty
// labels collapsed, total length clamped to 253. Coerce is idempotent; the
// result may be empty when nothing survives.
func Coerce(hostname string) string {
	lowered := strings.ToLower(hostname)

	// NFKD + strip combining marks folds accented characters to ASCII.
	decomposed := norm.NFKD.String(lowered)
	var ascii strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r > unicode.MaxASCII {
			ascii.WriteRune('-')
			continue
		}
		ascii.WriteRune(r)
	}

	var safe strings.Builder
	for _, r := range ascii.String() {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			safe.WriteRune(r)
		default:
			safe.WriteRune('-')
		}
	}

	var labels []string
	for _, label := range strings.Split(safe.String(), ".") {
		label = strings.Trim(label, "-")
		if label == "" {
			continue
		}
		if len(label) > maxLabelLength {
			label = strings.Trim(label[:maxLabelLength], "-")
			if label == "" {
				continue
			}
		}
		labels = append(labels, label)
	}

	coerced := strings.Join(labels, ".")
	if len(coerced) > maxHostnameLength {
		coerced = coerced[:maxHostnameLength]
		coerced = strings.TrimRight(coerced, "-.")
	}
	return coerced
}
