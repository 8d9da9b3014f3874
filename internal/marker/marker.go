// Package marker detects importance tags in turn content so the recall
// pipeline can boost decisions, constraints, failures, and goals above
// ordinary chatter.
package marker

import (
	"regexp"
	"strings"
)

// Marker is an importance tag attached to a turn or fact.
type Marker string

const (
	Decision   Marker = "decision"
	Constraint Marker = "constraint"
	Failure    Marker = "failure"
	Goal       Marker = "goal"
)

// customPrefix is the required prefix for opaque caller-supplied markers.
const customPrefix = "custom:"

// patternFamilies maps each built-in marker to the prefixes that trigger it.
// Patterns are anchored at the start of the content or immediately after a
// newline, case-insensitively, matching spec's "start of content or after a
// newline" rule.
var patternFamilies = map[Marker][]string{
	Decision:   {"Decision:", "Decided:", "Choosing:", "Selected:"},
	Constraint: {"Constraint:", "Requirement:", "Must:", "Cannot:", "Budget:", "Limit:"},
	Failure:    {"Failed:", "Error:", "Didn't work:", "Tried but:"},
	Goal:       {"Goal:", "Objective:", "Task:", "Need to:"},
}

// detectors holds one precompiled regexp per marker family, built at package
// init following the teacher's habit of precompiling patterns once rather
// than per call.
var detectors = buildDetectors()

func buildDetectors() map[Marker]*regexp.Regexp {
	out := make(map[Marker]*regexp.Regexp, len(patternFamilies))
	for m, prefixes := range patternFamilies {
		escaped := make([]string, len(prefixes))
		for i, p := range prefixes {
			escaped[i] = regexp.QuoteMeta(p)
		}
		pattern := `(?mi)^\s*(` + strings.Join(escaped, "|") + `)`
		out[m] = regexp.MustCompile(pattern)
	}
	return out
}

// Detect returns the set of built-in markers whose pattern matches content.
// It is a pure function of content: Detect is idempotent with respect to
// whether the content already carries an explicit marker annotation.
func Detect(content string) map[Marker]struct{} {
	found := make(map[Marker]struct{})
	for m, re := range detectors {
		if re.MatchString(content) {
			found[m] = struct{}{}
		}
	}
	return found
}

// IsCustom reports whether label is a well-formed custom:<label> tag and
// returns the opaque label portion.
func IsCustom(raw string) (label string, ok bool) {
	if !strings.HasPrefix(raw, customPrefix) {
		return "", false
	}
	label = strings.TrimPrefix(raw, customPrefix)
	if label == "" {
		return "", false
	}
	return label, true
}

// Valid reports whether raw is a recognized built-in marker or a well-formed
// custom:<label> tag.
func Valid(raw string) bool {
	switch Marker(raw) {
	case Decision, Constraint, Failure, Goal:
		return true
	}
	_, ok := IsCustom(raw)
	return ok
}

// Effective computes the effective marker set of a turn: the union of the
// caller-supplied explicit markers and, when autoDetect is enabled, the
// markers detected in content.
func Effective(content string, explicit map[string]struct{}, autoDetect bool) map[string]struct{} {
	out := make(map[string]struct{}, len(explicit))
	for m := range explicit {
		out[m] = struct{}{}
	}
	if autoDetect {
		for m := range Detect(content) {
			out[string(m)] = struct{}{}
		}
	}
	return out
}
