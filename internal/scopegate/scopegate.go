// Package scopegate implements the Scope Gate: the predicate that a task's
// changed-file set is contained within its declared allowed set.
//
// Grounded on the teacher's small single-purpose predicate packages
// (control_plane/resilience/errors.go-style terse helpers); the glob
// enrichment borrows github.com/bmatcuk/doublestar/v4, used by
// C360Studio-semspec's source-ingestion component for path matching.
package scopegate

import "github.com/bmatcuk/doublestar/v4"

// Within returns true iff allowed is empty (the explicit "no containment
// enforced" escape hatch) or every path in changed is a member of allowed.
// allowed entries containing a glob metacharacter are matched with
// doublestar; all other entries require an exact match.
func Within(changed, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	literal := make(map[string]struct{}, len(allowed))
	var globs []string
	for _, a := range allowed {
		if isGlob(a) {
			globs = append(globs, a)
		} else {
			literal[a] = struct{}{}
		}
	}

	for _, c := range changed {
		if _, ok := literal[c]; ok {
			continue
		}
		if matchesAny(c, globs) {
			continue
		}
		return false
	}
	return true
}

// Violations returns the subset of changed not covered by allowed, in
// input order, for use in a block_reason diagnostic.
func Violations(changed, allowed []string) []string {
	if len(allowed) == 0 {
		return nil
	}
	literal := make(map[string]struct{}, len(allowed))
	var globs []string
	for _, a := range allowed {
		if isGlob(a) {
			globs = append(globs, a)
		} else {
			literal[a] = struct{}{}
		}
	}
	var bad []string
	for _, c := range changed {
		if _, ok := literal[c]; ok {
			continue
		}
		if matchesAny(c, globs) {
			continue
		}
		bad = append(bad, c)
	}
	return bad
}

func isGlob(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

func matchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, path); err == nil && ok {
			return true
		}
	}
	return false
}
