// Package classify implements the Failure Classifier: a pure function from
// captured worker output to one of a fixed set of failure kinds.
//
// Grounded on the teacher's metrics/decision-taxonomy style
// (control_plane/resilience/errors.go's small closed error taxonomy) but the
// substring tables themselves come from the orchestrator domain, not the
// teacher — there is no classifier of this shape anywhere in the pack.
package classify

import (
	"strings"

	"github.com/packetsched/packetsched/internal/runtimestate"
)

// quotaMarkers must be checked first: quota wins unconditionally, even when
// a compile or runtime marker co-occurs in the same text.
var quotaMarkers = []string{
	"insufficient_quota",
	"quota exceeded",
	"exceeded your current quota",
	"billing hard limit has been reached",
	"usage limit reached",
	"you have reached your usage limit",
	"you've reached your usage limit",
	"rate limit reached",
	"too many requests",
	"status code 429",
	"429 too many requests",
	"chatgpt account",
	"monthly limit reached",
	"daily limit reached",
	"request was rejected due to rate limiting",
}

var compileMarkers = []string{
	"failed to compile",
	"compilation failed",
	"could not compile",
	"cargo check",
	"cargo build",
	"swift build",
	"error[e",
	"no such module",
}

var runtimeMarkers = []string{
	"thread 'main' panicked",
	"panic",
	"segmentation fault",
	"fatal error",
	"traceback",
	"assertion failed",
	"runtime error",
}

var testMarkers = []string{
	"test failed",
	"failures:",
	"assertion",
	"0 passed; 1 failed",
	"failed in",
}

var infraMarkers = []string{
	"timed out",
	"timeout",
	"permission denied",
	"network is unreachable",
	"temporary failure",
	"killed",
}

// Classify inspects captured text case-insensitively and returns the
// matching failure kind, in the fixed precedence order: quota, compile,
// runtime, test, infra, unknown.
func Classify(text string) runtimestate.FailureKind {
	folded := strings.ToLower(text)

	if containsAny(folded, quotaMarkers) {
		return runtimestate.KindQuota
	}
	if containsAny(folded, compileMarkers) {
		return runtimestate.KindCompile
	}
	if containsAny(folded, runtimeMarkers) {
		return runtimestate.KindRuntime
	}
	if containsAny(folded, testMarkers) {
		return runtimestate.KindTest
	}
	if containsAny(folded, infraMarkers) {
		return runtimestate.KindInfra
	}
	return runtimestate.KindUnknown
}

func containsAny(haystack string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			return true
		}
	}
	return false
}
