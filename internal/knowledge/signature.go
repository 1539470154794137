package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Error categories, matched against agent output. Order matters: the first
// matching pattern wins, so more specific categories come first.
var errorPatterns = []struct {
	category string
	re       *regexp.Regexp
}{
	{"timeout", regexp.MustCompile(`(?i)timed? ?out|deadline exceeded`)},
	{"missing_dependency", regexp.MustCompile(`(?i)no module named|cannot find (package|module)|module .* not found|import .* not found`)},
	{"compile_error", regexp.MustCompile(`(?i)syntax error|undefined:|undeclared name|expected .* found`)},
	{"type_error", regexp.MustCompile(`(?i)cannot use .* as|incompatible types?|type mismatch|is not assignable`)},
	{"test_failure", regexp.MustCompile(`(?i)--- FAIL|assertion failed|AssertionError|tests? failed`)},
	{"lint_error", regexp.MustCompile(`(?i)unused (import|variable)|line too long|trailing whitespace`)},
	{"permission_error", regexp.MustCompile(`(?i)permission denied|operation not permitted`)},
	{"network_error", regexp.MustCompile(`(?i)connection (refused|reset)|no such host|network is unreachable`)},
}

var (
	pathRe      = regexp.MustCompile(`(/[^\s:]+)+`)
	lineNumRe   = regexp.MustCompile(`(?i)\b(line |:)\d+(:\d+)?`)
	hexAddrRe   = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	durationRe  = regexp.MustCompile(`\b\d+(\.\d+)?(ns|µs|us|ms|s|m|h)\b`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Classify maps raw error text to an error category, or "unknown".
func Classify(errText string) string {
	for _, p := range errorPatterns {
		if p.re.MatchString(errText) {
			return p.category
		}
	}
	return "unknown"
}

// Normalize strips the volatile parts of an error message (file paths, line
// numbers, addresses, timestamps, durations) and returns the first meaningful
// line, capped at 200 characters. Two occurrences of the same underlying
// failure normalize to the same text instead of fragmenting on noise.
func Normalize(errText string) string {
	text := timestampRe.ReplaceAllString(errText, "")
	text = durationRe.ReplaceAllString(text, "")
	text = hexAddrRe.ReplaceAllString(text, "")
	text = lineNumRe.ReplaceAllString(text, "")
	text = pathRe.ReplaceAllString(text, "")

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return ""
}

// Signature returns the stable key for an error: a hash over its category and
// normalized text.
func Signature(category, normalized string) string {
	sum := sha256.Sum256([]byte(category + "\x00" + normalized))
	return hex.EncodeToString(sum[:16])
}

// DeriveHint produces a resolution hint for a failure category. Hints are
// injected into the retry attempt's command context.
func DeriveHint(category, normalized string) string {
	switch category {
	case "timeout":
		return "The previous attempt ran out of time. Work incrementally and commit partial progress early."
	case "missing_dependency":
		return "A dependency was missing last time. Check the project's dependency manifest before importing new packages."
	case "compile_error":
		return "The previous attempt left the code uncompilable. Build after every change before moving on."
	case "type_error":
		return "The previous attempt had type mismatches. Re-check the signatures of the functions you call."
	case "test_failure":
		return "Tests failed on the previous attempt. Run the failing tests first and fix them before adding anything new."
	case "lint_error":
		return "Lint findings blocked the previous attempt. Run the linter before finishing."
	case "permission_error":
		return "The previous attempt hit a permission error. Stay inside the project directory."
	case "network_error":
		return "The previous attempt failed on a network call. Avoid operations that need external connectivity."
	default:
		if normalized != "" {
			return "A previous attempt failed with: " + normalized
		}
		return "A previous attempt failed for an unclassified reason; review your changes carefully."
	}
}
