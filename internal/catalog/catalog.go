package catalog

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	UnnamedAssessment     = "Unnamed Assessment"
	NoDescription         = "No description available"
	UnknownFlag           = "Unknown"
	PrepackagedSection    = "Pre_packaged_job_solutions"
	IndividualSection     = "Individual_Test_Solutions"
	testTypeJoinSeparator = ", "
)

// SourceType tags the catalog a record came from.
type SourceType string

const (
	Prepackaged SourceType = "prepackaged"
	Individual  SourceType = "individual"
)

// Label returns the human readable solution kind used in canonical text.
func (s SourceType) Label() string {
	if s == Prepackaged {
		return "Prepackaged Job Solution"
	}
	return "Individual Test Solution"
}

// Value is an optional scalar taken from the raw catalog. Raw keeps the source
// text; Numeric reports whether the source carried a JSON number.
type Value struct {
	Raw     string
	Numeric bool
}

// Present reports whether the value was set in the source.
func (v Value) Present() bool {
	return v.Raw != ""
}

// Record is a normalized assessment catalog entry.
type Record struct {
	Name            string
	SourceType      SourceType
	TestTypes       string
	Duration        Value
	AssessmentTime  Value
	RemoteTesting   string
	AdaptiveSupport string
	URL             string
	Description     string
}

// NormalizeTestTypes splits a test type list on commas when present and on
// whitespace otherwise, then joins the sorted codes with ", ".
func NormalizeTestTypes(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var parts []string
	if strings.Contains(raw, ",") {
		parts = strings.Split(raw, ",")
	} else {
		parts = strings.Fields(raw)
	}

	codes := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		codes = append(codes, part)
	}

	sort.Strings(codes)
	return strings.Join(codes, testTypeJoinSeparator)
}

// ParseMinutes parses a duration value stored in metadata. Only finite,
// non-negative decimal numbers are accepted.
func ParseMinutes(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	for _, r := range raw {
		if (r < '0' || r > '9') && r != '.' {
			return 0, false
		}
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

var (
	parenthesized = regexp.MustCompile(`\([^)]*\)`)
	nonWord       = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// NormalizeName lowercases a display name, drops parenthesized parts and
// punctuation and collapses whitespace. "Java 8 (New)" becomes "java 8".
func NormalizeName(name string) string {
	normalized := strings.ToLower(name)
	normalized = parenthesized.ReplaceAllString(normalized, "")
	normalized = nonWord.ReplaceAllString(normalized, " ")
	return strings.Join(strings.Fields(normalized), " ")
}
