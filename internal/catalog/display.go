package catalog

import (
	"fmt"
	"strings"
)

// NotSpecified stands in for a test type list with no codes.
const NotSpecified = "Not specified"

var testTypeDescriptions = map[string]string{
	"A": "Ability/Aptitude Test",
	"B": "Bio-Data and Situational Judgement",
	"C": "Competency-based Assessment",
	"D": "Development and 360-Degree Feedback",
	"E": "Assessment Center Exercise",
	"K": "Knowledge and Skills Test",
	"P": "Personality and Behaviour Assessment",
	"S": "Simulations",
}

// TestTypeDescription returns the description for a single code.
func TestTypeDescription(code string) (string, bool) {
	d, ok := testTypeDescriptions[strings.TrimSpace(code)]
	return d, ok
}

// DescribeTestTypes expands a normalized code list into "K (Knowledge and Skills Test), ..."
// form. Unknown codes are kept as-is.
func DescribeTestTypes(normalized string) string {
	parts := make([]string, 0)
	for _, code := range strings.Split(normalized, ",") {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if desc, ok := testTypeDescriptions[code]; ok {
			parts = append(parts, fmt.Sprintf("%s (%s)", code, desc))
			continue
		}
		parts = append(parts, code)
	}

	if len(parts) == 0 {
		return NotSpecified
	}
	return strings.Join(parts, testTypeJoinSeparator)
}

// DisplayDuration prefers the assessment time over the plain duration.
func DisplayDuration(m Metadata) string {
	switch {
	case m.AssessmentTime != "":
		if _, ok := ParseMinutes(m.AssessmentTime); ok {
			return m.AssessmentTime + " minutes"
		}
		return m.AssessmentTime
	case m.Duration != "":
		return m.Duration + " minutes"
	default:
		return ""
	}
}

// YesNo maps a catalog flag to "Yes" when it reads yes in any case, else "No".
func YesNo(flag string) string {
	if strings.EqualFold(strings.TrimSpace(flag), "yes") {
		return "Yes"
	}
	return "No"
}
