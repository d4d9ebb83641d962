package catalog

import (
	"fmt"
	"strings"
)

// Metadata is the flat, string-only view of a record stored next to its
// embedding. Absent values are empty strings.
type Metadata struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	TestType       string `json:"test_type"`
	RemoteTesting  string `json:"remote_testing"`
	Adaptive       string `json:"adaptive"`
	URL            string `json:"url"`
	Duration       string `json:"duration"`
	AssessmentTime string `json:"assessment_time"`
}

// Document is a record rendered for indexing.
type Document struct {
	ID       string
	Text     string
	Metadata Metadata
}

// Text renders the canonical multi-line description of the record. The output
// is the embedding input and must stay byte-stable for a given record.
func (r Record) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Assessment Name: %s\n", r.Name)
	fmt.Fprintf(&b, "Assessment Type: %s\n", r.SourceType.Label())
	fmt.Fprintf(&b, "Test Types: %s\n", r.TestTypes)
	if line := r.durationLine(); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Remote Testing: %s\n", orUnknown(r.RemoteTesting))
	fmt.Fprintf(&b, "Adaptive Support: %s\n", orUnknown(r.AdaptiveSupport))
	fmt.Fprintf(&b, "Description: %s\n", r.Description)
	fmt.Fprintf(&b, "URL: %s", r.URL)

	return b.String()
}

func (r Record) durationLine() string {
	switch {
	case r.Duration.Present():
		return fmt.Sprintf("Duration: %s minutes.", r.Duration.Raw)
	case r.AssessmentTime.Present() && r.AssessmentTime.Numeric:
		return fmt.Sprintf("Assessment time: %s minutes.", r.AssessmentTime.Raw)
	case r.AssessmentTime.Present():
		return fmt.Sprintf("Assessment time: %s.", r.AssessmentTime.Raw)
	default:
		return ""
	}
}

// Metadata converts the record into its index metadata.
func (r Record) Metadata() Metadata {
	return Metadata{
		Name:           r.Name,
		Type:           string(r.SourceType),
		TestType:       r.TestTypes,
		RemoteTesting:  r.RemoteTesting,
		Adaptive:       r.AdaptiveSupport,
		URL:            r.URL,
		Duration:       r.Duration.Raw,
		AssessmentTime: r.AssessmentTime.Raw,
	}
}

// Documents maps each record to exactly one document with id doc_{i}.
func Documents(records []Record) []Document {
	docs := make([]Document, 0, len(records))
	for i, record := range records {
		docs = append(docs, Document{
			ID:       DocumentID(i),
			Text:     record.Text(),
			Metadata: record.Metadata(),
		})
	}
	return docs
}

// DocumentID is the id of the i-th document, doc_{i}.
func DocumentID(i int) string {
	return fmt.Sprintf("doc_%d", i)
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownFlag
	}
	return s
}
