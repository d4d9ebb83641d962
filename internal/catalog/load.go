package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Source points to the two raw catalog files.
type Source struct {
	PrepackagedPath string `mapstructure:"prepackaged"`
	IndividualPath  string `mapstructure:"individual"`
}

// Configured reports whether both catalog files are set.
func (s Source) Configured() bool {
	return strings.TrimSpace(s.PrepackagedPath) != "" && strings.TrimSpace(s.IndividualPath) != ""
}

type rawRecord struct {
	Name            any `mapstructure:"name"`
	URL             any `mapstructure:"url"`
	RemoteTesting   any `mapstructure:"remote_testing_support"`
	AdaptiveSupport any `mapstructure:"adaptive_support"`
	TestType        any `mapstructure:"test_type"`
	Duration        any `mapstructure:"duration"`
	AssessmentTime  any `mapstructure:"assessment_time_duration"`
	Description     any `mapstructure:"description"`
}

// Load reads both catalog files. Prepackaged solutions come first.
func Load(src Source) ([]Record, error) {
	if !src.Configured() {
		return nil, errors.New("catalog source is not configured")
	}

	prepackaged, err := LoadFile(src.PrepackagedPath, PrepackagedSection, Prepackaged)
	if err != nil {
		return nil, err
	}

	individual, err := LoadFile(src.IndividualPath, IndividualSection, Individual)
	if err != nil {
		return nil, err
	}

	return append(prepackaged, individual...), nil
}

// LoadFile reads a JSON array of section objects and normalizes every record
// found under the given section key. Sections without the key are skipped.
func LoadFile(path, section string, source SourceType) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()

	var sections []map[string]any
	if err := dec.Decode(&sections); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}

	records := make([]Record, 0)
	for i, s := range sections {
		items, ok := s[section]
		if !ok {
			continue
		}

		list, ok := items.([]any)
		if !ok {
			return nil, fmt.Errorf("catalog %s: section %d %q is not a list", path, i, section)
		}

		for j, item := range list {
			fields, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("catalog %s: section %d record %d is not an object", path, i, j)
			}

			var raw rawRecord
			if err := mapstructure.Decode(fields, &raw); err != nil {
				return nil, fmt.Errorf("catalog %s: section %d record %d: %w", path, i, j, err)
			}

			records = append(records, raw.normalize(source))
		}
	}

	return records, nil
}

func (r rawRecord) normalize(source SourceType) Record {
	name := textOf(r.Name)
	if name == "" {
		name = UnnamedAssessment
	}

	description := textOf(r.Description)
	if description == "" {
		description = NoDescription
	}

	return Record{
		Name:            name,
		SourceType:      source,
		TestTypes:       NormalizeTestTypes(textOf(r.TestType)),
		Duration:        valueOf(r.Duration),
		AssessmentTime:  valueOf(r.AssessmentTime),
		RemoteTesting:   textOf(r.RemoteTesting),
		AdaptiveSupport: textOf(r.AdaptiveSupport),
		URL:             textOf(r.URL),
		Description:     description,
	}
}

func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// valueOf treats null, blank text and numeric zero as absent.
func valueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case json.Number:
		if f, err := t.Float64(); err == nil && f == 0 {
			return Value{}
		}
		return Value{Raw: t.String(), Numeric: true}
	case float64:
		if t == 0 {
			return Value{}
		}
		return Value{Raw: strconv.FormatFloat(t, 'f', -1, 64), Numeric: true}
	case int:
		if t == 0 {
			return Value{}
		}
		return Value{Raw: strconv.Itoa(t), Numeric: true}
	default:
		return Value{Raw: textOf(t)}
	}
}
