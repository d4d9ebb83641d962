package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Case is a labelled query.
type Case struct {
	Query    string   `json:"query" yaml:"query"`
	Relevant []string `json:"relevant_assessments" yaml:"relevant_assessments"`
}

// LoadTestSet reads labelled queries from a JSON file, or from YAML when the
// extension is .yaml or .yml.
func LoadTestSet(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test set: %w", err)
	}

	var cases []Case
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cases); err != nil {
			return nil, fmt.Errorf("parse test set %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cases); err != nil {
			return nil, fmt.Errorf("parse test set %s: %w", path, err)
		}
	}

	for i, c := range cases {
		if strings.TrimSpace(c.Query) == "" {
			return nil, fmt.Errorf("test case %d: query is empty", i)
		}
	}
	return cases, nil
}
