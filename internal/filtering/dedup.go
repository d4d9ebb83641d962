package filtering

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/assessment-recommender/internal/catalog"
	"go.uber.org/zap"
)

const (
	MatchExact      = "exact"
	MatchNormalized = "normalized"
)

// NameKey maps an assessment name to the key duplicates are detected by.
type NameKey func(name string) string

// ExactName treats names as duplicates only when they are byte-identical.
func ExactName(name string) string { return name }

// NormalizedName folds case, parenthesized qualifiers and punctuation.
func NormalizedName(name string) string { return catalog.NormalizeName(name) }

// NameKeyFor resolves the configured matching mode. Empty selects exact matching.
func NameKeyFor(mode string) (NameKey, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", MatchExact:
		return ExactName, nil
	case MatchNormalized:
		return NormalizedName, nil
	default:
		return nil, fmt.Errorf("unknown name match mode %q", mode)
	}
}

type dedupFilter struct {
	enabled bool
	reason  string
	key     NameKey
}

// NewDedup creates a filter that keeps the first candidate seen for each name.
func NewDedup(key NameKey) Filter {
	return &dedupFilter{enabled: true, key: key}
}

func (f *dedupFilter) Name() string { return "dedup" }

func (f *dedupFilter) Disable(reason string) {
	f.enabled = false
	f.reason = reason
}

func (f *dedupFilter) IsEnabled() bool { return f.enabled }

func (f *dedupFilter) Validate(*Config) error {
	if f.key == nil {
		return fmt.Errorf("name key is required")
	}
	return nil
}

func (f *dedupFilter) Apply(_ context.Context, deps Deps, c []Candidate) ([]Candidate, Step, error) {
	initial := len(c)
	seen := make(map[string]struct{}, len(c))
	kept := make([]Candidate, 0, len(c))
	var duplicates []string

	for _, candidate := range c {
		key := f.key(candidate.Metadata.Name)
		if _, ok := seen[key]; ok {
			duplicates = append(duplicates, candidate.ID)
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, candidate)
	}

	if deps.Logger != nil && len(duplicates) > 0 {
		deps.Logger.Debug("dropping duplicate assessments", zap.Strings("ids", duplicates))
	}

	return kept, Step{Initial: initial, Dropped: len(duplicates), Left: len(kept)}, nil
}

func (f *dedupFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.enabled, Reason: f.reason}
}
