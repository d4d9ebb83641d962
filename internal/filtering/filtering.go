package filtering

import (
	"context"
	"fmt"

	"github.com/spigell/assessment-recommender/internal/catalog"
	"github.com/spigell/assessment-recommender/internal/vectorindex"
	"go.uber.org/zap"
)

// DefaultCandidateCount is the number of nearest neighbours fetched before filtering.
const DefaultCandidateCount = 30

// Candidate is a retrieved assessment on its way to the ranking stage.
type Candidate struct {
	ID       string
	Text     string
	Score    float64
	Metadata catalog.Metadata
}

// FromMatches projects search matches into candidates, keeping their order.
func FromMatches(matches []vectorindex.Match) []Candidate {
	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, Candidate{
			ID:       m.ID,
			Text:     m.Text,
			Score:    m.Score,
			Metadata: m.Metadata,
		})
	}
	return candidates
}

// Filter represents a single filtering step applied to candidates.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, c []Candidate) ([]Candidate, Step, error)
}

// Searcher finds the documents closest to a text.
type Searcher interface {
	Search(ctx context.Context, text string, k int) []vectorindex.Match
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	Searcher Searcher
	Logger   *zap.Logger
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Config contains configuration settings consumed by retrieval and the filters.
type Config struct {
	CandidateCount int    `mapstructure:"candidates"`
	NameMatch      string `mapstructure:"name-match"`
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run executes the supplied filters sequentially and returns the surviving candidates.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, c []Candidate) ([]Candidate, error) {
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			if deps.Logger != nil {
				deps.Logger.Debug("filter disabled", zap.String("name", step.Name()))
			}
			continue
		}

		next, info, err := step.Apply(ctx, deps, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		if deps.Logger != nil {
			deps.Logger.Info("filter step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}

		c = next
	}

	return c, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}
