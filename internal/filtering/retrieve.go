package filtering

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/assessment-recommender/internal/observability"
	"go.uber.org/zap"
)

// Retrieve fetches the nearest candidates for the expanded query, drops those
// exceeding maxDuration and removes duplicate names.
func Retrieve(ctx context.Context, deps Deps, expandedQuery string, maxDuration *int, cfg Config) ([]Candidate, error) {
	defer observability.ObserveStage("retrieve", time.Now())

	if deps.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if cfg.CandidateCount <= 0 {
		cfg.CandidateCount = DefaultCandidateCount
	}

	key, err := NameKeyFor(cfg.NameMatch)
	if err != nil {
		return nil, err
	}

	candidates := FromMatches(deps.Searcher.Search(ctx, expandedQuery, cfg.CandidateCount))
	if deps.Logger != nil {
		deps.Logger.Info("retrieved candidates", zap.Int("count", len(candidates)))
	}

	steps := []Filter{
		NewDuration(maxDuration),
		NewDedup(key),
	}
	return Run(ctx, &cfg, deps, steps, candidates)
}
