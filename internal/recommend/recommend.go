package recommend

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spigell/assessment-recommender/internal/catalog"
	"github.com/spigell/assessment-recommender/internal/filtering"
	"github.com/spigell/assessment-recommender/internal/observability"
	"github.com/spigell/assessment-recommender/internal/ranking"
	"go.uber.org/zap"
)

const (
	DefaultMaxResults = 10
	NoMatchesMessage  = "No matching assessments found"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// Recommendation is a single assessment ready for display.
type Recommendation struct {
	Name                string `json:"name"`
	URL                 string `json:"url"`
	RemoteTesting       string `json:"remote_testing"`
	AdaptiveSupport     string `json:"adaptive_support"`
	DurationDisplay     string `json:"duration"`
	TestTypeDescription string `json:"test_type"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	Recommendations []Recommendation
	Empty           bool
	Message         string
	MaxDuration     *int
	ExpandedQuery   string
}

// Understanding extracts retrieval hints from a raw query.
type Understanding interface {
	ExtractMaxDuration(ctx context.Context, q string) (*int, error)
	ExpandQuery(ctx context.Context, q string) string
}

// Ranker orders candidates against the original query.
type Ranker interface {
	Rank(ctx context.Context, q string, candidates []filtering.Candidate, maxResults int) []filtering.Candidate
}

var _ Ranker = (*ranking.Ranker)(nil)

// Pipeline runs query understanding, retrieval, filtering and re-ranking.
type Pipeline struct {
	understanding Understanding
	searcher      filtering.Searcher
	ranker        Ranker
	search        filtering.Config
	logger        *zap.Logger
}

func NewPipeline(u Understanding, searcher filtering.Searcher, ranker Ranker, search filtering.Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		understanding: u,
		searcher:      searcher,
		ranker:        ranker,
		search:        search,
		logger:        logger,
	}
}

// Recommend returns up to maxResults assessments for q. Provider failures
// degrade the result instead of failing it; only a blank query is an error.
func (p *Pipeline) Recommend(ctx context.Context, q string, maxResults int) (*Result, error) {
	return p.recommend(ctx, p.logger, q, maxResults)
}

// RecommendWithLogger is Recommend with a request-scoped logger.
func (p *Pipeline) RecommendWithLogger(ctx context.Context, log *zap.Logger, q string, maxResults int) (*Result, error) {
	if log == nil {
		log = p.logger
	}
	return p.recommend(ctx, log, q, maxResults)
}

func (p *Pipeline) recommend(ctx context.Context, log *zap.Logger, q string, maxResults int) (*Result, error) {
	if strings.TrimSpace(q) == "" {
		return nil, ErrEmptyQuery
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	defer observability.ObserveStage("recommend", time.Now())

	maxDuration, err := p.understanding.ExtractMaxDuration(ctx, q)
	if err != nil {
		log.Warn("duration extraction failed, continuing without constraint", zap.Error(err))
		observability.Fallback("extract_duration")
		maxDuration = nil
	}

	expanded := p.understanding.ExpandQuery(ctx, q)
	log.Info("query understood",
		zap.Any("max_duration", maxDuration),
		zap.String("expanded_query", expanded),
	)

	result := &Result{MaxDuration: maxDuration, ExpandedQuery: expanded}

	candidates, err := filtering.Retrieve(ctx, filtering.Deps{Searcher: p.searcher, Logger: log}, expanded, maxDuration, p.search)
	if err != nil {
		log.Error("retrieval failed", zap.Error(err))
		candidates = nil
	}

	if len(candidates) == 0 {
		log.Warn("no assessment results found for the query")
		observability.Outcome("empty")
		result.Empty = true
		result.Message = NoMatchesMessage
		return result, nil
	}

	ranked := p.ranker.Rank(ctx, q, candidates, maxResults)
	result.Recommendations = Format(ranked)

	log.Info("recommendations ready",
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(result.Recommendations)),
	)
	observability.Outcome("ok")
	return result, nil
}

// Format turns ranked candidates into display records.
func Format(candidates []filtering.Candidate) []Recommendation {
	out := make([]Recommendation, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, NewRecommendation(c.Metadata))
	}
	return out
}

func NewRecommendation(meta catalog.Metadata) Recommendation {
	name := meta.Name
	if name == "" {
		name = catalog.UnnamedAssessment
	}
	return Recommendation{
		Name:                name,
		URL:                 meta.URL,
		RemoteTesting:       catalog.YesNo(meta.RemoteTesting),
		AdaptiveSupport:     catalog.YesNo(meta.Adaptive),
		DurationDisplay:     catalog.DisplayDuration(meta),
		TestTypeDescription: catalog.DescribeTestTypes(meta.TestType),
	}
}

// Names lists recommendation names in order.
func (r *Result) Names() []string {
	names := make([]string, 0, len(r.Recommendations))
	for _, rec := range r.Recommendations {
		names = append(names, rec.Name)
	}
	return names
}
