package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"
)

var DefaultKs = []int{3, 5, 10}

// Recommender returns assessment names for a query, best first.
type Recommender interface {
	RecommendNames(ctx context.Context, q string, maxResults int) ([]string, error)
}

// RecommenderFunc adapts a function to Recommender.
type RecommenderFunc func(ctx context.Context, q string, maxResults int) ([]string, error)

func (f RecommenderFunc) RecommendNames(ctx context.Context, q string, maxResults int) ([]string, error) {
	return f(ctx, q, maxResults)
}

// QueryResult holds the metrics of one labelled query.
type QueryResult struct {
	Query       string          `json:"query"`
	Relevant    []string        `json:"relevant_assessments"`
	Recommended []string        `json:"recommended"`
	Recall      map[int]float64 `json:"recall"`
	AP          map[int]float64 `json:"average_precision"`
	Error       string          `json:"error,omitempty"`
}

// Report aggregates the metrics of a test set.
type Report struct {
	Ks         []int           `json:"k_values"`
	PerQuery   []QueryResult   `json:"detailed_results"`
	MeanRecall map[int]float64 `json:"mean_recall"`
	MAP        map[int]float64 `json:"map"`
}

type Evaluator struct {
	recommender Recommender
	logger      *zap.Logger
}

func New(recommender Recommender, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{recommender: recommender, logger: logger}
}

// Run scores every case at each k. A failed recommendation counts as an
// empty list. Only a cancelled context stops the run.
func (e *Evaluator) Run(ctx context.Context, cases []Case, ks []int) (*Report, error) {
	ks = normalizeKs(ks)
	limit := slices.Max(ks)

	report := &Report{
		Ks:         ks,
		PerQuery:   make([]QueryResult, 0, len(cases)),
		MeanRecall: make(map[int]float64, len(ks)),
		MAP:        make(map[int]float64, len(ks)),
	}

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log := e.logger.With(zap.String("query", c.Query))
		result := QueryResult{
			Query:    c.Query,
			Relevant: c.Relevant,
			Recall:   make(map[int]float64, len(ks)),
			AP:       make(map[int]float64, len(ks)),
		}

		recommended, err := e.recommender.RecommendNames(ctx, c.Query, limit)
		if err != nil {
			log.Error("error getting recommendations", zap.Error(err))
			result.Error = err.Error()
			recommended = nil
		}
		result.Recommended = recommended

		for _, k := range ks {
			result.Recall[k] = RecallAtK(recommended, c.Relevant, k)
			result.AP[k] = AveragePrecisionAtK(recommended, c.Relevant, k)
			report.MeanRecall[k] += result.Recall[k]
			report.MAP[k] += result.AP[k]

			log.Info("evaluated query",
				zap.Int("k", k),
				zap.Float64("recall", result.Recall[k]),
				zap.Float64("average_precision", result.AP[k]),
			)
		}
		report.PerQuery = append(report.PerQuery, result)
	}

	if n := len(cases); n > 0 {
		for _, k := range ks {
			report.MeanRecall[k] /= float64(n)
			report.MAP[k] /= float64(n)
		}
	}
	return report, nil
}

// WriteReport stores the report as indented JSON, creating parent directories.
func WriteReport(path string, report *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func normalizeKs(ks []int) []int {
	out := make([]int, 0, len(ks))
	for _, k := range ks {
		if k > 0 && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		out = append(out, DefaultKs...)
	}
	slices.Sort(out)
	return out
}
