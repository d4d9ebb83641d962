package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"github.com/spigell/assessment-recommender/internal/ai"
	"github.com/spigell/assessment-recommender/internal/catalog"
	"github.com/spigell/assessment-recommender/internal/filtering"
	"github.com/spigell/assessment-recommender/internal/observability"
	"github.com/spigell/assessment-recommender/internal/retry"
	"github.com/spigell/assessment-recommender/internal/utils"
	"go.uber.org/zap"
)

//go:embed prompts/ranking.md
var promptTemplate string

var (
	// ErrNoArray is returned when a reply carries no bracketed array.
	ErrNoArray = errors.New("no json array in reply")
	// ErrNoIndices is returned when an array holds no usable index.
	ErrNoIndices = errors.New("no valid indices in reply")
)

var arrayPattern = regexp.MustCompile(`(?s)\[.*?\]`)

const defaultMaxLogLength = 200

// Ranker orders candidates by the relevance a generative model assigns them.
type Ranker struct {
	generator ai.Generator
	policy    retry.Policy
	logger    *zap.Logger
	maxLogLen int
}

func NewRanker(generator ai.Generator, policy retry.Policy, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Ranker{
		generator: generator,
		policy:    policy,
		logger:    logger,
		maxLogLen: defaultMaxLogLength,
	}
}

// Rank returns at most maxResults candidates in the model's order. When the
// list already fits no model call is made. Any failure falls back to the
// first maxResults candidates in input order. A non-positive maxResults
// leaves the candidates as they are.
func (r *Ranker) Rank(ctx context.Context, q string, candidates []filtering.Candidate, maxResults int) []filtering.Candidate {
	if maxResults <= 0 || len(candidates) <= maxResults {
		return candidates
	}

	defer observability.ObserveStage("rank", time.Now())

	prompt := buildPrompt(q, candidates, maxResults)
	r.logger.Debug("ranking candidates",
		zap.Int("candidates", len(candidates)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
	)

	reply, err := retry.Value(ctx, r.policy, "rank", func(ctx context.Context) (string, error) {
		return r.generator.GenerateContent(ctx, prompt)
	})
	if err != nil {
		return r.fallback(candidates, maxResults, err)
	}

	order, err := ParseOrder(reply, len(candidates), maxResults)
	if err != nil {
		r.logger.Warn("could not parse ranking reply",
			zap.String("reply_preview", utils.TruncateForLog(reply, r.maxLogLen)),
		)
		return r.fallback(candidates, maxResults, err)
	}

	ranked := make([]filtering.Candidate, 0, len(order))
	for _, i := range order {
		ranked = append(ranked, candidates[i])
	}
	return ranked
}

func (r *Ranker) fallback(candidates []filtering.Candidate, maxResults int, err error) []filtering.Candidate {
	r.logger.Warn("using input order for ranking", zap.Error(err))
	observability.Fallback("rank")
	return candidates[:maxResults]
}

// ParseOrder extracts candidate indices from a model reply. The first
// bracketed substring must decode as a JSON array of integers; indices
// outside [0,n) are dropped, repeats are collapsed and the result is cut to
// maxResults.
func ParseOrder(reply string, n, maxResults int) ([]int, error) {
	raw := arrayPattern.FindString(reply)
	if raw == "" {
		return nil, ErrNoArray
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var values []any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("decode ranking array: %w", err)
	}

	order := make([]int, 0, len(values))
	seen := make(map[int]struct{}, len(values))
	for _, v := range values {
		number, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("index %v is not a number", v)
		}
		i, err := strconv.Atoi(number.String())
		if err != nil {
			return nil, fmt.Errorf("index %q is not an integer", number.String())
		}
		if i < 0 || i >= n {
			continue
		}
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		order = append(order, i)
		if len(order) == maxResults {
			break
		}
	}

	if len(order) == 0 {
		return nil, ErrNoIndices
	}
	return order, nil
}

func buildPrompt(q string, candidates []filtering.Candidate, maxResults int) string {
	return strings.NewReplacer(
		"{{QUERY}}", q,
		"{{LAST_INDEX}}", strconv.Itoa(len(candidates)-1),
		"{{CANDIDATES}}", summarize(candidates),
		"{{MAX_RESULTS}}", strconv.Itoa(maxResults),
	).Replace(promptTemplate)
}

func summarize(candidates []filtering.Candidate) string {
	var b strings.Builder
	for i, c := range candidates {
		meta := c.Metadata
		fmt.Fprintf(&b, "\nAssessment %d:\n", i)
		fmt.Fprintf(&b, "Name: %s\n", orDefault(meta.Name, catalog.UnnamedAssessment))
		fmt.Fprintf(&b, "Type: %s\n", solutionLabel(meta.Type))
		fmt.Fprintf(&b, "Test Types: %s\n", orDefault(meta.TestType, catalog.UnknownFlag))
		b.WriteString(durationLine(meta))
		b.WriteByte('\n')
		fmt.Fprintf(&b, "Remote Testing: %s\n", orDefault(meta.RemoteTesting, catalog.UnknownFlag))
		fmt.Fprintf(&b, "Adaptive: %s\n", orDefault(meta.Adaptive, catalog.UnknownFlag))
	}
	return b.String()
}

func durationLine(meta catalog.Metadata) string {
	switch {
	case meta.AssessmentTime != "":
		if _, ok := catalog.ParseMinutes(meta.AssessmentTime); ok {
			return "Assessment time: " + meta.AssessmentTime + " minutes"
		}
		return "Assessment time: " + meta.AssessmentTime
	case meta.Duration != "":
		return "Duration: " + meta.Duration + " minutes"
	default:
		return "Duration: " + catalog.NotSpecified
	}
}

func solutionLabel(kind string) string {
	switch catalog.SourceType(kind) {
	case catalog.Prepackaged, catalog.Individual:
		return catalog.SourceType(kind).Label()
	default:
		return catalog.UnknownFlag
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
