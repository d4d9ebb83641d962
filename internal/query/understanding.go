package query

import (
	"context"
	"strconv"
	"strings"
	"time"

	_ "embed"

	"github.com/spigell/assessment-recommender/internal/ai"
	"github.com/spigell/assessment-recommender/internal/observability"
	"github.com/spigell/assessment-recommender/internal/retry"
	"go.uber.org/zap"
)

//go:embed prompts/duration.md
var durationPrompt string

//go:embed prompts/expansion.md
var expansionPrompt string

const noConstraint = "none"

// Understander turns a raw query into retrieval hints using a generative model.
type Understander struct {
	generator ai.Generator
	policy    retry.Policy
	logger    *zap.Logger
}

func NewUnderstander(generator ai.Generator, policy retry.Policy, logger *zap.Logger) *Understander {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Understander{generator: generator, policy: policy, logger: logger}
}

// ExtractMaxDuration returns the largest acceptable assessment length in
// minutes, or nil when the query sets no limit. Replies that are neither an
// integer nor the "None" token are treated as no limit. Only a failed
// provider call is returned as an error.
func (u *Understander) ExtractMaxDuration(ctx context.Context, q string) (*int, error) {
	defer observability.ObserveStage("extract_duration", time.Now())

	reply, err := retry.Value(ctx, u.policy, "extract_duration", func(ctx context.Context) (string, error) {
		return u.generator.GenerateContent(ctx, render(durationPrompt, q))
	})
	if err != nil {
		return nil, err
	}

	minutes, ok := parseDuration(reply)
	if !ok {
		u.logger.Warn("could not parse duration from model reply", zap.String("reply", reply))
		observability.Fallback("extract_duration")
		return nil, nil
	}
	if minutes != nil {
		u.logger.Info("extracted max duration", zap.Int("minutes", *minutes))
	}
	return minutes, nil
}

// ExpandQuery returns a retrieval-oriented rewrite of q. Any failure returns
// q unchanged.
func (u *Understander) ExpandQuery(ctx context.Context, q string) string {
	defer observability.ObserveStage("expand_query", time.Now())

	reply, err := retry.Value(ctx, u.policy, "expand_query", func(ctx context.Context) (string, error) {
		return u.generator.GenerateContent(ctx, render(expansionPrompt, q))
	})
	if err != nil {
		u.logger.Warn("query expansion failed, using original query", zap.Error(err))
		observability.Fallback("expand_query")
		return q
	}

	expanded := strings.TrimSpace(reply)
	if expanded == "" {
		return q
	}

	u.logger.Debug("expanded query", zap.String("expanded", expanded))
	return expanded
}

// parseDuration reports ok=false for replies it cannot interpret. A nil
// result with ok=true means no constraint.
func parseDuration(reply string) (*int, bool) {
	reply = strings.TrimSpace(reply)
	reply = strings.Trim(reply, "`\"'. \n")

	if strings.EqualFold(reply, noConstraint) {
		return nil, true
	}

	minutes, err := strconv.Atoi(reply)
	if err != nil {
		return nil, false
	}
	if minutes <= 0 {
		return nil, true
	}
	return &minutes, true
}

func render(template, q string) string {
	return strings.ReplaceAll(template, "{{QUERY}}", q)
}
