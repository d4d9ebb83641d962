package filtering

import (
	"context"
	"strconv"

	"github.com/spigell/assessment-recommender/internal/catalog"
	"go.uber.org/zap"
)

type durationFilter struct {
	enabled bool
	reason  string
	max     int
}

// NewDuration creates a filter that drops assessments known to run longer than
// max minutes. A nil or non-positive max disables the step.
func NewDuration(max *int) Filter {
	if max == nil || *max <= 0 {
		return &durationFilter{reason: "no duration constraint"}
	}
	return &durationFilter{enabled: true, max: *max}
}

func (f *durationFilter) Name() string { return "duration" }

func (f *durationFilter) Disable(reason string) {
	f.enabled = false
	f.reason = reason
}

func (f *durationFilter) IsEnabled() bool { return f.enabled }

func (f *durationFilter) Validate(*Config) error { return nil }

func (f *durationFilter) Apply(_ context.Context, deps Deps, c []Candidate) ([]Candidate, Step, error) {
	initial := len(c)
	kept := make([]Candidate, 0, len(c))
	var excluded []string

	for _, candidate := range c {
		if f.fits(candidate.Metadata) {
			kept = append(kept, candidate)
			continue
		}
		excluded = append(excluded, candidate.Metadata.Name)
	}

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Debug("excluding assessments longer than the limit",
			zap.Int("max_minutes", f.max),
			zap.Strings("excluded_assessments", excluded),
		)
	}

	return kept, Step{Initial: initial, Dropped: initial - len(kept), Left: len(kept)}, nil
}

// fits prefers assessment_time over duration. Anything that cannot be read
// as minutes is kept.
func (f *durationFilter) fits(meta catalog.Metadata) bool {
	raw := meta.AssessmentTime
	if raw == "" {
		raw = meta.Duration
	}
	if raw == "" {
		return true
	}

	minutes, ok := catalog.ParseMinutes(raw)
	if !ok {
		return true
	}
	return minutes <= float64(f.max)
}

func (f *durationFilter) Status() Status {
	details := map[string]string{}
	if f.enabled {
		details["max_minutes"] = strconv.Itoa(f.max)
	}
	return Status{Name: f.Name(), Enabled: f.enabled, Reason: f.reason, Details: details}
}
