package evaluation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMatch(t *testing.T) {
	assert.True(t, Match("Java 8 (New)", "java 8"))
	assert.True(t, Match("Core Java (Entry Level)", "Core Java Advanced Level"), "containment after normalization")
	assert.True(t, Match("Verify - Numerical Ability", "verify numerical ability"))
	assert.False(t, Match("Python (New)", "Java 8 (New)"))
	assert.False(t, Match("(Retired)", "Java"))
}

func TestRecallAtK(t *testing.T) {
	recommended := []string{"Java 8 (New)", "Python", "SQL Server", "Core Java"}
	relevant := []string{"Java 8", "SQL Server (New)", "Agile Testing"}

	assert.InDelta(t, 1.0/3, RecallAtK(recommended, relevant, 1), 1e-9)
	assert.InDelta(t, 2.0/3, RecallAtK(recommended, relevant, 3), 1e-9)
	assert.InDelta(t, 2.0/3, RecallAtK(recommended, relevant, 10), 1e-9)
	assert.Zero(t, RecallAtK(recommended, nil, 3))
	assert.Zero(t, RecallAtK(nil, relevant, 3))
}

func TestRecallNeverExceedsOne(t *testing.T) {
	recommended := []string{"Java 8", "Java 8 (New)", "java 8"}
	assert.Equal(t, 1.0, RecallAtK(recommended, []string{"Java 8"}, 3))
}

func TestPrecisionAtK(t *testing.T) {
	recommended := []string{"Java 8 (New)", "Python", "SQL Server"}
	relevant := []string{"Java 8", "SQL Server"}

	assert.Equal(t, 1.0, PrecisionAtK(recommended, relevant, 1))
	assert.Equal(t, 0.5, PrecisionAtK(recommended, relevant, 2))
	assert.InDelta(t, 2.0/3, PrecisionAtK(recommended, relevant, 10), 1e-9)
	assert.Zero(t, PrecisionAtK(recommended, relevant, 0))
	assert.Zero(t, PrecisionAtK(nil, relevant, 3))

	// Both names contain "Java" but there is one relevant item to claim.
	assert.Equal(t, 0.5, PrecisionAtK([]string{"Java 8 (New)", "Core Java Advanced"}, []string{"Java"}, 2))
}

func TestAveragePrecisionAtK(t *testing.T) {
	recommended := []string{"Java 8 (New)", "Python", "SQL Server"}
	relevant := []string{"Java 8", "SQL Server"}

	// hits at positions 1 and 3: (1 + 2/3) / min(3, 2)
	assert.InDelta(t, (1.0+2.0/3)/2, AveragePrecisionAtK(recommended, relevant, 3), 1e-9)
	// only position 1 within k=2: 1 / min(2, 2)
	assert.InDelta(t, 0.5, AveragePrecisionAtK(recommended, relevant, 2), 1e-9)
	assert.Zero(t, AveragePrecisionAtK(recommended, nil, 3))
	assert.Zero(t, AveragePrecisionAtK([]string{"Python"}, relevant, 3))
}

func TestAveragePrecisionCountsEachRelevantItemOnce(t *testing.T) {
	recommended := []string{"Java 8 (New)", "Core Java Advanced"}

	ap := AveragePrecisionAtK(recommended, []string{"Java"}, 2)
	assert.LessOrEqual(t, ap, 1.0)
	assert.InDelta(t, 1.0, ap, 1e-9)

	// The second relevant item is only claimed at position 3.
	ap = AveragePrecisionAtK([]string{"Java 8", "Java 8 (New)", "Core Java"}, []string{"Java 8", "Core Java"}, 3)
	assert.InDelta(t, (1.0+2.0/3)/2, ap, 1e-9)
}

func TestLoadTestSet(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "cases.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[
  {"query": "Java developer under 40 minutes", "relevant_assessments": ["Java 8 (New)", "Core Java"]}
]`), 0o600))

	cases, err := LoadTestSet(jsonPath)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, []string{"Java 8 (New)", "Core Java"}, cases[0].Relevant)

	yamlPath := filepath.Join(dir, "cases.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
- query: Sales graduate
  relevant_assessments:
    - Entry Level Sales
`), 0o600))

	cases, err = LoadTestSet(yamlPath)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "Sales graduate", cases[0].Query)
	assert.Equal(t, []string{"Entry Level Sales"}, cases[0].Relevant)

	blank := filepath.Join(dir, "blank.json")
	require.NoError(t, os.WriteFile(blank, []byte(`[{"query": " "}]`), 0o600))
	_, err = LoadTestSet(blank)
	assert.Error(t, err)

	_, err = LoadTestSet(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestEvaluatorRun(t *testing.T) {
	var limits []int
	rec := RecommenderFunc(func(_ context.Context, q string, maxResults int) ([]string, error) {
		limits = append(limits, maxResults)
		if q == "broken" {
			return nil, errors.New("api unavailable")
		}
		return []string{"Java 8 (New)", "Python", "Core Java"}, nil
	})

	cases := []Case{
		{Query: "java", Relevant: []string{"Java 8", "Core Java"}},
		{Query: "broken", Relevant: []string{"Java 8"}},
	}

	report, err := New(rec, zap.NewNop()).Run(context.Background(), cases, []int{5, 1, 5, 0})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 5}, report.Ks)
	assert.Equal(t, []int{5, 5}, limits)
	require.Len(t, report.PerQuery, 2)
	assert.Equal(t, "api unavailable", report.PerQuery[1].Error)

	assert.InDelta(t, 1.0, report.PerQuery[0].Recall[5], 1e-9)
	assert.InDelta(t, 0.5, report.PerQuery[0].Recall[1], 1e-9)
	assert.InDelta(t, 0.5, report.MeanRecall[5], 1e-9)
	assert.InDelta(t, 0.25, report.MeanRecall[1], 1e-9)
	// AP@5 for the first case: (1 + 2/3) / 2
	assert.InDelta(t, (1.0+2.0/3)/4, report.MAP[5], 1e-9)

	out := filepath.Join(t.TempDir(), "results", "report.json")
	require.NoError(t, WriteReport(out, report))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mean_recall"`)
}

func TestEvaluatorDefaultsAndCancellation(t *testing.T) {
	rec := RecommenderFunc(func(context.Context, string, int) ([]string, error) { return nil, nil })

	report, err := New(rec, nil).Run(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultKs, report.Ks)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(rec, nil).Run(ctx, []Case{{Query: "q"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
