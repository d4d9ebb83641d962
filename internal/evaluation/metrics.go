package evaluation

import (
	"strings"

	"github.com/spigell/assessment-recommender/internal/catalog"
)

// Match reports whether two assessment names refer to the same product:
// equal, or one containing the other, after normalization.
func Match(a, b string) bool {
	na, nb := catalog.NormalizeName(a), catalog.NormalizeName(b)
	if na == "" || nb == "" {
		return na == nb
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

// hits marks the positions of head that claim a relevant item. Each relevant
// item is claimed once, by the first position matching it, so near-duplicate
// recommendations of one product count a single time.
func hits(head, relevant []string) []bool {
	used := make([]bool, len(relevant))
	marks := make([]bool, len(head))
	for i, name := range head {
		for j, r := range relevant {
			if !used[j] && Match(name, r) {
				used[j] = true
				marks[i] = true
				break
			}
		}
	}
	return marks
}

func top(recommended []string, k int) []string {
	if k < 0 {
		k = 0
	}
	if k > len(recommended) {
		k = len(recommended)
	}
	return recommended[:k]
}

// RecallAtK is the share of relevant items found among the first k
// recommendations.
func RecallAtK(recommended, relevant []string, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}

	head := top(recommended, k)
	found := 0
	for _, r := range relevant {
		for _, name := range head {
			if Match(name, r) {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(relevant))
}

// PrecisionAtK is the share of the first k recommendations that claim a
// distinct relevant item.
func PrecisionAtK(recommended, relevant []string, k int) float64 {
	head := top(recommended, k)
	if len(head) == 0 {
		return 0
	}

	found := 0
	for _, hit := range hits(head, relevant) {
		if hit {
			found++
		}
	}
	return float64(found) / float64(len(head))
}

// AveragePrecisionAtK averages precision at every hit position within the
// first k recommendations, normalized by min(k, len(relevant)). The result
// stays within [0, 1].
func AveragePrecisionAtK(recommended, relevant []string, k int) float64 {
	if len(relevant) == 0 || len(recommended) == 0 || k <= 0 {
		return 0
	}

	var sum float64
	found := 0
	for i, hit := range hits(top(recommended, k), relevant) {
		if hit {
			found++
			sum += float64(found) / float64(i+1)
		}
	}
	return sum / float64(min(k, len(relevant)))
}
