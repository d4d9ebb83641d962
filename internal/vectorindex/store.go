package vectorindex

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/spigell/assessment-recommender/internal/catalog"
)

var (
	ErrNoData    = errors.New("vector index is empty and no data source is configured")
	ErrNotFound  = errors.New("entry not found")
	ErrDimension = errors.New("unexpected embedding dimension")

	ErrStagingClosed = errors.New("staging already committed or discarded")
)

// Entry is a stored document with its embedding.
type Entry struct {
	ID       string           `json:"id"`
	Vector   []float32        `json:"vector"`
	Text     string           `json:"text"`
	Metadata catalog.Metadata `json:"metadata"`
}

// Match is a search hit. Score is the cosine similarity to the query.
type Match struct {
	Entry
	Score float64
}

// Store is a named-collection vector backend. Readers only ever see a
// committed generation of a collection.
type Store interface {
	// Stage starts an empty generation of the collection. Nothing written to
	// it is visible until Commit.
	Stage(ctx context.Context, collection string) (Staging, error)
	Count(ctx context.Context, collection string) (int, error)
	Get(ctx context.Context, collection, id string) (Entry, error)
	// Search returns up to k entries ordered by cosine similarity, nearest
	// first. Ties keep insertion order.
	Search(ctx context.Context, collection string, vector []float32, k int) ([]Match, error)
	Close() error
}

// Staging is a generation under construction. It is used by one writer at a
// time and is finished by exactly one of Commit or Discard.
type Staging interface {
	// Upsert inserts entries, replacing existing ones with the same id in place.
	Upsert(ctx context.Context, entries []Entry) error
	// Commit makes the generation the live one and drops the one it replaces.
	Commit(ctx context.Context) error
	// Discard drops the generation. The live one is untouched.
	Discard(ctx context.Context) error
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length or with zero magnitude score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rank scores entries given in insertion order and keeps the k best.
func rank(entries []Entry, vector []float32, k int) []Match {
	if k <= 0 || len(entries) == 0 {
		return []Match{}
	}

	matches := make([]Match, 0, len(entries))
	for _, entry := range entries {
		matches = append(matches, Match{Entry: entry, Score: Cosine(vector, entry.Vector)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func isZero(vector []float32) bool {
	for _, v := range vector {
		if v != 0 {
			return false
		}
	}
	return true
}
