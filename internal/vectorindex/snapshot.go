package vectorindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spigell/assessment-recommender/internal/catalog"
)

// Snapshot holds precomputed document embeddings. Slices are parallel.
type Snapshot struct {
	IDs        []string           `json:"ids"`
	Embeddings [][]float32        `json:"embeddings"`
	Texts      []string           `json:"texts"`
	Metadatas  []catalog.Metadata `json:"metadatas"`
}

// ReadSnapshot loads a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &s, nil
}

// WriteSnapshot stores the snapshot atomically through a temporary file.
func WriteSnapshot(path string, s *Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// Matches reports whether the snapshot covers exactly the given documents, in
// order, with vectors of the given dimension.
func (s *Snapshot) Matches(docs []catalog.Document, dimension int) bool {
	if s == nil || len(s.IDs) != len(docs) || len(s.Embeddings) != len(docs) {
		return false
	}
	for i, doc := range docs {
		if s.IDs[i] != doc.ID || len(s.Embeddings[i]) != dimension {
			return false
		}
	}
	return true
}
