package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spigell/assessment-recommender/internal/ai"
	"github.com/spigell/assessment-recommender/internal/catalog"
	"github.com/spigell/assessment-recommender/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 4

// stubEmbedder maps texts to fixed vectors. Texts containing "fail" error out.
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   atomic.Int32
	modes   []ai.EmbeddingMode
}

func (s *stubEmbedder) Embed(_ context.Context, text string, mode ai.EmbeddingMode) ([]float32, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.modes = append(s.modes, mode)
	s.mu.Unlock()

	if strings.Contains(text, "fail") {
		return nil, errors.New("provider unavailable")
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 1, 1, 1}, nil
}

func (s *stubEmbedder) Dimension() int { return testDimension }

func testDocs(n int) []catalog.Document {
	docs := make([]catalog.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, catalog.Document{
			ID:       catalog.DocumentID(i),
			Text:     fmt.Sprintf("document %d", i),
			Metadata: catalog.Metadata{Name: fmt.Sprintf("Assessment %d", i)},
		})
	}
	return docs
}

func newTestIndex(store Store, embedder ai.Embedder, cfg Config, opts ...Option) *Index {
	opts = append([]Option{WithRetry(retry.Policy{MaxAttempts: 1})}, opts...)
	return New(store, embedder, cfg, opts...)
}

func TestRebuildSubstitutesZeroVectorForFailedDocument(t *testing.T) {
	ctx := context.Background()
	docs := testDocs(50)
	docs[17].Text = "document that will fail"

	embedder := &stubEmbedder{}
	index := newTestIndex(NewMemoryStore(), embedder, Config{})

	indexed, err := index.Rebuild(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 50, indexed)

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, count)

	failed, err := index.Get(ctx, "doc_17")
	require.NoError(t, err)
	assert.Len(t, failed.Vector, testDimension)
	assert.True(t, isZero(failed.Vector))

	other, err := index.Get(ctx, "doc_16")
	require.NoError(t, err)
	assert.False(t, isZero(other.Vector))

	for _, mode := range embedder.modes {
		assert.Equal(t, ai.ModeDocument, mode)
	}
}

func TestRebuildBatchesAndReplacesPreviousContents(t *testing.T) {
	ctx := context.Background()
	embedder := &stubEmbedder{}
	index := newTestIndex(NewMemoryStore(), embedder, Config{BatchSize: 3, Workers: 2})

	indexed, err := index.Rebuild(ctx, testDocs(7))
	require.NoError(t, err)
	assert.Equal(t, 7, indexed)
	assert.EqualValues(t, 7, embedder.calls.Load())

	indexed, err = index.Rebuild(ctx, testDocs(2))
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)

	count, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// cancellingStore cancels the rebuild context once the first batch is staged.
type cancellingStore struct {
	Store
	cancel context.CancelFunc
}

func (s cancellingStore) Stage(ctx context.Context, collection string) (Staging, error) {
	staging, err := s.Store.Stage(ctx, collection)
	if err != nil {
		return nil, err
	}
	return &cancellingStaging{Staging: staging, cancel: s.cancel}, nil
}

type cancellingStaging struct {
	Staging
	cancel  context.CancelFunc
	batches int
}

func (s *cancellingStaging) Upsert(ctx context.Context, entries []Entry) error {
	if err := s.Staging.Upsert(ctx, entries); err != nil {
		return err
	}
	s.batches++
	if s.batches == 1 {
		s.cancel()
	}
	return nil
}

func TestInterruptedRebuildKeepsPreviousIndex(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			indexed, err := newTestIndex(store, &stubEmbedder{}, Config{BatchSize: 50}).Rebuild(ctx, testDocs(100))
			require.NoError(t, err)
			require.Equal(t, 100, indexed)

			replacement := testDocs(100)
			for i := range replacement {
				replacement[i].Text = fmt.Sprintf("replacement %d", i)
			}
			interrupted := newTestIndex(cancellingStore{Store: store, cancel: cancel}, &stubEmbedder{}, Config{BatchSize: 50})

			indexed, err = interrupted.Rebuild(ctx, replacement)
			require.ErrorIs(t, err, context.Canceled)
			assert.Zero(t, indexed)

			reopened := newTestIndex(store, &stubEmbedder{}, Config{}, WithSource(func(context.Context) ([]catalog.Document, error) {
				return nil, errors.New("a populated index must not be rebuilt")
			}))
			count, err := reopened.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 100, count)

			for _, id := range []string{"doc_0", "doc_49", "doc_99"} {
				entry, err := reopened.Get(context.Background(), id)
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(entry.Text, "document "), "entry %s comes from the interrupted rebuild", id)
			}

			matches := reopened.Query(context.Background(), []float32{1, 1, 1, 1}, 200)
			assert.Len(t, matches, 100)
		})
	}
}

// gatedEmbedder holds document embeddings until release is closed. Query
// embeddings pass straight through.
type gatedEmbedder struct {
	stubEmbedder
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string, mode ai.EmbeddingMode) ([]float32, error) {
	if mode == ai.ModeDocument {
		g.once.Do(func() { close(g.started) })
		<-g.release
	}
	return g.stubEmbedder.Embed(ctx, text, mode)
}

func TestReadersWaitForRebuild(t *testing.T) {
	ctx := context.Background()

	index := newTestIndex(NewMemoryStore(), &stubEmbedder{}, Config{BatchSize: 2})
	_, err := index.Rebuild(ctx, testDocs(3))
	require.NoError(t, err)

	gated := &gatedEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	index.embedder = gated

	rebuilt := make(chan int, 1)
	go func() {
		indexed, err := index.Rebuild(ctx, testDocs(7))
		assert.NoError(t, err)
		rebuilt <- indexed
	}()
	<-gated.started

	counts := make(chan int, 1)
	go func() {
		count, err := index.Count(ctx)
		assert.NoError(t, err)
		counts <- count
	}()
	searches := make(chan []Match, 1)
	go func() {
		searches <- index.Search(ctx, "anything", 20)
	}()

	select {
	case count := <-counts:
		t.Fatalf("count returned %d while the rebuild was running", count)
	case matches := <-searches:
		t.Fatalf("search returned %d matches while the rebuild was running", len(matches))
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)

	assert.Equal(t, 7, <-rebuilt)
	assert.Equal(t, 7, <-counts)
	assert.Len(t, <-searches, 7)
}

func TestRebuildUsesMatchingSnapshot(t *testing.T) {
	ctx := context.Background()
	docs := testDocs(3)
	path := filepath.Join(t.TempDir(), "embeddings.json")

	snapshot := &Snapshot{
		IDs:        []string{"doc_0", "doc_1", "doc_2"},
		Embeddings: [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}},
		Texts:      []string{docs[0].Text, docs[1].Text, docs[2].Text},
		Metadatas:  []catalog.Metadata{docs[0].Metadata, docs[1].Metadata, docs[2].Metadata},
	}
	require.NoError(t, WriteSnapshot(path, snapshot))

	embedder := &stubEmbedder{}
	index := newTestIndex(NewMemoryStore(), embedder, Config{SnapshotPath: path})

	indexed, err := index.Rebuild(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 3, indexed)
	assert.Zero(t, embedder.calls.Load())

	entry, err := index.Get(ctx, "doc_1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0, 0}, entry.Vector)
}

func TestRebuildIgnoresMismatchedSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "embeddings.json")
	require.NoError(t, WriteSnapshot(path, &Snapshot{
		IDs:        []string{"doc_0", "other"},
		Embeddings: [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
	}))

	embedder := &stubEmbedder{}
	index := newTestIndex(NewMemoryStore(), embedder, Config{SnapshotPath: path})

	_, err := index.Rebuild(ctx, testDocs(2))
	require.NoError(t, err)
	assert.EqualValues(t, 2, embedder.calls.Load())
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("empty without source", func(t *testing.T) {
		index := newTestIndex(NewMemoryStore(), &stubEmbedder{}, Config{})
		_, err := index.Load(ctx)
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("empty with source rebuilds", func(t *testing.T) {
		loads := 0
		source := func(context.Context) ([]catalog.Document, error) {
			loads++
			return testDocs(4), nil
		}
		index := newTestIndex(NewMemoryStore(), &stubEmbedder{}, Config{}, WithSource(source))

		count, err := index.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, count)

		count, err = index.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, count)
		assert.Equal(t, 1, loads)
	})

	t.Run("source error", func(t *testing.T) {
		source := func(context.Context) ([]catalog.Document, error) {
			return nil, errors.New("missing file")
		}
		index := newTestIndex(NewMemoryStore(), &stubEmbedder{}, Config{}, WithSource(source))
		_, err := index.Load(ctx)
		assert.Error(t, err)
	})
}

func TestSearchOrdersByCosineSimilarity(t *testing.T) {
	ctx := context.Background()
	docs := testDocs(3)
	embedder := &stubEmbedder{vectors: map[string][]float32{
		docs[0].Text: {1, 0, 0, 0},
		docs[1].Text: {0.9, 0.1, 0, 0},
		docs[2].Text: {0, 0, 1, 0},
		"java":       {1, 0, 0, 0},
	}}
	index := newTestIndex(NewMemoryStore(), embedder, Config{})
	_, err := index.Rebuild(ctx, docs)
	require.NoError(t, err)

	matches := index.Search(ctx, "java", 2)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc_0", matches[0].ID)
	assert.Equal(t, "doc_1", matches[1].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, ai.ModeQuery, embedder.modes[len(embedder.modes)-1])
}

func TestSearchFallsBackToZeroVector(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(NewMemoryStore(), &stubEmbedder{}, Config{})
	_, err := index.Rebuild(ctx, testDocs(3))
	require.NoError(t, err)

	matches := index.Search(ctx, "this will fail", 2)
	require.Len(t, matches, 2)
	assert.Equal(t, "doc_0", matches[0].ID)
	assert.Zero(t, matches[0].Score)
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Search(context.Context, string, []float32, int) ([]Match, error) {
	return nil, errors.New("backend down")
}

func TestQueryReturnsEmptyOnStoreFailure(t *testing.T) {
	index := newTestIndex(failingStore{NewMemoryStore()}, &stubEmbedder{}, Config{})
	matches := index.Query(context.Background(), []float32{1, 0, 0, 0}, 5)
	assert.Empty(t, matches)
}

func TestPrecomputeBuildsSnapshot(t *testing.T) {
	ctx := context.Background()
	docs := testDocs(5)
	docs[2].Text = "fail here"

	index := newTestIndex(NewMemoryStore(), &stubEmbedder{}, Config{BatchSize: 2})
	snapshot, err := index.Precompute(ctx, docs)
	require.NoError(t, err)

	assert.True(t, snapshot.Matches(docs, testDimension))
	assert.True(t, isZero(snapshot.Embeddings[2]))
	assert.Equal(t, docs[4].Text, snapshot.Texts[4])

	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")
	require.NoError(t, WriteSnapshot(path, snapshot))
	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snapshot.IDs, loaded.IDs)
}
