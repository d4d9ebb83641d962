package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/spigell/assessment-recommender/internal/ai"
	"github.com/spigell/assessment-recommender/internal/catalog"
	"github.com/spigell/assessment-recommender/internal/observability"
	"github.com/spigell/assessment-recommender/internal/retry"
	"github.com/spigell/assessment-recommender/internal/utils"
	"go.uber.org/zap"
)

const (
	DefaultCollection = "assessments"
	DefaultBatchSize  = 50
	DefaultBatchDelay = 500 * time.Millisecond
	DefaultDimension  = 768
	DefaultWorkers    = 4
)

type Config struct {
	Collection   string        `mapstructure:"collection"`
	BatchSize    int           `mapstructure:"batch-size"`
	BatchDelay   time.Duration `mapstructure:"batch-delay"`
	Dimension    int           `mapstructure:"dimension"`
	Workers      int           `mapstructure:"workers"`
	SnapshotPath string        `mapstructure:"snapshot"`
}

// Loader supplies documents when the index has to be built from scratch.
type Loader func(ctx context.Context) ([]catalog.Document, error)

// Index embeds documents into a Store and answers similarity queries.
// Rebuild and Load are exclusive; queries share the index.
type Index struct {
	mu       sync.RWMutex
	store    Store
	embedder ai.Embedder
	cfg      Config
	source   Loader
	policy   retry.Policy
	logger   *zap.Logger
}

type Option func(*Index)

// WithSource sets the documents used when Load finds an empty collection.
func WithSource(source Loader) Option {
	return func(x *Index) { x.source = source }
}

// WithRetry sets the policy applied around embedding calls.
func WithRetry(policy retry.Policy) Option {
	return func(x *Index) { x.policy = policy }
}

func WithLogger(logger *zap.Logger) Option {
	return func(x *Index) { x.logger = logger }
}

func New(store Store, embedder ai.Embedder, cfg Config, opts ...Option) *Index {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.Dimension <= 0 && embedder != nil {
		cfg.Dimension = embedder.Dimension()
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	x := &Index{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		policy:   retry.Default(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.logger = x.logger.With(zap.String("collection", cfg.Collection))
	if x.policy.Logger == nil {
		x.policy.Logger = x.logger
	}
	return x
}

// Rebuild replaces the collection with the given documents and returns the
// number of indexed entries. The new contents are built aside and published
// only when every batch is stored; on failure the previous contents stay.
func (x *Index) Rebuild(ctx context.Context, docs []catalog.Document) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.rebuild(ctx, docs)
}

// Load opens the collection. An empty collection is rebuilt from the source
// when one is configured.
func (x *Index) Load(ctx context.Context) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	count, err := x.store.Count(ctx, x.cfg.Collection)
	if err != nil {
		return 0, fmt.Errorf("count collection: %w", err)
	}
	if count > 0 {
		x.logger.Info("vector index loaded", zap.Int("documents", count))
		return count, nil
	}

	if x.source == nil {
		return 0, ErrNoData
	}

	x.logger.Info("vector index is empty, rebuilding from source")
	docs, err := x.source(ctx)
	if err != nil {
		return 0, fmt.Errorf("load documents: %w", err)
	}
	if len(docs) == 0 {
		return 0, ErrNoData
	}

	return x.rebuild(ctx, docs)
}

// Query returns the k nearest entries. Failures are logged and yield no matches.
func (x *Index) Query(ctx context.Context, vector []float32, k int) []Match {
	x.mu.RLock()
	defer x.mu.RUnlock()

	matches, err := x.store.Search(ctx, x.cfg.Collection, vector, k)
	if err != nil {
		x.logger.Error("vector search failed", zap.Error(err))
		observability.Fallback("vector_search")
		return []Match{}
	}
	return matches
}

// Search embeds text in query mode and returns its k nearest entries. A
// failed embedding is replaced by a zero vector.
func (x *Index) Search(ctx context.Context, text string, k int) []Match {
	vector, err := retry.Value(ctx, x.policy, "embed_query", func(ctx context.Context) ([]float32, error) {
		return x.embedder.Embed(ctx, text, ai.ModeQuery)
	})
	if err != nil {
		x.logger.Warn("query embedding failed, using zero vector", zap.Error(err))
		observability.Fallback("embed_query")
		vector = make([]float32, x.cfg.Dimension)
	}
	return x.Query(ctx, vector, k)
}

func (x *Index) Count(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.store.Count(ctx, x.cfg.Collection)
}

// Get returns a stored entry by id.
func (x *Index) Get(ctx context.Context, id string) (Entry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.store.Get(ctx, x.cfg.Collection, id)
}

// Precompute embeds all documents without touching the store. The result can
// be written with WriteSnapshot and reused by later rebuilds.
func (x *Index) Precompute(ctx context.Context, docs []catalog.Document) (*Snapshot, error) {
	pool, err := ants.NewPool(x.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	defer pool.Release()

	snapshot := &Snapshot{
		IDs:        make([]string, 0, len(docs)),
		Embeddings: make([][]float32, 0, len(docs)),
		Texts:      make([]string, 0, len(docs)),
		Metadatas:  make([]catalog.Metadata, 0, len(docs)),
	}

	err = x.forEachBatch(ctx, docs, true, func(batch []catalog.Document, _ int) error {
		vectors := x.embedBatch(ctx, pool, batch)
		for i, doc := range batch {
			snapshot.IDs = append(snapshot.IDs, doc.ID)
			snapshot.Embeddings = append(snapshot.Embeddings, vectors[i])
			snapshot.Texts = append(snapshot.Texts, doc.Text)
			snapshot.Metadatas = append(snapshot.Metadatas, doc.Metadata)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (x *Index) rebuild(ctx context.Context, docs []catalog.Document) (int, error) {
	start := time.Now()

	stage, err := x.store.Stage(ctx, x.cfg.Collection)
	if err != nil {
		return 0, fmt.Errorf("stage collection: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := stage.Discard(context.WithoutCancel(ctx)); err != nil {
			x.logger.Warn("discarding unfinished rebuild", zap.Error(err))
		}
	}()

	snapshot := x.matchingSnapshot(docs)

	var pool *ants.Pool
	if snapshot == nil {
		pool, err = ants.NewPool(x.cfg.Workers)
		if err != nil {
			return 0, fmt.Errorf("create embedding pool: %w", err)
		}
		defer pool.Release()
	}

	indexed := 0
	err = x.forEachBatch(ctx, docs, snapshot == nil, func(batch []catalog.Document, offset int) error {
		var vectors [][]float32
		if snapshot != nil {
			vectors = snapshot.Embeddings[offset : offset+len(batch)]
		} else {
			vectors = x.embedBatch(ctx, pool, batch)
		}

		entries := make([]Entry, 0, len(batch))
		for i, doc := range batch {
			entries = append(entries, Entry{
				ID:       doc.ID,
				Vector:   vectors[i],
				Text:     doc.Text,
				Metadata: doc.Metadata,
			})
		}

		if err := stage.Upsert(ctx, entries); err != nil {
			return fmt.Errorf("upsert batch at %d: %w", offset, err)
		}
		indexed += len(entries)

		x.logger.Debug("indexed batch",
			zap.Int("offset", offset),
			zap.Int("size", len(entries)),
			zap.Bool("precomputed", snapshot != nil),
		)
		return nil
	})
	if err != nil {
		x.logger.Warn("rebuild interrupted, keeping the previous index",
			zap.Int("staged", indexed),
			zap.Error(err),
		)
		return 0, err
	}

	if err := stage.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit collection: %w", err)
	}
	committed = true

	x.logger.Info("vector index rebuilt",
		zap.Int("documents", indexed),
		zap.Bool("precomputed", snapshot != nil),
		zap.Duration("took", time.Since(start)),
	)
	return indexed, nil
}

// forEachBatch walks docs in BatchSize chunks. With pace set, BatchDelay is
// awaited between consecutive batches.
func (x *Index) forEachBatch(ctx context.Context, docs []catalog.Document, pace bool, fn func(batch []catalog.Document, offset int) error) error {
	for offset := 0; offset < len(docs); offset += x.cfg.BatchSize {
		if pace && offset > 0 {
			if err := utils.WaitFor(ctx, x.cfg.BatchDelay); err != nil {
				return err
			}
		}

		end := min(offset+x.cfg.BatchSize, len(docs))
		if err := fn(docs[offset:end], offset); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) matchingSnapshot(docs []catalog.Document) *Snapshot {
	if x.cfg.SnapshotPath == "" {
		return nil
	}

	snapshot, err := ReadSnapshot(x.cfg.SnapshotPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			x.logger.Warn("ignoring unreadable embeddings snapshot",
				zap.String("path", x.cfg.SnapshotPath),
				zap.Error(err),
			)
		}
		return nil
	}

	if !snapshot.Matches(docs, x.cfg.Dimension) {
		x.logger.Warn("embeddings snapshot does not match documents, embedding on the fly",
			zap.String("path", x.cfg.SnapshotPath),
			zap.Int("snapshot_ids", len(snapshot.IDs)),
			zap.Int("documents", len(docs)),
		)
		return nil
	}

	x.logger.Info("using precomputed embeddings", zap.String("path", x.cfg.SnapshotPath))
	return snapshot
}

// embedBatch embeds every document of the batch on the pool. The result is
// aligned with batch.
func (x *Index) embedBatch(ctx context.Context, pool *ants.Pool, batch []catalog.Document) [][]float32 {
	vectors := make([][]float32, len(batch))

	var wg sync.WaitGroup
	for i, doc := range batch {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			vectors[i] = x.embedDocument(ctx, doc)
		}
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	return vectors
}

// embedDocument never fails: provider errors and malformed vectors become a
// zero vector so the document keeps its slot.
func (x *Index) embedDocument(ctx context.Context, doc catalog.Document) []float32 {
	vector, err := retry.Value(ctx, x.policy, "embed_document", func(ctx context.Context) ([]float32, error) {
		return x.embedder.Embed(ctx, doc.Text, ai.ModeDocument)
	})
	if err == nil && len(vector) != x.cfg.Dimension {
		err = fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vector), x.cfg.Dimension)
	}
	if err != nil {
		x.logger.Warn("document embedding failed, using zero vector",
			zap.String("id", doc.ID),
			zap.Error(err),
		)
		observability.Fallback("embed_document")
		return make([]float32, x.cfg.Dimension)
	}
	return vector
}
