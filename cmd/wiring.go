package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spigell/assessment-recommender/internal/ai/gemini"
	"github.com/spigell/assessment-recommender/internal/catalog"
	"github.com/spigell/assessment-recommender/internal/logger"
	"github.com/spigell/assessment-recommender/internal/observability"
	"github.com/spigell/assessment-recommender/internal/query"
	"github.com/spigell/assessment-recommender/internal/ranking"
	"github.com/spigell/assessment-recommender/internal/recommend"
	"github.com/spigell/assessment-recommender/internal/secrets"
	"github.com/spigell/assessment-recommender/internal/vectorindex"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// session holds everything a command needs to run the pipeline.
type session struct {
	config   *Config
	logger   *zap.Logger
	index    *vectorindex.Index
	store    vectorindex.Store
	pipeline *recommend.Pipeline
}

func (r *session) Close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("closing vector store", zap.Error(err))
		}
	}
	_ = r.logger.Sync()
}

// setup builds the logger and reads the config. Failures are fatal.
func setup() (*Config, *zap.Logger) {
	logger, err := logger.New(logger.Config{
		JSON:    viper.GetBool("json"),
		Debug:   viper.GetBool("debug"),
		File:    viper.GetString("log-file"),
		Service: app,
		Version: version,
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		logger.Fatal("config is required")
	}

	logger.Info("starting the " + app)

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(*config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	return config, logger
}

// newSession wires the provider, the vector index and the pipeline. The index
// is loaded, and built from the catalog when it is empty.
func newSession(ctx context.Context, config *Config, logger *zap.Logger) (*session, error) {
	observability.InitMetrics()

	client, err := newGeminiClient(ctx, config)
	if err != nil {
		return nil, err
	}

	index, store, err := openIndex(client, config, logger)
	if err != nil {
		return nil, err
	}
	rt := &session{config: config, logger: logger, index: index, store: store}

	count, err := index.Load(ctx)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("loading vector index: %w", err)
	}
	logger.Info("vector index ready", zap.Int("documents", count))

	generator, err := gemini.NewGenerator(client, config.Gemini.GeneratorConfig, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	policy := config.Retry
	rt.pipeline = recommend.NewPipeline(
		query.NewUnderstander(generator, policy, logger),
		index,
		ranking.NewRanker(generator, policy, logger),
		config.Search,
		logger,
	)
	return rt, nil
}

// openIndex creates the store and the index without loading any data.
func openIndex(client *genai.Client, config *Config, logger *zap.Logger) (*vectorindex.Index, vectorindex.Store, error) {
	embedder, err := gemini.NewEmbedder(client, gemini.EmbedderConfig{
		Model:             config.Gemini.EmbeddingModel,
		Dimension:         config.Index.Dimension,
		RequestsPerMinute: config.Gemini.RequestsPerMinute,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(config.Index, logger)
	if err != nil {
		return nil, nil, err
	}

	source := func(context.Context) ([]catalog.Document, error) {
		records, err := catalog.Load(config.Catalog)
		if err != nil {
			return nil, err
		}
		logger.Info("catalog loaded", zap.Int("records", len(records)))
		return catalog.Documents(records), nil
	}

	index := vectorindex.New(store, embedder, config.Index.Config,
		vectorindex.WithSource(source),
		vectorindex.WithRetry(config.Retry),
		vectorindex.WithLogger(logger),
	)
	return index, store, nil
}

func openStore(cfg IndexConfig, logger *zap.Logger) (vectorindex.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case backendMemory:
		return vectorindex.NewMemoryStore(), nil
	case "", backendBadger:
		store, err := vectorindex.OpenBadgerStore(cfg.Path, cfg.Path == "", logger)
		if err != nil {
			return nil, fmt.Errorf("opening badger store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

func newGeminiClient(ctx context.Context, config *Config) (*genai.Client, error) {
	apiKey, err := resolveAPIKey(config)
	if err != nil {
		return nil, fmt.Errorf("loading gemini api key: %w (set GEMINI_API_KEY or GEMINI_API_KEY_FILE)", err)
	}
	return gemini.NewClient(ctx, apiKey)
}

func resolveAPIKey(config *Config) (string, error) {
	if config == nil {
		return "", errors.New("config is required")
	}

	return secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: config.Gemini.APIKey,
		File:  config.Gemini.APIKeyFile,
		Env:   "GOOGLE_API_KEY",
	})
}

// redacted hides secrets before the config is logged.
func redacted(c Config) Config {
	if c.Gemini.APIKey != "" {
		c.Gemini.APIKey = "***"
	}
	return c
}
