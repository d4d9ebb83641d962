package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/assessment-recommender/internal/ai"
	"github.com/spigell/assessment-recommender/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	defaultEmbeddingModel     = "text-embedding-004"
	defaultEmbeddingDimension = 768

	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

type EmbedderConfig struct {
	Model             string  `mapstructure:"embedding-model"`
	Dimension         int     `mapstructure:"dimension"`
	RequestsPerMinute float64 `mapstructure:"requests-per-minute"`
}

// Embedder produces retrieval embeddings through the Gemini embedding API.
type Embedder struct {
	models    models
	modelName string
	dimension int
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func NewEmbedder(client *genai.Client, cfg EmbedderConfig, log *zap.Logger) (*Embedder, error) {
	if client == nil || client.Models == nil {
		return nil, errors.New("genai client is required")
	}
	return newEmbedder(client.Models, cfg, log), nil
}

func newEmbedder(m models, cfg EmbedderConfig, log *zap.Logger) *Embedder {
	if cfg.Model = strings.TrimSpace(cfg.Model); cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultEmbeddingDimension
	}

	e := &Embedder{
		models:    m,
		modelName: cfg.Model,
		dimension: cfg.Dimension,
		logger:    logger.WithCommonFields(log, Provider, cfg.Model),
	}
	if cfg.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1)
	}
	return e
}

// Embed returns the embedding of text for the given retrieval mode.
func (e *Embedder) Embed(ctx context.Context, text string, mode ai.EmbeddingMode) ([]float32, error) {
	task, err := taskType(mode)
	if err != nil {
		return nil, err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	resp, err := e.models.EmbedContent(ctx, e.modelName, genai.Text(text), &genai.EmbedContentConfig{TaskType: task})
	if err != nil {
		return nil, classify(fmt.Errorf("embed content: %w", err))
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini api returned empty embedding")
	}

	values := resp.Embeddings[0].Values
	if len(values) != e.dimension {
		e.logger.Warn("unexpected embedding dimension",
			zap.Int("expected", e.dimension),
			zap.Int("got", len(values)),
		)
	}

	return values, nil
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

func taskType(mode ai.EmbeddingMode) (string, error) {
	switch mode {
	case ai.ModeDocument:
		return taskRetrievalDocument, nil
	case ai.ModeQuery:
		return taskRetrievalQuery, nil
	default:
		return "", fmt.Errorf("unsupported embedding mode %q", mode)
	}
}
