package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spigell/assessment-recommender/internal/logger"
	"github.com/spigell/assessment-recommender/internal/retry"
	"github.com/spigell/assessment-recommender/internal/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	Provider            = "gemini"
	defaultModel        = "gemini-2.0-flash"
	defaultMaxLogLength = 200
	// Quota errors asking to wait longer than this are not retried.
	maxQuotaRetryDelay = 30 * time.Second
)

// models is the subset of genai.Models used by this package.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeneratorConfig controls text generation.
type GeneratorConfig struct {
	Model             string  `mapstructure:"model"`
	Temperature       float32 `mapstructure:"temperature"`
	TopP              float32 `mapstructure:"top-p"`
	TopK              float32 `mapstructure:"top-k"`
	MaxOutputTokens   int32   `mapstructure:"max-output-tokens"`
	RequestsPerMinute float64 `mapstructure:"requests-per-minute"`
	MaxLogLength      int     `mapstructure:"max-log-length"`
}

// DefaultGeneratorConfig returns the sampling settings the prompts are tuned for.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Model:           defaultModel,
		Temperature:     0.2,
		TopP:            0.8,
		TopK:            40,
		MaxOutputTokens: 2048,
		MaxLogLength:    defaultMaxLogLength,
	}
}

// Generator wraps the Google GenAI client to provide simple prompt-based interactions.
type Generator struct {
	models    models
	modelName string
	config    *genai.GenerateContentConfig
	limiter   *rate.Limiter
	logger    *zap.Logger
	maxLogLen int
}

// NewClient creates a GenAI client configured for the Gemini API backend.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return client, nil
}

// NewGenerator creates a Generator on top of an existing client.
func NewGenerator(client *genai.Client, cfg GeneratorConfig, log *zap.Logger) (*Generator, error) {
	if client == nil || client.Models == nil {
		return nil, errors.New("genai client is required")
	}
	return newGenerator(client.Models, cfg, log), nil
}

func newGenerator(m models, cfg GeneratorConfig, log *zap.Logger) *Generator {
	defaults := DefaultGeneratorConfig()
	if cfg.Model = strings.TrimSpace(cfg.Model); cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaults.Temperature
	}
	if cfg.TopP <= 0 {
		cfg.TopP = defaults.TopP
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.TopK
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaults.MaxOutputTokens
	}
	if cfg.MaxLogLength <= 0 {
		cfg.MaxLogLength = defaults.MaxLogLength
	}

	g := &Generator{
		models:    m,
		modelName: cfg.Model,
		config: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(cfg.Temperature),
			TopP:            genai.Ptr(cfg.TopP),
			TopK:            genai.Ptr(cfg.TopK),
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
		logger:    logger.WithCommonFields(log, Provider, cfg.Model),
		maxLogLen: cfg.MaxLogLength,
	}

	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1)
	}

	return g
}

// GenerateContent sends the prompt to Gemini and returns the joined textual response.
// Errors that will not go away on retry are marked permanent.
func (g *Generator) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if g == nil || g.models == nil {
		return "", retry.Permanent(errors.New("gemini generator is not initialized"))
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", retry.Permanent(errors.New("prompt must not be empty"))
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	g.logger.Debug("gemini generate content request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, g.maxLogLen)),
	)

	resp, err := g.models.GenerateContent(ctx, g.modelName, genai.Text(prompt), g.config)
	if err != nil {
		return "", classify(fmt.Errorf("generate content: %w", err))
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}

	g.logger.Debug("gemini generate content response",
		zap.Int("response_length", utf8.RuneCountInString(output)),
		zap.String("response_preview", utils.TruncateForLog(output, g.maxLogLen)),
	)

	return output, nil
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.modelName
}

var retryDelayPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*(?:s\b|sec|second)`)

// classify marks client errors as permanent. Rate limiting stays retryable
// unless the server asks for a long pause.
func classify(err error) error {
	apiErr, ok := apiErrorOf(err)
	if !ok {
		return err
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		if quotaDelay(apiErr.Message) > maxQuotaRetryDelay {
			return retry.Permanent(err)
		}
		return err
	case apiErr.Code >= 400 && apiErr.Code < 500:
		return retry.Permanent(err)
	default:
		return err
	}
}

func apiErrorOf(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

func quotaDelay(message string) time.Duration {
	match := retryDelayPattern.FindStringSubmatch(message)
	if len(match) < 2 {
		return 0
	}
	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
