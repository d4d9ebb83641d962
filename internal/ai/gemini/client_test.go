package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/spigell/assessment-recommender/internal/ai"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

type generateCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type embedCall struct {
	model  string
	text   string
	config *genai.EmbedContentConfig
}

type fakeModels struct {
	mu sync.Mutex

	generateResp *genai.GenerateContentResponse
	generateErr  error
	generated    []generateCall

	embedResp *genai.EmbedContentResponse
	embedErr  error
	embedded  []embedCall
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, generateCall{model: model, contents: contents, config: config})
	return f.generateResp, f.generateErr
}

func (f *fakeModels) EmbedContent(_ context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := ""
	if len(contents) > 0 && contents[0] != nil && len(contents[0].Parts) > 0 {
		text = contents[0].Parts[0].Text
	}
	f.embedded = append(f.embedded, embedCall{model: model, text: text, config: config})
	return f.embedResp, f.embedErr
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func isPermanent(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}

func TestGeneratorJoinsPartsAndAppliesSampling(t *testing.T) {
	models := &fakeModels{generateResp: textResponse("  first ", "", "second")}
	g := newGenerator(models, GeneratorConfig{}, zap.NewNop())

	output, err := g.GenerateContent(context.Background(), "  prompt  ")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if output != "first\nsecond" {
		t.Fatalf("unexpected output: %q", output)
	}

	if len(models.generated) != 1 {
		t.Fatalf("expected 1 call, got %d", len(models.generated))
	}
	call := models.generated[0]
	if call.model != defaultModel {
		t.Fatalf("expected default model, got %q", call.model)
	}
	if call.contents[0].Parts[0].Text != "prompt" {
		t.Fatalf("expected trimmed prompt, got %q", call.contents[0].Parts[0].Text)
	}
	if *call.config.Temperature != 0.2 || *call.config.TopP != 0.8 || *call.config.TopK != 40 || call.config.MaxOutputTokens != 2048 {
		t.Fatalf("unexpected generation config: %+v", call.config)
	}
}

func TestGeneratorRejectsEmptyInputAndOutput(t *testing.T) {
	models := &fakeModels{generateResp: textResponse("   ")}
	g := newGenerator(models, GeneratorConfig{Model: "gemini-pro"}, zap.NewNop())

	if _, err := g.GenerateContent(context.Background(), "   "); err == nil || !isPermanent(err) {
		t.Fatalf("expected permanent error for empty prompt, got %v", err)
	}
	if len(models.generated) != 0 {
		t.Fatalf("expected no api call for empty prompt")
	}

	if _, err := g.GenerateContent(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestGeneratorClassifiesAPIErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{
			name:      "server error is retryable",
			err:       genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"},
			permanent: false,
		},
		{
			name:      "bad request is permanent",
			err:       genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"},
			permanent: true,
		},
		{
			name:      "short quota delay is retryable",
			err:       genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "Please retry in 2.5s."},
			permanent: false,
		},
		{
			name: "long quota delay is permanent",
			err: genai.APIError{
				Code:    http.StatusTooManyRequests,
				Status:  "RESOURCE_EXHAUSTED",
				Message: "quota exhausted, retry after 60 seconds",
			},
			permanent: true,
		},
		{
			name:      "unknown errors are retryable",
			err:       errors.New("connection reset"),
			permanent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &fakeModels{generateErr: tt.err}
			g := newGenerator(models, GeneratorConfig{}, zap.NewNop())

			_, err := g.GenerateContent(context.Background(), "prompt")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := isPermanent(err); got != tt.permanent {
				t.Fatalf("expected permanent=%v, got %v (%v)", tt.permanent, got, err)
			}
		})
	}
}

func TestEmbedderUsesTaskTypePerMode(t *testing.T) {
	models := &fakeModels{embedResp: &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.1, 0.2, 0.3}}},
	}}
	e := newEmbedder(models, EmbedderConfig{Dimension: 3}, zap.NewNop())

	if _, err := e.Embed(context.Background(), "doc text", ai.ModeDocument); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	vector, err := e.Embed(context.Background(), "query text", ai.ModeQuery)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(vector) != 3 {
		t.Fatalf("unexpected vector: %v", vector)
	}

	if len(models.embedded) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(models.embedded))
	}
	if models.embedded[0].config.TaskType != taskRetrievalDocument || models.embedded[0].text != "doc text" {
		t.Fatalf("unexpected document call: %+v", models.embedded[0])
	}
	if models.embedded[1].config.TaskType != taskRetrievalQuery {
		t.Fatalf("unexpected query call: %+v", models.embedded[1])
	}
	if models.embedded[0].model != defaultEmbeddingModel {
		t.Fatalf("expected default embedding model, got %q", models.embedded[0].model)
	}
	if e.Dimension() != 3 {
		t.Fatalf("unexpected dimension %d", e.Dimension())
	}

	if _, err := e.Embed(context.Background(), "x", ai.EmbeddingMode("other")); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestEmbedderReportsEmptyEmbedding(t *testing.T) {
	models := &fakeModels{embedResp: &genai.EmbedContentResponse{}}
	e := newEmbedder(models, EmbedderConfig{}, zap.NewNop())

	if _, err := e.Embed(context.Background(), "text", ai.ModeDocument); err == nil {
		t.Fatal("expected error for empty embedding")
	}
	if e.Dimension() != defaultEmbeddingDimension {
		t.Fatalf("expected default dimension, got %d", e.Dimension())
	}
}
