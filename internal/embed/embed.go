// Package embed produces vector embeddings for fragment contents.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns texts into vectors. It matches langchaingo's
// embeddings.Embedder so any langchaingo embedder can be used directly.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config selects the embedding endpoint.
type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	Dimension int
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings API through langchaingo.
type OpenAIEmbedder struct {
	embedder  embeddings.Embedder
	dimension int
	log       *slog.Logger
}

// NewOpenAIEmbedder builds an embedder for cfg. Local servers that need no
// authentication work with an empty APIKey.
func NewOpenAIEmbedder(cfg Config, log *slog.Logger) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("embedding base url is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	e, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &OpenAIEmbedder{
		embedder:  e,
		dimension: cfg.Dimension,
		log:       log.With("component", "embedder", "model", cfg.Model),
	}, nil
}

// Dimension returns the configured vector size, or 0 when unknown.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.log.Error("embedding failed", "count", len(texts), "error", err)
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d texts", len(vecs), len(texts))
	}
	if e.dimension > 0 {
		for i, v := range vecs {
			if len(v) != e.dimension {
				return nil, fmt.Errorf("embed documents: vector %d has dimension %d, want %d", i, len(v), e.dimension)
			}
		}
	}
	e.log.Debug("embedded documents", "count", len(texts))
	return vecs, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
