package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"scriptoria/internal/config"
)

// NewEmbedder creates the embedding client described by cfg. The same
// embedder serves chunks at build time and queries at answer time.
func NewEmbedder(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Loaded embedder config")

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		client = llm
	case "openai":
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.APIKey(), "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// BatchFunc is told about every finished batch; batch is 1-based.
type BatchFunc func(batch, batches, processed, total int)

// EmbedBatches embeds texts in fixed-size batches and L2-normalizes the result.
func EmbedBatches(ctx context.Context, embedder embeddings.Embedder, texts []string, batchSize int, onBatch BatchFunc) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	total := len(texts)
	batches := (total + batchSize - 1) / batchSize

	vectors := make([][]float32, 0, total)
	for i := 0; i < total; i += batchSize {
		end := min(i+batchSize, total)
		batch, err := embedder.EmbedDocuments(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d/%d: %w", i/batchSize+1, batches, err)
		}
		if len(batch) != end-i {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-i)
		}
		vectors = append(vectors, batch...)

		log.Debug().Int("batch", i/batchSize+1).Int("batches", batches).Msg("Processed batch")
		if onBatch != nil {
			onBatch(i/batchSize+1, batches, end, total)
		}
	}

	if err := checkDimensions(vectors); err != nil {
		return nil, err
	}
	Normalize(vectors)
	return vectors, nil
}

// EmbedQuery embeds a single query and L2-normalizes it.
func EmbedQuery(ctx context.Context, embedder embeddings.Embedder, text string) ([]float32, error) {
	v, err := embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(v) == 0 {
		return nil, errors.New("embedder returned an empty query vector")
	}
	out := append([]float32(nil), v...)
	normalize(out)
	return out, nil
}

// Normalize scales every vector to unit L2 norm in place. Zero vectors are left as they are.
func Normalize(vectors [][]float32) {
	for _, v := range vectors {
		normalize(v)
	}
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

func checkDimensions(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	d := len(vectors[0])
	if d == 0 {
		return errors.New("embedder returned empty vectors")
	}
	for i, v := range vectors {
		if len(v) != d {
			return fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), d)
		}
	}
	return nil
}
