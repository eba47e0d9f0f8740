package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"scriptoria/internal/embedding"
	"scriptoria/internal/helper"
	"scriptoria/internal/indexer"
	"scriptoria/internal/llmservice"
	"scriptoria/internal/models"
)

// Refiner rewrites a question in the vocabulary of the document before the
// real retrieval runs. It never fails: on any problem the question is
// returned unchanged.
type Refiner struct {
	embedder embeddings.Embedder
	llm      llms.Model
	timeout  time.Duration
}

func NewRefiner(embedder embeddings.Embedder, llm llms.Model, timeout time.Duration) *Refiner {
	return &Refiner{embedder: embedder, llm: llm, timeout: timeout}
}

func (r *Refiner) Refine(ctx context.Context, gen *indexer.Generation, question string, history []models.ConversationTurn) string {
	logger := log.Ctx(ctx)

	refined, err := r.refine(ctx, gen, question, history)
	if err != nil {
		logger.Warn().Err(err).Msg("Question refinement failed, using original question")
		return question
	}
	logger.Debug().Str("original", question).Str("refined", refined).Msg("Refined question")
	return refined
}

func (r *Refiner) refine(ctx context.Context, gen *indexer.Generation, question string, history []models.ConversationTurn) (string, error) {
	if gen == nil || len(gen.Chunks) == 0 {
		return "", ErrNotReady
	}

	vec, err := embedding.EmbedQuery(ctx, r.embedder, helper.TruncateRunes(question, models.MaxQueryChars))
	if err != nil {
		return "", err
	}
	hits, err := gen.Index.Search(ctx, vec, min(models.RoughRetrievalK, len(gen.Chunks)))
	if err != nil {
		return "", err
	}
	var rough []string
	for _, h := range hits {
		if h.Position >= 0 && h.Position < len(gen.Chunks) {
			rough = append(rough, gen.Chunks[h.Position].Text)
		}
	}

	prompt := fmt.Sprintf(models.RefinePromptTemplate,
		strings.Join(rough, models.ContextSeparator),
		formatHistory(history),
		question)

	out, err := llmservice.GenerateContent(ctx, r.llm, prompt, r.timeout)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(thinkRe.ReplaceAllString(out, ""))
	if len(out) >= 2 && strings.HasPrefix(out, `"`) && strings.HasSuffix(out, `"`) {
		out = strings.TrimSpace(out[1 : len(out)-1])
	}
	if out == "" {
		return "", fmt.Errorf("model returned an empty reformulation")
	}
	return out, nil
}
