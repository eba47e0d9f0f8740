package rag

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"scriptoria/internal/embedding"
	"scriptoria/internal/helper"
	"scriptoria/internal/indexer"
	"scriptoria/internal/models"
	"scriptoria/internal/rerank"
)

// Retriever finds the chunks relevant to a query: a coarse vector search,
// a cross-encoder rerank, then a window of neighbours around each winner.
type Retriever struct {
	embedder embeddings.Embedder
	scorer   rerank.Scorer
}

// NewRetriever builds a retriever. With a nil scorer the coarse vector order is kept.
func NewRetriever(embedder embeddings.Embedder, scorer rerank.Scorer) *Retriever {
	return &Retriever{embedder: embedder, scorer: scorer}
}

func (r *Retriever) Retrieve(ctx context.Context, gen *indexer.Generation, query string, k, window int) (*models.RetrievalResult, error) {
	if gen == nil || len(gen.Chunks) == 0 {
		return nil, ErrNotReady
	}
	if k <= 0 {
		return &models.RetrievalResult{}, nil
	}
	n := len(gen.Chunks)

	query = helper.TruncateRunes(query, models.MaxQueryChars)
	vec, err := embedding.EmbedQuery(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}

	fetch := min(k*models.CoarseFetchFactor, models.CoarseFetchCap, n)
	hits, err := gen.Index.Search(ctx, vec, fetch)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	candidates := make([]int, 0, len(hits))
	for _, h := range hits {
		if h.Position >= 0 && h.Position < n {
			candidates = append(candidates, h.Position)
		}
	}

	centers, err := r.rerank(ctx, gen.Chunks, query, candidates)
	if err != nil {
		return nil, err
	}
	if len(centers) > k {
		centers = centers[:k]
	}

	positions := expandWindow(centers, window, n)
	result := &models.RetrievalResult{
		Contexts:  make([]string, len(positions)),
		Positions: positions,
	}
	var pages []int
	for i, p := range positions {
		result.Contexts[i] = gen.Chunks[p].Text
		pages = append(pages, gen.Chunks[p].Pages...)
	}
	result.Pages = helper.SortedUnique(pages)

	log.Ctx(ctx).Debug().
		Int("candidates", len(candidates)).
		Ints("centers", centers).
		Int("contexts", len(positions)).
		Ints("pages", result.Pages).
		Msg("Retrieved contexts")
	return result, nil
}

// rerank orders candidates by descending cross-encoder score. Equal scores
// keep their vector-search order.
func (r *Retriever) rerank(ctx context.Context, chunks []models.Chunk, query string, candidates []int) ([]int, error) {
	if r.scorer == nil || len(candidates) == 0 {
		return candidates, nil
	}
	passages := make([]string, len(candidates))
	for i, p := range candidates {
		passages[i] = rerankPassage(chunks[p].Text)
	}
	scores, err := r.scorer.Score(ctx, query, passages)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("%w: got %d scores for %d passages", rerank.ErrRerank, len(scores), len(candidates))
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	ranked := make([]int, len(order))
	for i, o := range order {
		ranked[i] = candidates[o]
	}
	return ranked, nil
}

func rerankPassage(text string) string {
	if helper.RuneLen(text) <= models.MaxRerankChars {
		return text
	}
	return helper.TruncateRunes(text, models.MaxRerankChars) + "..."
}

// expandWindow returns the ascending union of [c-w, c+w] clipped to [0, n-1].
func expandWindow(centers []int, w, n int) []int {
	if w < 0 {
		w = 0
	}
	seen := make([]bool, n)
	for _, c := range centers {
		for i := max(0, c-w); i <= min(n-1, c+w); i++ {
			seen[i] = true
		}
	}
	var out []int
	for i, ok := range seen {
		if ok {
			out = append(out, i)
		}
	}
	return out
}
