package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptoria/internal/models"
	"scriptoria/internal/rerank"
)

func TestExpandWindow(t *testing.T) {
	tests := []struct {
		name    string
		centers []int
		w, n    int
		want    []int
	}{
		{"single center", []int{2}, 1, 5, []int{1, 2, 3}},
		{"clipped at both ends", []int{0, 4}, 2, 5, []int{0, 1, 2, 3, 4}},
		{"clipped low", []int{0}, 2, 10, []int{0, 1, 2}},
		{"overlapping windows merge", []int{3, 5}, 1, 10, []int{2, 3, 4, 5, 6}},
		{"disjoint windows", []int{8, 1}, 1, 10, []int{0, 1, 2, 7, 8, 9}},
		{"zero window", []int{4, 2}, 0, 10, []int{2, 4}},
		{"no centers", nil, 3, 10, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandWindow(tt.centers, tt.w, tt.n))
		})
	}
}

func TestRetrieve_WindowAroundTopHit(t *testing.T) {
	gen, emb := fiveChunkGeneration()
	r := NewRetriever(emb, nil)

	res, err := r.Retrieve(context.Background(), gen, "chunk two", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, res.Positions)
	assert.Equal(t, []string{"chunk one text", "chunk two text", "chunk three text"}, res.Contexts)
	assert.Equal(t, []int{1, 2, 3}, res.Pages)
}

func TestRetrieve_RerankDecidesCenters(t *testing.T) {
	gen, emb := fiveChunkGeneration()
	scorer := &scoreScorer{scores: map[string]float64{"chunk one": 0.9, "chunk two": 0.5}}

	res, err := NewRetriever(emb, scorer).Retrieve(context.Background(), gen, "chunk two", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Positions)
	assert.Equal(t, []int{1, 2}, res.Pages)
	assert.Equal(t, "chunk two", scorer.query)
	assert.Len(t, scorer.passages, 3, "coarse fetch is 3k")

	scorer = &scoreScorer{scores: map[string]float64{"chunk four": 0.9, "chunk two": 0.5}}
	res, err = NewRetriever(emb, scorer).Retrieve(context.Background(), gen, "chunk two", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, res.Positions, "contexts come back in document order")
	assert.Equal(t, []string{"chunk two text", "chunk four text"}, res.Contexts)
}

func TestRetrieve_IsDeterministic(t *testing.T) {
	gen, emb := fiveChunkGeneration()
	// every passage ties, so the vector order must decide
	r := NewRetriever(emb, &scoreScorer{})

	first, err := r.Retrieve(context.Background(), gen, "unrelated", 2, 1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), gen, "unrelated", 2, 1)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetrieve_TruncatesQueryAndPassages(t *testing.T) {
	gen, emb := fiveChunkGeneration()
	gen.Chunks[0].Text = strings.Repeat("p", 1500)
	scorer := &scoreScorer{}
	r := NewRetriever(emb, scorer)

	long := strings.Repeat("q", 2000)
	_, err := r.Retrieve(context.Background(), gen, long, 10, 0)
	require.NoError(t, err)

	assert.Len(t, scorer.query, models.MaxQueryChars)
	assert.Equal(t, strings.Repeat("q", models.MaxQueryChars), emb.queries[len(emb.queries)-1])
	assert.Len(t, scorer.passages, 5, "candidates are clamped to the index size")
	var found bool
	for _, p := range scorer.passages {
		if strings.HasPrefix(p, "ppp") {
			found = true
			assert.Len(t, p, models.MaxRerankChars+3)
			assert.True(t, strings.HasSuffix(p, "..."))
		}
	}
	assert.True(t, found)
}

func TestRetrieve_Errors(t *testing.T) {
	_, emb := fiveChunkGeneration()
	_, err := NewRetriever(emb, nil).Retrieve(context.Background(), nil, "q", 3, 1)
	assert.ErrorIs(t, err, ErrNotReady)

	gen, emb := fiveChunkGeneration()
	boom := errors.New("reranker down")
	_, err = NewRetriever(emb, &scoreScorer{err: boom}).Retrieve(context.Background(), gen, "q", 3, 1)
	assert.ErrorIs(t, err, boom)

	_, err = NewRetriever(emb, shortScorer{}).Retrieve(context.Background(), gen, "q", 3, 1)
	assert.ErrorIs(t, err, rerank.ErrRerank)
}

type shortScorer struct{}

func (shortScorer) Score(context.Context, string, []string) ([]float64, error) {
	return []float64{1}, nil
}
