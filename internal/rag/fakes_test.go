package rag

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/llms"

	"scriptoria/internal/chromemdb"
	"scriptoria/internal/indexer"
	"scriptoria/internal/models"
)

func unit(i, dim int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

// mapEmbedder returns a fixed vector per text and a fallback otherwise.
type mapEmbedder struct {
	vectors  map[string][]float32
	fallback []float32

	mu      sync.Mutex
	queries []string
}

func (e *mapEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.EmbedQuery(ctx, t)
	}
	return out, nil
}

func (e *mapEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.queries = append(e.queries, text)
	e.mu.Unlock()
	if v, ok := e.vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return append([]float32(nil), e.fallback...), nil
}

// hashEmbedder derives a deterministic vector from the letters of each text.
type hashEmbedder struct{}

func (hashEmbedder) vector(text string) []float32 {
	v := make([]float32, 8)
	for i, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[int(r-'a')%8] += float32(1 + i%3)
		}
	}
	v[7] += 0.5
	return v
}

func (e hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

// scriptedModel answers refinement prompts and answer prompts differently.
type scriptedModel struct {
	refined string
	answer  string
	err     error
	delay   time.Duration

	calls   atomic.Int32
	mu      sync.Mutex
	prompts []string
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls.Add(1)
	var prompt string
	if len(messages) > 0 && len(messages[0].Parts) > 0 {
		if p, ok := messages[0].Parts[0].(llms.TextContent); ok {
			prompt = p.Text
		}
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	reply := m.answer
	if strings.HasPrefix(prompt, "You are an expert at query reformulation") {
		reply = m.refined
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *scriptedModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// scoreScorer scores passages from a table keyed by passage prefix.
type scoreScorer struct {
	scores map[string]float64
	err    error

	query    string
	passages []string
}

func (s *scoreScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	s.query = query
	s.passages = passages
	if s.err != nil {
		return nil, s.err
	}
	out := make([]float64, len(passages))
	for i, p := range passages {
		for prefix, score := range s.scores {
			if strings.HasPrefix(p, prefix) {
				out[i] = score
			}
		}
	}
	return out, nil
}

// fiveChunkGeneration is a 3-page document cut into 5 chunks whose vectors
// are the basis vectors, so "chunk i" as a query hits position i first.
func fiveChunkGeneration() (*indexer.Generation, *mapEmbedder) {
	chunks := []models.Chunk{
		{Text: "chunk zero text", Pages: []int{1}},
		{Text: "chunk one text", Pages: []int{1, 2}},
		{Text: "chunk two text", Pages: []int{2}},
		{Text: "chunk three text", Pages: []int{2, 3}},
		{Text: "chunk four text", Pages: []int{3}},
	}
	vectors := make([][]float32, len(chunks))
	emb := &mapEmbedder{vectors: map[string][]float32{}, fallback: unit(0, 5)}
	for i := range chunks {
		chunks[i].EmbeddingText = chunks[i].Text
		vectors[i] = unit(i, 5)
		emb.vectors["chunk "+[]string{"zero", "one", "two", "three", "four"}[i]] = unit(i, 5)
	}
	idx, err := chromemdb.Build(context.Background(), vectors)
	if err != nil {
		panic(err)
	}
	return &indexer.Generation{Hash: "test", Chunks: chunks, Index: idx}, emb
}

type wordTokenizer struct {
	ids   map[string]int
	words []string
}

func (w *wordTokenizer) Encode(text string) []int {
	if w.ids == nil {
		w.ids = map[string]int{}
	}
	var out []int
	for _, f := range strings.Fields(text) {
		id, ok := w.ids[f]
		if !ok {
			id = len(w.words)
			w.ids[f] = id
			w.words = append(w.words, f)
		}
		out = append(out, id)
	}
	return out
}

func (w *wordTokenizer) Decode(tokens []int) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = w.words[t]
	}
	return strings.Join(parts, " ")
}
