package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptoria/internal/models"
	"scriptoria/internal/parser"
)

// wordTokenizer treats every whitespace-separated word as one token.
type wordTokenizer struct {
	ids   map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{ids: map[string]int{}}
}

func (w *wordTokenizer) Encode(text string) []int {
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

type failingSegmenter struct{}

func (failingSegmenter) Segment(string) ([]string, error) { return nil, errors.New("boom") }

func threePageDoc() *models.Document {
	return parser.BuildDocument([]string{
		"The cat sat on the mat. It was a sunny day. Birds sang loudly.",
		"Physics describes motion. Energy is conserved in closed systems.",
		"Waves interfere constructively. The end of the book is near.",
	})
}

func TestChunk_PagesAndTokenBudget(t *testing.T) {
	tok := newWordTokenizer()
	c := New(tok, NewRegexpSegmenter(), 8, 0.25)
	doc := threePageDoc()

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		require.NotEmpty(t, ch.Pages, "chunk %d has no pages", i)
		for j := 1; j < len(ch.Pages); j++ {
			assert.Less(t, ch.Pages[j-1], ch.Pages[j], "chunk %d pages not strictly ascending", i)
		}
		for _, p := range ch.Pages {
			assert.True(t, p >= 1 && p <= 3, "chunk %d has page %d", i, p)
		}
		assert.LessOrEqual(t, len(tok.Encode(ch.EmbeddingText)), 8, "chunk %d over budget", i)
		assert.NotContains(t, ch.Text, "PAGE")
		assert.NotEmpty(t, strings.TrimSpace(ch.Text))
	}

	// every sentence of the source survives in at least one chunk
	all := ""
	for _, ch := range chunks {
		all += ch.Text + " "
	}
	for _, s := range []string{"The cat sat on the mat.", "Energy is conserved in closed systems.", "The end of the book is near."} {
		assert.Contains(t, all, s)
	}
}

func TestChunk_PageAttributionPerSentence(t *testing.T) {
	doc := parser.BuildDocument([]string{"Alpha beta gamma.", "Delta epsilon zeta."})

	chunks, err := New(newWordTokenizer(), NewRegexpSegmenter(), 3, 0).Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Alpha beta gamma.", chunks[0].Text)
	assert.Equal(t, []int{1}, chunks[0].Pages)
	assert.Equal(t, "Delta epsilon zeta.", chunks[1].Text)
	assert.Equal(t, []int{2}, chunks[1].Pages)

	merged, err := New(newWordTokenizer(), NewRegexpSegmenter(), 100, 0.2).Chunk(doc)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "Alpha beta gamma. Delta epsilon zeta.", merged[0].Text)
	assert.Equal(t, []int{1, 2}, merged[0].Pages)
}

func TestChunk_OverlapSeedsNextChunk(t *testing.T) {
	doc := parser.BuildDocument([]string{"One two three. Four five six.", "Seven eight nine."})

	chunks, err := New(newWordTokenizer(), NewRegexpSegmenter(), 6, 0.5).Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "One two three. Four five six.", chunks[0].Text)
	assert.Equal(t, []int{1}, chunks[0].Pages)
	assert.Equal(t, "Four five six. Seven eight nine.", chunks[1].Text)
	assert.Equal(t, []int{1, 2}, chunks[1].Pages)
}

func TestChunk_LongSentenceIsHardSplit(t *testing.T) {
	words := make([]string, 20)
	for i := range words {
		words[i] = "w" + strings.Repeat("x", i)
	}
	long := strings.Join(words, " ") + "."
	doc := parser.BuildDocument([]string{"Short lead. " + long + " Tail here."})

	tok := newWordTokenizer()
	chunks, err := New(tok, NewRegexpSegmenter(), 8, 0.25).Chunk(doc)
	require.NoError(t, err)

	require.Len(t, chunks, 5)
	assert.Equal(t, "Short lead.", chunks[0].Text)
	assert.Len(t, tok.Encode(chunks[1].Text), 8)
	assert.Len(t, tok.Encode(chunks[2].Text), 8)
	assert.Len(t, tok.Encode(chunks[3].Text), 4)
	assert.Equal(t, "Tail here.", chunks[4].Text)
	for _, ch := range chunks {
		assert.Equal(t, []int{1}, ch.Pages)
	}
}

func TestChunk_EmptyAndFailures(t *testing.T) {
	chunks, err := New(newWordTokenizer(), NewRegexpSegmenter(), 8, 0.2).Chunk(parser.BuildDocument([]string{"   "}))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = New(newWordTokenizer(), failingSegmenter{}, 8, 0.2).Chunk(threePageDoc())
	assert.ErrorIs(t, err, ErrChunking)

	_, err = New(newWordTokenizer(), NewRegexpSegmenter(), 0, 0.2).Chunk(threePageDoc())
	assert.ErrorIs(t, err, ErrChunking)
}

func TestTruncateForEmbedding(t *testing.T) {
	short := "A short chunk."
	assert.Equal(t, short, TruncateForEmbedding(short))

	sentence := strings.Repeat("a", 99) + "."
	long := strings.Repeat(sentence, 15) // 1500 chars, a period every 100
	got := TruncateForEmbedding(long)
	assert.Len(t, got, 1200)
	assert.True(t, strings.HasSuffix(got, "."))

	noStop := strings.Repeat("b", 1500)
	assert.Len(t, TruncateForEmbedding(noStop), 1200)

	earlyStop := strings.Repeat("c", 500) + "." + strings.Repeat("d", 1000)
	assert.Len(t, TruncateForEmbedding(earlyStop), 1200, "a stop before char 800 does not move the cut")
}

func TestRegexpSegmenter(t *testing.T) {
	got, err := NewRegexpSegmenter().Segment("First one. Second one! Trailing words")
	require.NoError(t, err)
	assert.Equal(t, []string{"First one.", " Second one!", " Trailing words"}, got)
}

func TestPunktSegmenter(t *testing.T) {
	seg, err := NewPunktSegmenter()
	require.NoError(t, err)

	got, err := seg.Segment("The experiment ran for two weeks. Results were published later.")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "two weeks.")
	assert.Contains(t, got[1], "Results were published later.")
}

func TestTiktokenRoundTrip(t *testing.T) {
	tok, err := NewTiktoken("cl100k_base")
	if err != nil {
		t.Skipf("tokenizer data unavailable: %v", err)
	}
	ids := tok.Encode("Conservation of energy")
	assert.NotEmpty(t, ids)
	assert.Equal(t, "Conservation of energy", tok.Decode(ids))
}
