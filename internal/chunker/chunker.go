package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"scriptoria/internal/helper"
	"scriptoria/internal/models"
)

// ErrChunking wraps tokenizer and segmentation failures.
var ErrChunking = errors.New("chunking failed")

var pageMarkerRe = regexp.MustCompile(`\s*` + models.PageMarkerRegex + `\s*`)

// Chunker splits page-mapped text into overlapping, token-bounded chunks.
type Chunker struct {
	tokenizer    Tokenizer
	segmenter    Segmenter
	maxTokens    int
	overlapRatio float64
}

func New(tokenizer Tokenizer, segmenter Segmenter, maxTokens int, overlapRatio float64) *Chunker {
	return &Chunker{
		tokenizer:    tokenizer,
		segmenter:    segmenter,
		maxTokens:    maxTokens,
		overlapRatio: overlapRatio,
	}
}

// span is the share of the buffer contributed by one sentence.
type span struct {
	tokens int
	pages  []int
}

type buffer struct {
	parts  []string
	tokens []int
	spans  []span
}

func (b *buffer) add(text string, tokens []int, pages []int) {
	b.parts = append(b.parts, text)
	b.tokens = append(b.tokens, tokens...)
	b.spans = append(b.spans, span{tokens: len(tokens), pages: pages})
}

func (b *buffer) text() string {
	return strings.Join(b.parts, " ")
}

func (b *buffer) pages() []int {
	var all []int
	for _, s := range b.spans {
		all = append(all, s.pages...)
	}
	return helper.SortedUnique(all)
}

// tailPages returns the pages of the sentences covering the last n tokens.
func (b *buffer) tailPages(n int) []int {
	var all []int
	for i := len(b.spans) - 1; i >= 0 && n > 0; i-- {
		all = append(all, b.spans[i].pages...)
		n -= b.spans[i].tokens
	}
	return helper.SortedUnique(all)
}

// Chunk greedily packs sentences into chunks of at most maxTokens tokens.
// When a chunk closes, the next one starts with the trailing overlap tokens of
// the closed one. A sentence longer than maxTokens on its own is cut into
// maxTokens-sized token windows, each emitted as its own chunk.
func (c *Chunker) Chunk(doc *models.Document) (chunks []models.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			chunks, err = nil, fmt.Errorf("%w: %v", ErrChunking, r)
		}
	}()

	if c.maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be positive", ErrChunking)
	}

	sentences, err := c.segmenter.Segment(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunking, err)
	}

	markers := pageMarkerRe.FindAllStringIndex(doc.Text, -1)
	overlap := int(c.overlapRatio * float64(c.maxTokens))

	var buf buffer
	cursor := 0
	for _, raw := range sentences {
		sentence := strings.TrimSpace(raw)
		if sentence == "" {
			continue
		}

		var pages []int
		if start := strings.Index(doc.Text[cursor:], sentence); start >= 0 {
			start += cursor
			end := start + len(sentence)
			pages = pagesInSpan(doc, markers, start, end)
			cursor = end
		}

		clean := strings.TrimSpace(pageMarkerRe.ReplaceAllString(sentence, " "))
		if clean == "" {
			continue
		}
		if len(pages) == 0 {
			pages = []int{doc.PageAt(cursor)}
		}

		tokens := c.tokenizer.Encode(clean)
		if len(tokens) == 0 {
			continue
		}

		if len(buf.tokens)+len(tokens) <= c.maxTokens {
			buf.add(clean, tokens, pages)
			continue
		}

		chunks = appendChunk(chunks, buf.text(), buf.pages())

		if len(tokens) > c.maxTokens {
			chunks = c.hardSplit(chunks, tokens, pages)
			buf = buffer{}
			continue
		}

		buf = c.seed(&buf, overlap, len(tokens))
		buf.add(clean, tokens, pages)
	}
	chunks = appendChunk(chunks, buf.text(), buf.pages())

	log.Debug().Int("sentences", len(sentences)).Int("chunks", len(chunks)).Msg("Chunked document")
	return chunks, nil
}

// seed builds the next buffer from the tail of prev. The carried tokens are
// limited so that the incoming sentence still fits in the budget.
func (c *Chunker) seed(prev *buffer, overlap, incoming int) buffer {
	keep := min(overlap, c.maxTokens-incoming, len(prev.tokens))
	if keep <= 0 {
		return buffer{}
	}

	tail := prev.tokens[len(prev.tokens)-keep:]
	text := strings.TrimSpace(c.tokenizer.Decode(tail))
	if text == "" {
		return buffer{}
	}
	tokens := c.tokenizer.Encode(text)
	if len(tokens) > keep {
		tokens = tokens[len(tokens)-keep:]
		text = strings.TrimSpace(c.tokenizer.Decode(tokens))
	}

	var next buffer
	next.add(text, tokens, prev.tailPages(keep))
	return next
}

func (c *Chunker) hardSplit(chunks []models.Chunk, tokens []int, pages []int) []models.Chunk {
	for i := 0; i < len(tokens); i += c.maxTokens {
		end := min(i+c.maxTokens, len(tokens))
		chunks = appendChunk(chunks, c.tokenizer.Decode(tokens[i:end]), pages)
	}
	return chunks
}

func appendChunk(chunks []models.Chunk, text string, pages []int) []models.Chunk {
	text = strings.TrimSpace(text)
	if text == "" || len(pages) == 0 {
		return chunks
	}
	return append(chunks, models.Chunk{
		Text:          text,
		Pages:         helper.SortedUnique(pages),
		EmbeddingText: TruncateForEmbedding(text),
	})
}

// pagesInSpan collects the pages of the non-space bytes in [start, end) that
// do not belong to a page marker.
func pagesInSpan(doc *models.Document, markers [][]int, start, end int) []int {
	end = min(end, len(doc.PageOf))
	seen := make(map[int]struct{})
	var pages []int
	m := 0
	for pos := start; pos < end; pos++ {
		for m < len(markers) && markers[m][1] <= pos {
			m++
		}
		if m < len(markers) && markers[m][0] <= pos {
			pos = markers[m][1] - 1
			continue
		}
		switch doc.Text[pos] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			continue
		}
		p := doc.PageOf[pos]
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			pages = append(pages, p)
		}
	}
	return helper.SortedUnique(pages)
}

// TruncateForEmbedding applies the embedding-time character ceiling. The cut
// is moved back to the last full stop when that keeps enough of the text.
func TruncateForEmbedding(text string) string {
	if helper.RuneLen(text) <= models.MaxEmbeddingChars {
		return text
	}
	truncated := helper.TruncateRunes(text, models.MaxEmbeddingChars)
	if last := strings.LastIndex(truncated, "."); last >= 0 && helper.RuneLen(truncated[:last]) > models.MinSentenceCutChar {
		truncated = truncated[:last+1]
	}
	return truncated
}
