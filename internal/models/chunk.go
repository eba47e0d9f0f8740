package models

import "context"

// Document is the extracted text of a source file together with its page map.
// PageOf[i] is the 1-based page that produced byte i of Text.
type Document struct {
	Text   string
	PageOf []int
	Pages  int
}

// PageAt returns the page of the byte at offset, clamped to the document bounds.
func (d *Document) PageAt(offset int) int {
	if len(d.PageOf) == 0 {
		return 1
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(d.PageOf) {
		offset = len(d.PageOf) - 1
	}
	return d.PageOf[offset]
}

// Chunk represents a token-bounded span of document text with page provenance
type Chunk struct {
	Text          string `json:"text"`
	Pages         []int  `json:"pages"`
	EmbeddingText string `json:"embedding_text"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RetrievalResult holds contexts in document order, not relevance order.
type RetrievalResult struct {
	Contexts  []string
	Pages     []int
	Positions []int
}

// Hit is one nearest-neighbour match; Position is the chunk index.
type Hit struct {
	Position int
	Distance float32
}

// VectorIndex is an exact nearest-neighbour index over L2-normalized vectors.
// Search returns hits ordered by ascending distance, ties by ascending position.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Count() int
}

type PromptResponse struct {
	Query   string
	Source  string
	Content string
}
