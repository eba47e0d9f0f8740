package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// Segmenter splits text into sentences. Returned sentences must appear in the
// input verbatim (modulo surrounding whitespace) and in input order.
type Segmenter interface {
	Segment(text string) ([]string, error)
}

type punktSegmenter struct {
	tokenizer *sentences.DefaultSentenceTokenizer
}

// NewPunktSegmenter returns the English Punkt sentence tokenizer, which knows
// about abbreviations, initials and ordinal numbers.
func NewPunktSegmenter() (Segmenter, error) {
	t, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load sentence tokenizer: %v", ErrChunking, err)
	}
	return &punktSegmenter{tokenizer: t}, nil
}

func (p *punktSegmenter) Segment(text string) ([]string, error) {
	tokens := p.tokenizer.Tokenize(text)
	out := make([]string, 0, len(tokens))
	for _, s := range tokens {
		out = append(out, s.Text)
	}
	return out, nil
}

// RegexpSegmenter splits on terminal punctuation only. It is deterministic and
// has no model data, which makes it the segmenter of choice for fixtures.
type RegexpSegmenter struct {
	splitter *regexp.Regexp
}

func NewRegexpSegmenter() *RegexpSegmenter {
	return &RegexpSegmenter{splitter: regexp.MustCompile(`[^.!?]+[.!?]+`)}
}

func (r *RegexpSegmenter) Segment(text string) ([]string, error) {
	var out []string
	last := 0
	for _, loc := range r.splitter.FindAllStringIndex(text, -1) {
		out = append(out, text[loc[0]:loc[1]])
		last = loc[1]
	}
	if tail := text[last:]; strings.TrimSpace(tail) != "" {
		out = append(out, tail)
	}
	return out, nil
}
