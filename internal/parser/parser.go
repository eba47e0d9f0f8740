package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"scriptoria/internal/models"
)

// ErrParse is returned when every extraction strategy for a document failed.
// It is terminal; a corrupt document does not get better on retry.
var ErrParse = errors.New("document parse failed")

// extractor returns the text of each page of a document, in order.
type extractor struct {
	name    string
	extract func(filePath string) ([]string, error)
}

var strategies = map[string][]extractor{
	".pdf":      {{"pdf", extractPDF}, {"pdf-lenient", extractPDFLenient}},
	".xlsx":     {{"excelize", extractXLSX}, {"xlsx", extractXLSXLenient}},
	".docx":     {{"docx", extractDOCX}},
	".md":       {{"markdown", extractMarkdown}},
	".markdown": {{"markdown", extractMarkdown}},
	".txt":      {{"text", extractText}},
}

// Supported reports whether Parse knows how to read filePath.
func Supported(filePath string) bool {
	_, ok := strategies[strings.ToLower(filepath.Ext(filePath))]
	return ok
}

// Parse extracts the text of filePath together with a byte-to-page map.
// Pages are joined with a page-boundary marker so later stages can attribute
// any byte range to its pages. Strategies are tried in order; the first one
// that yields text wins.
func Parse(filePath string) (*models.Document, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	candidates, ok := strategies[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file format: %s", ErrParse, ext)
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var errs []error
	for _, s := range candidates {
		pages, err := safeExtract(s, filePath)
		if err == nil && !hasText(pages) {
			err = errors.New("no extractable text")
		}
		if err != nil {
			log.Warn().Err(err).Str("strategy", s.name).Str("file", filePath).Msg("Extraction failed, trying next strategy")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		doc := BuildDocument(pages)
		log.Info().Str("strategy", s.name).Int("pages", doc.Pages).Int("bytes", len(doc.Text)).Msg("Extracted document text")
		return doc, nil
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrParse, filePath, errors.Join(errs...))
}

// BuildDocument concatenates page texts, inserting a marker after every page
// but the last. Marker bytes belong to the page they close.
func BuildDocument(pages []string) *models.Document {
	size := 0
	for _, p := range pages {
		size += len(p) + len(models.PageMarkerFormat) + 4
	}

	var text strings.Builder
	text.Grow(size)
	pageOf := make([]int, 0, size)
	for i, p := range pages {
		pageNum := i + 1
		text.WriteString(p)
		pageOf = appendPage(pageOf, pageNum, len(p))
		if pageNum < len(pages) {
			marker := fmt.Sprintf(models.PageMarkerFormat, pageNum)
			text.WriteString(marker)
			pageOf = appendPage(pageOf, pageNum, len(marker))
		}
	}
	return &models.Document{Text: text.String(), PageOf: pageOf, Pages: len(pages)}
}

func appendPage(pageOf []int, page, n int) []int {
	for i := 0; i < n; i++ {
		pageOf = append(pageOf, page)
	}
	return pageOf
}

// safeExtract converts panics from the underlying readers into errors; the
// pdf readers panic on some malformed object streams.
func safeExtract(s extractor, filePath string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("panic during extraction: %v", r)
		}
	}()
	return s.extract(filePath)
}

func hasText(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}
