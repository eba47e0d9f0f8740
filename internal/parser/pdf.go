package parser

import (
	"math"
	"os"
	"strings"

	lenient "github.com/dslipak/pdf"
	"github.com/ledongthuc/pdf"
)

// extractPDF reads each page with the ledongthuc reader's plain-text extraction.
func extractPDF(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, err
		}
		pages = append(pages, pageText)
	}
	return pages, nil
}

// extractPDFLenient rebuilds page text from raw content-stream text runs.
// It skips pages it cannot decode instead of failing the whole document.
func extractPDFLenient(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := lenient.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		pages = append(pages, lenientPageText(reader.Page(i)))
	}
	return pages, nil
}

func lenientPageText(page lenient.Page) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	if page.V.IsNull() {
		return ""
	}

	var b strings.Builder
	var prev *lenient.Text
	for _, t := range page.Content().Text {
		t := t // per-iteration copy: module targets go 1.21 loop semantics
		if prev != nil {
			lineGap := math.Max(prev.FontSize, t.FontSize) / 2
			switch {
			case math.Abs(t.Y-prev.Y) > lineGap:
				b.WriteByte('\n')
			case t.X > prev.X+prev.W+1:
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
		prev = &t
	}
	return b.String()
}
