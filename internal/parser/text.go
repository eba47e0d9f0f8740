package parser

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"scriptoria/internal/models"
)

var textMarkerRe = regexp.MustCompile(`^\s*` + models.PageMarkerRegex + `\s*$`)

// textParserState accumulates lines of the current page.
type textParserState struct {
	current strings.Builder
	pages   []string
}

// extractText reads a plain text file line by line. A form feed, as written
// by pdftotext, or a line holding a page marker starts a new page.
func extractText(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var state textParserState
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		processTextLine(scanner.Text(), &state)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	handlePageBreak(&state, true)
	return state.pages, nil
}

func processTextLine(line string, state *textParserState) {
	if textMarkerRe.MatchString(line) {
		handlePageBreak(state, false)
		return
	}
	parts := strings.Split(line, "\f")
	for i, part := range parts {
		if i > 0 {
			handlePageBreak(state, false)
		}
		state.current.WriteString(part)
	}
	state.current.WriteByte('\n')
}

// handlePageBreak closes the current page. A trailing page with nothing but
// whitespace is dropped at the end of the file.
func handlePageBreak(state *textParserState, final bool) {
	page := strings.TrimRight(state.current.String(), "\n")
	state.current.Reset()
	if final && strings.TrimSpace(page) == "" && len(state.pages) > 0 {
		return
	}
	state.pages = append(state.pages, page)
}
