package engine

import (
	"strings"

	"github.com/lazypower/memgraph/internal/store"
)

// paragraph is a blank-line separated block of a document with its 1-based
// line span.
type paragraph struct {
	Text  string
	Lines store.LineRange
}

// splitParagraphs breaks content on blank lines. Whitespace-only blocks are
// dropped.
func splitParagraphs(content string) []paragraph {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	var out []paragraph
	var buf []string
	start := 0
	flush := func(end int) {
		if len(buf) == 0 {
			return
		}
		out = append(out, paragraph{
			Text:  strings.TrimSpace(strings.Join(buf, "\n")),
			Lines: store.LineRange{Start: start, End: end},
		})
		buf = nil
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush(i)
			continue
		}
		if len(buf) == 0 {
			start = i + 1
		}
		buf = append(buf, line)
	}
	flush(len(lines))
	return out
}
