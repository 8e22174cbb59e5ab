package store

import (
	"strconv"
	"strings"

	"github.com/lazypower/memgraph/internal/apperr"
)

// LineRange is an inclusive line span inside a source document.
type LineRange struct {
	Start int
	End   int
}

func (r LineRange) String() string {
	if r.Start == r.End {
		return strconv.Itoa(r.Start)
	}
	return strconv.Itoa(r.Start) + "-" + strconv.Itoa(r.End)
}

// ParseLineRange parses "N" or "N-M" (1-based, N <= M).
func ParseLineRange(s string) (LineRange, error) {
	s = strings.TrimSpace(s)
	startStr, endStr, hasEnd := strings.Cut(s, "-")
	if !hasEnd {
		endStr = startStr
	}

	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return LineRange{}, apperr.Validation("parse line range", "malformed line range %q", s)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return LineRange{}, apperr.Validation("parse line range", "malformed line range %q", s)
	}
	if start < 1 || end < start {
		return LineRange{}, apperr.Validation("parse line range", "invalid line range %q", s)
	}
	return LineRange{Start: start, End: end}, nil
}
