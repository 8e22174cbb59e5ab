package engine

import (
	"testing"

	"github.com/lazypower/memgraph/internal/store"
)

func TestSplitParagraphs(t *testing.T) {
	content := "Title line\nsecond line\n\n\nNext block\n   \nLast"

	got := splitParagraphs(content)
	want := []paragraph{
		{Text: "Title line\nsecond line", Lines: store.LineRange{Start: 1, End: 2}},
		{Text: "Next block", Lines: store.LineRange{Start: 5, End: 5}},
		{Text: "Last", Lines: store.LineRange{Start: 7, End: 7}},
	}
	if len(got) != len(want) {
		t.Fatalf("paragraphs = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paragraph %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if ps := splitParagraphs("  \n\n "); len(ps) != 0 {
		t.Errorf("blank content produced %d paragraphs", len(ps))
	}
}
