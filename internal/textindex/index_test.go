package textindex

import (
	"testing"

	"github.com/lecternapp/render/internal/cache"
	"github.com/lecternapp/render/internal/render"
)

type staticPages int

func (p staticPages) PageCount(render.DocumentID) (int, bool) { return int(p), true }

type recordingSched struct {
	doc   render.DocumentID
	pages []int
	calls int
}

func (s *recordingSched) ScheduleTextExtract(doc render.DocumentID, pages []int) {
	s.doc = doc
	s.pages = pages
	s.calls++
}

func newTestIndex(pages int) (*Index, *cache.Cache, *recordingSched) {
	c := cache.New(cache.Config{})
	sched := &recordingSched{}
	return New(Config{Cache: c, Pages: staticPages(pages), Sched: sched}), c, sched
}

func TestSearch_FindsMatchesInPageOrder(t *testing.T) {
	idx, c, _ := newTestIndex(5)

	c.PutText(render.TextKey("doc", 3), "a fox ran")
	c.PutText(render.TextKey("doc", 1), "the fox and the other fox")
	c.PutText(render.TextKey("doc", 2), "no match here")

	var got []Match
	for m := range idx.Search("doc", "fox") {
		got = append(got, m)
	}

	if len(got) != 2 {
		t.Fatalf("matches = %d, want 2", len(got))
	}
	if got[0].Page != 1 || got[1].Page != 3 {
		t.Errorf("pages = %d,%d, want 1,3 (page order)", got[0].Page, got[1].Page)
	}
	if len(got[0].Offsets) != 2 {
		t.Errorf("page 1 offsets = %v, want 2 hits", got[0].Offsets)
	}
	if got[0].Offsets[0] != 4 {
		t.Errorf("first offset = %d, want 4", got[0].Offsets[0])
	}
}

func TestSearch_CaseInsensitive(t *testing.T) {
	idx, c, _ := newTestIndex(1)
	c.PutText(render.TextKey("doc", 0), "The Quick FOX")

	found := false
	for range idx.Search("doc", "fox") {
		found = true
	}
	if !found {
		t.Error("expected case-insensitive match")
	}
}

func TestSearch_SchedulesMissingPages(t *testing.T) {
	idx, c, sched := newTestIndex(4)
	c.PutText(render.TextKey("doc", 1), "fox")

	for range idx.Search("doc", "fox") {
	}

	if sched.calls != 1 {
		t.Fatalf("scheduler calls = %d, want 1", sched.calls)
	}
	if sched.doc != "doc" {
		t.Errorf("scheduled doc = %s", sched.doc)
	}
	if len(sched.pages) != 3 {
		t.Errorf("scheduled pages = %v, want the 3 without text", sched.pages)
	}
}

func TestSearch_RestartableSeesNewText(t *testing.T) {
	idx, c, _ := newTestIndex(2)

	count := func() int {
		n := 0
		for range idx.Search("doc", "fox") {
			n++
		}
		return n
	}

	if count() != 0 {
		t.Fatal("expected no matches before extraction")
	}

	c.PutText(render.TextKey("doc", 0), "fox")
	c.PutText(render.TextKey("doc", 1), "fox")

	if count() != 2 {
		t.Error("restarted search should see newly extracted text")
	}
}

func TestSearch_EmptyTermYieldsNothing(t *testing.T) {
	idx, c, sched := newTestIndex(2)
	c.PutText(render.TextKey("doc", 0), "anything")

	for range idx.Search("doc", "") {
		t.Fatal("empty term must not match")
	}
	if sched.calls != 0 {
		t.Error("empty term must not schedule extraction")
	}
}

func TestSearch_EarlyBreakStopsScan(t *testing.T) {
	idx, c, _ := newTestIndex(3)
	for p := 0; p < 3; p++ {
		c.PutText(render.TextKey("doc", p), "fox")
	}

	seen := 0
	for range idx.Search("doc", "fox") {
		seen++
		break
	}
	if seen != 1 {
		t.Errorf("seen = %d, want 1 after break", seen)
	}
}

func TestSearch_OffsetsIndexOriginalText(t *testing.T) {
	idx, c, _ := newTestIndex(1)

	// Multi-byte runes before the hit shift byte offsets; the reported
	// offset must slice the page's actual text, not a folded copy.
	text := "naïve Über-Fox"
	c.PutText(render.TextKey("doc", 0), text)

	var got []Match
	for m := range idx.Search("doc", "fox") {
		got = append(got, m)
	}
	if len(got) != 1 || len(got[0].Offsets) != 1 {
		t.Fatalf("matches = %v, want one hit", got)
	}
	off := got[0].Offsets[0]
	if text[off:off+3] != "Fox" {
		t.Errorf("text[%d:%d] = %q, want %q", off, off+3, text[off:off+3], "Fox")
	}
}

func TestFindAll(t *testing.T) {
	cases := []struct {
		hay, needle string
		want        []int
	}{
		{"abcabc", "abc", []int{0, 3}},
		{"aaaa", "aa", []int{0, 2}},
		{"none", "xyz", nil},
		{"Fox fOX", "fox", []int{0, 4}},
		{"Straße fuß", "FUSS", nil}, // folds that change byte length don't match
	}
	for _, tc := range cases {
		got := findAll(tc.hay, tc.needle)
		if len(got) != len(tc.want) {
			t.Errorf("findAll(%q,%q) = %v, want %v", tc.hay, tc.needle, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("findAll(%q,%q) = %v, want %v", tc.hay, tc.needle, got, tc.want)
			}
		}
	}
}
