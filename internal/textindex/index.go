// Package textindex provides lazy in-document search over extracted page
// text. It piggybacks on the page cache: text arrives either alongside
// pixel decodes or through background text-only tasks scheduled at index
// priority, so repeated searches become progressively more complete.
package textindex

import (
	"iter"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/lecternapp/render/internal/cache"
	"github.com/lecternapp/render/internal/render"
)

// Match is one page's hits: byte offsets of the term within the page's
// actual text. Comparison is Unicode case-insensitive; a hit spans the same
// number of bytes as the term, so case folds that change byte length
// (U+0130 and friends) are not matched.
type Match struct {
	Page    int
	Offsets []int
}

// Scheduler enqueues background text extraction for pages the index has no
// text for yet. Implemented by the decode coordinator.
type Scheduler interface {
	ScheduleTextExtract(doc render.DocumentID, pages []int)
}

// PageCounter resolves a document's page count. Implemented by the codec
// registry.
type PageCounter interface {
	PageCount(id render.DocumentID) (int, bool)
}

// Index searches cached extracted text.
type Index struct {
	cache  *cache.Cache
	pages  PageCounter
	sched  Scheduler
	logger *slog.Logger
}

// Config configures an index. Scheduler may be nil to disable background
// extraction.
type Config struct {
	Cache  *cache.Cache
	Pages  PageCounter
	Sched  Scheduler
	Logger *slog.Logger
}

// New creates an index.
func New(cfg Config) *Index {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		cache:  cfg.Cache,
		pages:  cfg.Pages,
		sched:  cfg.Sched,
		logger: logger.With("component", "textindex"),
	}
}

// Search yields matches in page order. The sequence is lazy and restartable:
// every range over it re-scans the current cache state. Pages without
// extracted text are skipped and scheduled for background extraction, so a
// repeated search sees more pages.
func (x *Index) Search(doc render.DocumentID, term string) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		if term == "" {
			return
		}
		count, ok := x.pages.PageCount(doc)
		if !ok {
			return
		}

		var missing []int
		stopped := false
		for page := 0; page < count; page++ {
			text, ok := x.cache.Text(doc, page)
			if !ok {
				missing = append(missing, page)
				continue
			}
			offsets := findAll(text, term)
			if len(offsets) == 0 {
				continue
			}
			if !yield(Match{Page: page, Offsets: offsets}) {
				stopped = true
				break
			}
		}

		if x.sched != nil && len(missing) > 0 {
			x.logger.Debug("scheduling background text extraction",
				"doc", doc, "pages", len(missing), "stopped_early", stopped)
			x.sched.ScheduleTextExtract(doc, missing)
		}
	}
}

// findAll returns the offsets of all non-overlapping case-insensitive
// occurrences of needle in haystack. Offsets index haystack's own bytes, so
// matching compares equal-length windows of the original text rather than a
// lowercased copy whose byte layout may differ.
func findAll(haystack, needle string) []int {
	var offsets []int
	n := len(needle)
	for i := 0; i+n <= len(haystack); {
		if strings.EqualFold(haystack[i:i+n], needle) {
			offsets = append(offsets, i)
			i += n
			continue
		}
		_, size := utf8.DecodeRuneInString(haystack[i:])
		i += size
	}
	return offsets
}
