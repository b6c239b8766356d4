// Package render holds the domain types shared across the decode pipeline:
// render keys, task priorities and states, and the decode error taxonomy.
package render

import "fmt"

// DocumentID identifies one open document for the lifetime of a viewer
// session. IDs are minted by the codec registry when a document is opened.
type DocumentID string

// PageMode selects how a page maps onto the rendered artifact.
type PageMode uint8

const (
	// ModeSingle renders the full page.
	ModeSingle PageMode = iota
	// ModeLeftHalf renders the left half of a page shown as a spread.
	ModeLeftHalf
	// ModeRightHalf renders the right half of a page shown as a spread.
	ModeRightHalf
)

func (m PageMode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeLeftHalf:
		return "left-half"
	case ModeRightHalf:
		return "right-half"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// CropRect is a normalized crop region, all fields in [0,1] fractions of the
// page. The zero value means no crop.
type CropRect struct {
	X float32
	Y float32
	W float32
	H float32
}

// IsZero reports whether no crop is applied.
func (c CropRect) IsZero() bool {
	return c == CropRect{}
}

// Key uniquely identifies one renderable artifact: a page of a document at a
// specific target size, crop and page mode. Keys are comparable and used
// directly as map keys; two equal keys must resolve to the same cached
// result.
type Key struct {
	Doc    DocumentID
	Page   int
	Width  int
	Height int
	Crop   CropRect
	Mode   PageMode
}

// TextOnly reports whether this key requests text extraction without pixels.
// A zero target size is the sentinel for text-only work scheduled by the
// text index.
func (k Key) TextOnly() bool {
	return k.Width == 0 && k.Height == 0
}

func (k Key) String() string {
	if k.TextOnly() {
		return fmt.Sprintf("%s/p%d/text", k.Doc, k.Page)
	}
	return fmt.Sprintf("%s/p%d/%dx%d/%s", k.Doc, k.Page, k.Width, k.Height, k.Mode)
}

// TextKey returns the text-only key for a document page. All text extraction
// for a page shares one key regardless of the sizes pixels were requested at.
func TextKey(doc DocumentID, page int) Key {
	return Key{Doc: doc, Page: page}
}
