package codec

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lecternapp/render/internal/render"
)

// MockGateway is a synthetic in-memory codec for tests and the bench
// harness. It fills buffers with a deterministic per-page pattern so results
// can be compared byte-for-byte, and exposes knobs for latency, failures and
// cancellation checkpoints.
type MockGateway struct {
	// Pages is the page count reported by Open.
	Pages int

	// Latency is added to every decode, in two halves with a cancellation
	// checkpoint in between.
	Latency time.Duration

	// FailPage makes decodes of that page fail with FailKind. -1 disables.
	FailPage int
	FailKind render.ErrorKind

	// WithText attaches synthetic extracted text to pixel decodes.
	WithText bool

	// Decodes counts Decode calls that ran to completion.
	Decodes atomic.Int64
}

// NewMockGateway returns a gateway with pages pages and no fault injection.
func NewMockGateway(pages int) *MockGateway {
	return &MockGateway{Pages: pages, FailPage: -1}
}

// Open returns a handle; the mock has no native state.
func (g *MockGateway) Open(ctx context.Context, path string) (*Document, error) {
	return &Document{Path: path, PageCount: g.Pages}, nil
}

// Close is a no-op for the mock.
func (g *MockGateway) Close(doc *Document) error {
	return nil
}

// PageText is the synthetic text the mock extracts for a page.
func PageText(doc *Document, page int) string {
	return fmt.Sprintf("page %d of %s. the quick brown fox jumps over the lazy dog.", page, doc.Path)
}

// PatternByte is the deterministic pixel pattern the mock writes, useful for
// asserting buffer contents in tests.
func PatternByte(page, i int) byte {
	return byte(page*31 + i)
}

// Decode fills the destination with the page pattern. The decode is split
// into two stages with a cancellation checkpoint between them; a request
// cancelled before the checkpoint returns Cancelled, one cancelled after it
// completes normally.
func (g *MockGateway) Decode(ctx context.Context, req DecodeRequest) (DecodeResult, error) {
	key := render.Key{Doc: req.Doc.ID, Page: req.Page, Width: req.Width, Height: req.Height}

	if req.Page < 0 || req.Page >= req.Doc.PageCount {
		return DecodeResult{}, render.NewDecodeError(render.ErrCorrupt, key,
			fmt.Errorf("page %d out of range [0,%d)", req.Page, req.Doc.PageCount))
	}
	if g.FailPage >= 0 && req.Page == g.FailPage {
		return DecodeResult{}, render.NewDecodeError(g.FailKind, key, fmt.Errorf("injected failure"))
	}

	// Stage one: parse.
	if err := g.wait(ctx, g.Latency/2); err != nil {
		return DecodeResult{}, err
	}

	// Checkpoint.
	if req.IsCancelled != nil && req.IsCancelled() {
		return DecodeResult{}, render.NewDecodeError(render.ErrCancelled, key, nil)
	}

	// Stage two: rasterize.
	if err := g.wait(ctx, g.Latency/2); err != nil {
		return DecodeResult{}, err
	}

	res := DecodeResult{}
	if req.Dest != nil {
		for i := range req.Dest {
			req.Dest[i] = PatternByte(req.Page, i)
		}
		res.BytesWritten = len(req.Dest)
		if g.WithText {
			res.Text = PageText(req.Doc, req.Page)
		}
	} else {
		res.Text = PageText(req.Doc, req.Page)
	}

	g.Decodes.Add(1)
	return res, nil
}

func (g *MockGateway) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
