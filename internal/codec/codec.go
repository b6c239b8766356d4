// Package codec defines the contract to per-format page decoders and the
// registry that tracks which documents are open. The render core never
// implements format logic; it calls a Gateway and interprets its result.
package codec

import (
	"context"

	"github.com/lecternapp/render/internal/render"
)

// Document is an open document handle. The underlying format handle is
// opaque to the core; it is produced by a Gateway's Open and passed back to
// its Decode and Close.
type Document struct {
	ID        render.DocumentID
	Path      string
	Format    string
	PageCount int

	// Handle is the gateway's private state for this document.
	Handle any
}

// DecodeRequest asks a gateway to render one page into Dest.
//
// Dest is sized for Width x Height RGBA pixels and must not be retained
// beyond the call. For text-only requests (render.Key.TextOnly) Dest is nil
// and the gateway must skip rasterization and return extracted text only.
//
// IsCancelled is a cooperative cancellation check. Gateways call it between
// decode stages and abandon work when it reports true; a decode past its
// last checkpoint may still complete.
type DecodeRequest struct {
	Doc         *Document
	Page        int
	Width       int
	Height      int
	Crop        render.CropRect
	Dest        []byte
	IsCancelled func() bool
}

// DecodeResult is the outcome of a successful decode.
type DecodeResult struct {
	BytesWritten int
	// Text is extracted page text when the format can provide it cheaply
	// alongside pixels, or the full extraction for text-only requests.
	Text string
}

// Gateway is one per-format decoder. Implementations must be safe to call
// from any worker goroutine. Decode failures are reported as
// *render.DecodeError with kind Corrupt, Unsupported, Timeout or Cancelled.
type Gateway interface {
	// Open opens a document and returns its handle with PageCount set.
	// The registry fills in ID and Format.
	Open(ctx context.Context, path string) (*Document, error)

	// Close releases the document's format resources.
	Close(doc *Document) error

	// Decode renders one page per the request.
	Decode(ctx context.Context, req DecodeRequest) (DecodeResult, error)
}
