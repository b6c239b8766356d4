package codec

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lecternapp/render/internal/render"
)

// DefaultMaxOpenDocuments caps how many documents stay open at once. The
// least recently used document is closed when the cap is exceeded.
const DefaultMaxOpenDocuments = 8

// ErrUnknownFormat is returned when no gateway is registered for a file's
// extension.
var ErrUnknownFormat = fmt.Errorf("codec: no gateway for format")

type openDoc struct {
	doc     *Document
	gateway Gateway
}

// Registry maps formats to gateways and tracks open documents. Format
// selection happens once, at open time; after that callers resolve a
// DocumentID to its document and gateway without branching on format.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	open     *lru.Cache[render.DocumentID, *openDoc]
	logger   *slog.Logger
}

// RegistryConfig configures a new registry. Zero values take defaults.
type RegistryConfig struct {
	MaxOpenDocuments int
	Logger           *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "codec")

	maxOpen := cfg.MaxOpenDocuments
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenDocuments
	}

	r := &Registry{
		gateways: make(map[string]Gateway),
		logger:   logger,
	}

	// Evicted documents are closed; the cache keeps native decoder state
	// bounded the same way the page cache bounds pixels.
	open, err := lru.NewWithEvict(maxOpen, func(id render.DocumentID, od *openDoc) {
		if err := od.gateway.Close(od.doc); err != nil {
			logger.Warn("closing evicted document failed", "doc", id, "error", err)
		}
		logger.Debug("document closed on eviction", "doc", id, "path", od.doc.Path)
	})
	if err != nil {
		return nil, err
	}
	r.open = open

	return r, nil
}

// Register adds a gateway for a format (file extension without the dot,
// e.g. "pdf"). Later registrations replace earlier ones.
func (r *Registry) Register(format string, gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[strings.ToLower(format)] = gw
	r.logger.Info("registered codec gateway", "format", format)
}

// Open opens path with the gateway registered for its extension, mints a
// DocumentID and tracks the open handle.
func (r *Registry) Open(ctx context.Context, path string) (*Document, error) {
	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	r.mu.RLock()
	gw, ok := r.gateways[format]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	doc, err := gw.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	doc.ID = render.DocumentID(uuid.NewString())
	doc.Format = format

	r.open.Add(doc.ID, &openDoc{doc: doc, gateway: gw})
	r.logger.Info("document opened", "doc", doc.ID, "path", path, "format", format, "pages", doc.PageCount)

	return doc, nil
}

// Resolve returns the open document and its gateway. The lookup refreshes
// the document's recency so actively viewed documents are not closed.
func (r *Registry) Resolve(id render.DocumentID) (*Document, Gateway, bool) {
	od, ok := r.open.Get(id)
	if !ok {
		return nil, nil, false
	}
	return od.doc, od.gateway, true
}

// PageCount returns the page count of an open document.
func (r *Registry) PageCount(id render.DocumentID) (int, bool) {
	doc, _, ok := r.Resolve(id)
	if !ok {
		return 0, false
	}
	return doc.PageCount, true
}

// Close closes and forgets an open document. Closing an unknown ID is a
// no-op.
func (r *Registry) Close(id render.DocumentID) {
	// Remove triggers the eviction callback, which closes the handle.
	r.open.Remove(id)
}

// OpenCount returns how many documents are currently open.
func (r *Registry) OpenCount() int {
	return r.open.Len()
}
