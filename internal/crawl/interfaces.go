package crawl

import (
	"context"
	"time"
)

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Renderer executes a page with JavaScript and returns the DOM snapshot.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
	Close(ctx context.Context) error
}

// Detector decides whether a probe-fetched page needs headless rendering.
type Detector interface {
	NeedsJS(ctx context.Context, page Page) bool
}

// Extractor turns a rendered page into an ordered block document plus the
// in-scope links it references.
type Extractor interface {
	Extract(page Page) (Document, []Link, error)
}

// ChunkSink persists emitted chunk records for one source document.
type ChunkSink interface {
	StoreChunks(ctx context.Context, records []ChunkRecord) error
}

// BlobStore archives raw page snapshots and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher notifies downstream consumers that a document was processed.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
