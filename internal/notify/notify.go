// Package notify announces processed documents to downstream indexing
// consumers.
package notify

import "context"

// DocumentProcessed is the message published once per successfully
// chunked document.
type DocumentProcessed struct {
	RunID       string `json:"run_id"`
	SourceURL   string `json:"source_url"`
	Fingerprint string `json:"fingerprint"`
	ChunkCount  int    `json:"chunk_count"`
	SnapshotURI string `json:"snapshot_uri,omitempty"`
}

// NoopPublisher drops every message. Used when no broker is configured.
type NoopPublisher struct{}

// Publish does nothing and returns an empty id.
func (NoopPublisher) Publish(_ context.Context, _ string, _ any) (string, error) {
	return "", nil
}
