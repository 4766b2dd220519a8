// Package sink persists emitted chunk records: a Postgres store for
// retrieval queries, a JSONL filesystem sink for local runs, and a
// fan-out that writes to several sinks at once.
package sink

import (
	"context"
	"errors"

	"github.com/JakeFAU/ragharvest/internal/crawl"
)

// Fanout writes every batch to all child sinks. A failure in any child
// fails the batch; chunk ids are deterministic, so a retried batch is
// safe to rewrite everywhere.
type Fanout struct {
	sinks []crawl.ChunkSink
}

// NewFanout combines sinks. Nil entries are dropped.
func NewFanout(sinks ...crawl.ChunkSink) *Fanout {
	kept := make([]crawl.ChunkSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{sinks: kept}
}

// StoreChunks delivers the batch to every sink, joining any errors.
func (f *Fanout) StoreChunks(ctx context.Context, records []crawl.ChunkRecord) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.StoreChunks(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
