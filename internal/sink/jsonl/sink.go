// Package jsonl writes chunk records as JSON lines on the local
// filesystem, one file per source document.
package jsonl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/ragharvest/internal/crawl"
)

// Sink implements crawl.ChunkSink on a directory. Files are rewritten
// whole per batch, so re-chunking a source replaces its chunks instead
// of appending duplicates.
type Sink struct {
	root   string
	logger *zap.Logger
}

// New returns a sink rooted at dir, creating it if needed.
func New(root string, logger *zap.Logger) (*Sink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create chunk dir %s: %w", root, err)
	}
	return &Sink{root: root, logger: logger}, nil
}

// StoreChunks writes one .jsonl file holding the source's full batch.
func (s *Sink) StoreChunks(ctx context.Context, records []crawl.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}

	target := s.filePath(records[0].SourceID)
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", tmp, err)
	}

	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode chunk %s: %w", rec.ChunkID, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("publish %s: %w", target, err)
	}

	s.logger.Debug("wrote chunk file",
		zap.String("path", target),
		zap.Int("chunks", len(records)),
	)
	return nil
}

// filePath derives a stable filename from the source id so re-runs hit
// the same file.
func (s *Sink) filePath(sourceID string) string {
	sum := sha256.Sum256([]byte(sourceID))
	return filepath.Join(s.root, hex.EncodeToString(sum[:16])+".jsonl")
}
