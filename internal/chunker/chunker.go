// Package chunker turns one document's ordered heading-tagged blocks
// into a bounded sequence of retrieval chunks. It is pure and stateless:
// identical input always reproduces identical chunk ids and text, so
// re-indexing a source never creates duplicates.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JakeFAU/ragharvest/internal/crawl"
)

// ErrEmptyDocument is returned when a document carries no usable text.
// Callers should log and skip the document; it is never fatal to a run.
var ErrEmptyDocument = errors.New("chunker: document has no text blocks")

// Config holds the chunking bounds.
type Config struct {
	// MinTokens is the smallest chunk emitted mid-document. Smaller
	// trailing remainders are merged into the previous chunk.
	MinTokens int

	// MaxTokens is the hard upper bound per chunk.
	MaxTokens int

	// OverlapFraction of MaxTokens is carried from the tail of each
	// chunk into the next, aligned to sentence boundaries.
	OverlapFraction float64

	// HeadingLevel is the deepest heading depth that still forces a
	// chunk boundary when the buffer has reached MinTokens.
	HeadingLevel int
}

// DefaultConfig returns the bounds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MinTokens:       200,
		MaxTokens:       1000,
		OverlapFraction: 0.1,
		HeadingLevel:    2,
	}
}

// Validate checks the configured ranges.
func (c Config) Validate() error {
	if c.MinTokens <= 0 {
		return fmt.Errorf("chunker.min_tokens must be positive, got %d", c.MinTokens)
	}
	if c.MinTokens >= c.MaxTokens {
		return fmt.Errorf("chunker.min_tokens (%d) must be less than chunker.max_tokens (%d)", c.MinTokens, c.MaxTokens)
	}
	if c.OverlapFraction < 0 || c.OverlapFraction >= 1 {
		return fmt.Errorf("chunker.overlap_fraction must be in [0,1), got %g", c.OverlapFraction)
	}
	if c.HeadingLevel < 1 || c.HeadingLevel > 6 {
		return fmt.Errorf("chunker.heading_level must be in [1,6], got %d", c.HeadingLevel)
	}
	return nil
}

// Chunker splits documents. Safe for concurrent use across documents.
type Chunker struct {
	cfg           Config
	overlapTarget int
}

// New constructs a Chunker, failing fast on an invalid config.
func New(cfg Config) (*Chunker, error) {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{
		cfg:           cfg,
		overlapTarget: int(cfg.OverlapFraction * float64(cfg.MaxTokens)),
	}, nil
}

// Split chunks one document. Chunks are returned in sequence order;
// SequenceIndex is contiguous from 0 and ChunkID is a pure function of
// (SourceID, SequenceIndex, Text).
func (c *Chunker) Split(doc crawl.Document) ([]crawl.ChunkRecord, error) {
	if !hasText(doc.Blocks) {
		return nil, ErrEmptyDocument
	}

	var drafts []draft
	var buf []sentence

	// flush emits the buffer as a draft and reseeds it with the
	// overlap suffix of what was emitted.
	flush := func() {
		drafts = append(drafts, draftFrom(buf))
		buf = c.overlapSuffix(buf)
	}

	// add places one sentence into the buffer, emitting whenever the
	// hard bound would be crossed. A sentence too large for an empty
	// buffer is word-split as a last resort.
	add := func(s sentence) {
		for {
			total := totalTokens(buf)
			if total+s.tokens <= c.cfg.MaxTokens {
				buf = append(buf, s)
				return
			}
			if freshTokens(buf) > 0 {
				flush()
				continue
			}
			head, rest := splitSentenceAt(s, c.cfg.MaxTokens-total)
			buf = append(buf, head)
			flush()
			s = rest
		}
	}

	for i, blk := range doc.Blocks {
		if i > 0 && c.opensSection(doc.Blocks[i-1].HeadingPath, blk.HeadingPath) &&
			totalTokens(buf) >= c.cfg.MinTokens && freshTokens(buf) > 0 {
			flush()
		}
		for _, s := range splitSentences(blk.Text) {
			add(sentence{text: s, tokens: countTokens(s), heading: blk.HeadingPath})
		}
	}

	// Document end. A short document becomes its single chunk; a
	// trailing remainder below MinTokens folds backward into the
	// previous chunk; an overlap-only remainder is already covered.
	fresh := freshTokens(buf)
	switch {
	case len(drafts) == 0:
		drafts = append(drafts, draftFrom(buf))
	case fresh == 0:
	case fresh >= c.cfg.MinTokens:
		drafts = append(drafts, draftFrom(buf))
	default:
		drafts[len(drafts)-1] = mergeFresh(drafts[len(drafts)-1], buf)
	}

	records := make([]crawl.ChunkRecord, 0, len(drafts))
	for i, d := range drafts {
		records = append(records, crawl.ChunkRecord{
			ChunkID:           chunkID(doc.SourceID, i, d.text),
			SourceID:          doc.SourceID,
			SequenceIndex:     i,
			Text:              d.text,
			TokenCount:        d.tokens,
			HeadingPath:       d.heading,
			OverlapTokenCount: d.overlapTokens,
			Metadata:          doc.Metadata,
		})
	}
	return records, nil
}

// sentence is the unit of buffering. overlap marks sentences reseeded
// from the previous chunk; only fresh sentences count toward forward
// progress.
type sentence struct {
	text    string
	tokens  int
	heading []string
	overlap bool
}

// draft is an emitted chunk before id assignment.
type draft struct {
	text          string
	tokens        int
	heading       []string
	overlapTokens int
}

func draftFrom(buf []sentence) draft {
	var b strings.Builder
	var tokens, overlapTokens int
	for i, s := range buf {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s.text)
		tokens += s.tokens
		if s.overlap {
			overlapTokens += s.tokens
		}
	}
	d := draft{text: b.String(), tokens: tokens, overlapTokens: overlapTokens}
	if len(buf) > 0 {
		d.heading = buf[0].heading
	}
	return d
}

// mergeFresh folds the fresh sentences of a trailing remainder into the
// previous draft. The previous chunk's upper bound may be exceeded; the
// overlap portion of the remainder is discarded since the receiving
// chunk already contains that text.
func mergeFresh(d draft, buf []sentence) draft {
	var b strings.Builder
	b.WriteString(d.text)
	for _, s := range buf {
		if s.overlap {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(s.text)
		d.tokens += s.tokens
	}
	d.text = b.String()
	return d
}

// overlapSuffix picks the trailing sentences of an emitted buffer whose
// token total lands nearest the overlap target, never splitting a
// sentence and never carrying the whole buffer forward.
func (c *Chunker) overlapSuffix(buf []sentence) []sentence {
	if c.overlapTarget == 0 {
		return nil
	}
	sum := 0
	cut := len(buf)
	for cut > 1 && sum < c.overlapTarget {
		next := sum + buf[cut-1].tokens
		if next >= c.cfg.MaxTokens {
			break
		}
		if next > c.overlapTarget && next-c.overlapTarget > c.overlapTarget-sum {
			break
		}
		sum = next
		cut--
	}
	if cut == len(buf) {
		return nil
	}
	seed := make([]sentence, 0, len(buf)-cut)
	for _, s := range buf[cut:] {
		s.overlap = true
		seed = append(seed, s)
	}
	return seed
}

// opensSection reports whether a block starts a section significant
// enough to force a boundary: its heading path changed and is no deeper
// than the configured level.
func (c *Chunker) opensSection(prev, next []string) bool {
	if len(next) == 0 || len(next) > c.cfg.HeadingLevel {
		return false
	}
	if len(prev) != len(next) {
		return true
	}
	for i := range next {
		if prev[i] != next[i] {
			return true
		}
	}
	return false
}

func hasText(blocks []crawl.Block) bool {
	for _, blk := range blocks {
		if strings.TrimSpace(blk.Text) != "" {
			return true
		}
	}
	return false
}

func totalTokens(buf []sentence) int {
	n := 0
	for _, s := range buf {
		n += s.tokens
	}
	return n
}

func freshTokens(buf []sentence) int {
	n := 0
	for _, s := range buf {
		if !s.overlap {
			n += s.tokens
		}
	}
	return n
}

func chunkID(sourceID string, sequenceIndex int, text string) string {
	h := sha256.New()
	io.WriteString(h, sourceID)
	h.Write([]byte{0})
	io.WriteString(h, strconv.Itoa(sequenceIndex))
	h.Write([]byte{0})
	io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}
