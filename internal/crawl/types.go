package crawl

import (
	"net/http"
	"time"
)

// State is the lifecycle state of a frontier entry.
type State string

// Frontier entry states persisted in the store. Done and Failed are
// terminal; entries are never deleted so dedup and audit survive runs.
const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateDeferred   State = "deferred"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Entry is one URL tracked by the frontier. NormalizedURL is the unique
// key; Fingerprint identifies content and is filled in after a successful
// fetch, independent of URL identity.
type Entry struct {
	NormalizedURL string
	Fingerprint   string
	Domain        string
	Priority      int
	Depth         int
	State         State
	AttemptCount  int
	EligibleAt    time.Time
	DiscoveredAt  time.Time
	LastAttemptAt time.Time
	ParentURL     string
}

// Outcome classifies how processing of a dequeued entry ended.
type Outcome int

const (
	// OutcomeSuccess marks the entry done.
	OutcomeSuccess Outcome = iota
	// OutcomeTransientFailure defers the entry for a retry, bounded by
	// the retry budget.
	OutcomeTransientFailure
	// OutcomeTerminalFailure fails the entry immediately.
	OutcomeTerminalFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeTerminalFailure:
		return "terminal_failure"
	default:
		return "unknown"
	}
}

// Page is a fetched HTTP document, possibly rendered headlessly.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	UsedJS     bool
}

// ContentLength returns the body size in bytes.
func (p Page) ContentLength() int {
	return len(p.Body)
}

// Block is one heading-tagged span of extracted text. HeadingPath lists
// the enclosing section titles from the outermost heading inward.
type Block struct {
	HeadingPath []string
	Text        string
}

// Document is the chunker input: the ordered blocks of one source page.
type Document struct {
	SourceID string
	Blocks   []Block
	Metadata map[string]string
}

// ChunkRecord is one bounded span of a document prepared for retrieval.
// Records are immutable once emitted; ChunkID is a pure function of
// (SourceID, SequenceIndex, Text) so re-runs reproduce identical ids.
type ChunkRecord struct {
	ChunkID           string            `json:"chunk_id"`
	SourceID          string            `json:"source_id"`
	SequenceIndex     int               `json:"sequence_index"`
	Text              string            `json:"text"`
	TokenCount        int               `json:"token_count"`
	HeadingPath       []string          `json:"heading_path"`
	OverlapTokenCount int               `json:"overlap_token_count"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Link is a discovered outbound link fed back into the frontier.
type Link struct {
	URL  string
	Text string
}
