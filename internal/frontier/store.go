package frontier

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/ragharvest/internal/crawl"
)

// Store errors shared by all implementations.
var (
	// ErrNotFound indicates the normalized URL is not in the store.
	ErrNotFound = errors.New("frontier: entry not found")
	// ErrDuplicate indicates an insert hit an existing normalized URL.
	ErrDuplicate = errors.New("frontier: entry already exists")
	// ErrCorrupt indicates the persisted store is unreadable or
	// internally inconsistent. It is fatal: a run must not start on a
	// corrupt store.
	ErrCorrupt = errors.New("frontier: store corrupt")
)

// Counts aggregates entries per state.
type Counts struct {
	Pending    int
	InProgress int
	Deferred   int
	Done       int
	Failed     int
}

// Total returns the number of entries across all states.
func (c Counts) Total() int {
	return c.Pending + c.InProgress + c.Deferred + c.Done + c.Failed
}

// Store is the durable table backing the frontier. Implementations must
// make ClaimNext a single atomic read-modify-write: no two concurrent
// callers may ever claim the same entry.
type Store interface {
	// Insert adds a new entry, returning ErrDuplicate if the normalized
	// URL is already known.
	Insert(ctx context.Context, entry crawl.Entry) error

	// Get returns the entry for a normalized URL or ErrNotFound.
	Get(ctx context.Context, normalizedURL string) (crawl.Entry, error)

	// RaisePriority lifts an entry's priority to the given value if it is
	// higher than the stored one. No other field is touched.
	RaisePriority(ctx context.Context, normalizedURL string, priority int) error

	// ClaimNext atomically selects the eligible entry with the highest
	// priority (ties broken by earliest DiscoveredAt), skipping entries
	// whose domain appears in blockedDomains, and transitions it to
	// in_progress with AttemptCount incremented and LastAttemptAt
	// stamped. The second return is false when nothing is eligible.
	ClaimNext(ctx context.Context, now time.Time, blockedDomains []string) (crawl.Entry, bool, error)

	// MarkDone transitions an in_progress entry to done and records the
	// content fingerprint observed for it.
	MarkDone(ctx context.Context, normalizedURL, fingerprint string) error

	// Defer transitions an in_progress entry to deferred with the given
	// eligibility time.
	Defer(ctx context.Context, normalizedURL string, eligibleAt time.Time) error

	// MarkFailed transitions an entry to the terminal failed state.
	MarkFailed(ctx context.Context, normalizedURL, reason string) error

	// ReleaseStale requeues every in_progress entry whose LastAttemptAt
	// is at or before cutoff: back to pending when AttemptCount is below
	// maxAttempts, otherwise failed. It returns how many entries took
	// each path.
	ReleaseStale(ctx context.Context, cutoff time.Time, maxAttempts int) (requeued, failed int, err error)

	// NextEligibleAt returns the earliest EligibleAt among pending and
	// deferred entries; ok is false when none remain.
	NextEligibleAt(ctx context.Context) (at time.Time, ok bool, err error)

	// Counts returns per-state entry counts.
	Counts(ctx context.Context) (Counts, error)

	// Reset discards all persisted entries (the --fresh path).
	Reset(ctx context.Context) error

	// Close releases store resources.
	Close(ctx context.Context) error
}
