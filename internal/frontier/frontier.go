// Package frontier implements the durable crawl frontier: a persistent
// priority queue of canonical URLs with dedup, per-domain politeness,
// retry backoff, and crash recovery.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ragharvest/internal/canonical"
	"github.com/JakeFAU/ragharvest/internal/crawl"
	"github.com/JakeFAU/ragharvest/internal/metrics"
)

// EnqueueStatus reports how an enqueue request was resolved.
type EnqueueStatus int

const (
	// Added means a new pending entry was created.
	Added EnqueueStatus = iota
	// AlreadyKnown means the canonical URL was seen before; at most its
	// priority was raised.
	AlreadyKnown
	// Rejected means the URL was not admitted.
	Rejected
)

func (s EnqueueStatus) String() string {
	switch s {
	case Added:
		return "added"
	case AlreadyKnown:
		return "already_known"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// EnqueueResult is the outcome of one Enqueue call.
type EnqueueResult struct {
	Status        EnqueueStatus
	NormalizedURL string
	Reason        string
}

// Config holds the frontier knobs. All values are validated by the
// config package before reaching here.
type Config struct {
	MaxDepth         int
	MaxRetryAttempts int
	RequestDelay     time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
}

// Frontier is the single source of truth for what to crawl next. All
// state-mutating operations route through the Store, whose ClaimNext is
// atomic, so entries are never handed to two workers at once.
type Frontier struct {
	store   Store
	cfg     Config
	clock   crawl.Clock
	gate    *domainGate
	backoff backoffPolicy
	logger  *zap.Logger

	// claimMu serializes the gate snapshot, the store claim, and the
	// gate touch. Two dequeues overlapping inside ClaimNext would
	// otherwise both see a domain as unblocked and claim entries of
	// that domain closer together than the politeness delay.
	claimMu sync.Mutex

	recovered bool
}

// New constructs a Frontier over the given store. RecoverOnStartup must
// run before the first DequeueNext.
func New(store Store, cfg Config, clock crawl.Clock, logger *zap.Logger) *Frontier {
	return &Frontier{
		store:   store,
		cfg:     cfg,
		clock:   clock,
		gate:    newDomainGate(cfg.RequestDelay),
		backoff: newBackoffPolicy(cfg.BackoffBase, cfg.BackoffMax),
		logger:  logger,
	}
}

// Enqueue admits a discovered URL. The raw URL is canonicalized first;
// dedup happens on the canonical form, independent of content
// fingerprints. Re-enqueueing a known URL only raises its priority.
func (f *Frontier) Enqueue(ctx context.Context, rawURL string, depth int, parentURL string, priorityHint int) (EnqueueResult, error) {
	if depth > f.cfg.MaxDepth {
		return EnqueueResult{Status: Rejected, Reason: fmt.Sprintf("depth %d exceeds max %d", depth, f.cfg.MaxDepth)}, nil
	}

	normalized, err := canonical.Canonicalize(rawURL)
	if err != nil {
		return EnqueueResult{Status: Rejected, Reason: err.Error()}, nil
	}

	now := f.clock.Now()
	entry := crawl.Entry{
		NormalizedURL: normalized,
		Domain:        canonical.Domain(normalized),
		Priority:      priorityHint,
		Depth:         depth,
		State:         crawl.StatePending,
		EligibleAt:    now,
		DiscoveredAt:  now,
		ParentURL:     parentURL,
	}

	err = f.store.Insert(ctx, entry)
	switch {
	case err == nil:
		metrics.ObserveEnqueue(Added.String())
		f.logger.Debug("enqueued url",
			zap.String("url", normalized),
			zap.Int("depth", depth),
			zap.Int("priority", priorityHint),
		)
		return EnqueueResult{Status: Added, NormalizedURL: normalized}, nil
	case errors.Is(err, ErrDuplicate):
		if err := f.store.RaisePriority(ctx, normalized, priorityHint); err != nil {
			return EnqueueResult{}, fmt.Errorf("raise priority for %s: %w", normalized, err)
		}
		metrics.ObserveEnqueue(AlreadyKnown.String())
		return EnqueueResult{Status: AlreadyKnown, NormalizedURL: normalized}, nil
	default:
		return EnqueueResult{}, fmt.Errorf("insert %s: %w", normalized, err)
	}
}

// DequeueNext claims the best eligible entry, skipping domains whose
// politeness window has not elapsed. ok is false when nothing is
// currently eligible; callers should consult NextEligibleAt before
// treating that as exhaustion.
func (f *Frontier) DequeueNext(ctx context.Context) (crawl.Entry, bool, error) {
	if !f.recovered {
		return crawl.Entry{}, false, errors.New("frontier: RecoverOnStartup must run before dequeue")
	}
	if f.cfg.RequestDelay > 0 {
		// The gate only spaces dequeues correctly when no second claim
		// runs between its snapshot and its touch.
		f.claimMu.Lock()
		defer f.claimMu.Unlock()
	}
	now := f.clock.Now()
	entry, ok, err := f.store.ClaimNext(ctx, now, f.gate.Blocked(now))
	if err != nil {
		return crawl.Entry{}, false, fmt.Errorf("claim next: %w", err)
	}
	if !ok {
		return crawl.Entry{}, false, nil
	}
	f.gate.Touch(entry.Domain, now)
	metrics.ObserveDequeue(entry.Domain)
	f.logger.Debug("dequeued url",
		zap.String("url", entry.NormalizedURL),
		zap.Int("attempt", entry.AttemptCount),
	)
	return entry, true, nil
}

// Complete records the outcome for a claimed entry. Transient failures
// are deferred with exponential backoff while the retry budget lasts;
// terminal failures and exhausted budgets fail the entry permanently.
func (f *Frontier) Complete(ctx context.Context, normalizedURL string, outcome crawl.Outcome, fingerprint string) error {
	metrics.ObserveCompletion(outcome.String())
	switch outcome {
	case crawl.OutcomeSuccess:
		if err := f.store.MarkDone(ctx, normalizedURL, fingerprint); err != nil {
			return fmt.Errorf("mark done %s: %w", normalizedURL, err)
		}
		return nil

	case crawl.OutcomeTransientFailure:
		entry, err := f.store.Get(ctx, normalizedURL)
		if err != nil {
			return fmt.Errorf("load %s: %w", normalizedURL, err)
		}
		if entry.AttemptCount >= f.cfg.MaxRetryAttempts {
			f.logger.Warn("retry budget exhausted",
				zap.String("url", normalizedURL),
				zap.Int("attempts", entry.AttemptCount),
			)
			if err := f.store.MarkFailed(ctx, normalizedURL, "retry budget exhausted"); err != nil {
				return fmt.Errorf("mark failed %s: %w", normalizedURL, err)
			}
			return nil
		}
		eligibleAt := f.clock.Now().Add(f.backoff.Delay(entry.AttemptCount))
		if err := f.store.Defer(ctx, normalizedURL, eligibleAt); err != nil {
			return fmt.Errorf("defer %s: %w", normalizedURL, err)
		}
		f.logger.Info("deferred after transient failure",
			zap.String("url", normalizedURL),
			zap.Int("attempt", entry.AttemptCount),
			zap.Time("eligible_at", eligibleAt),
		)
		return nil

	case crawl.OutcomeTerminalFailure:
		if err := f.store.MarkFailed(ctx, normalizedURL, "terminal failure"); err != nil {
			return fmt.Errorf("mark failed %s: %w", normalizedURL, err)
		}
		return nil

	default:
		return fmt.Errorf("unknown outcome %d for %s", outcome, normalizedURL)
	}
}

// ReclaimStale requeues entries whose lease expired: any in_progress
// entry untouched for longer than leaseTimeout is presumed abandoned by
// a dead worker.
func (f *Frontier) ReclaimStale(ctx context.Context, leaseTimeout time.Duration) error {
	cutoff := f.clock.Now().Add(-leaseTimeout)
	requeued, failed, err := f.store.ReleaseStale(ctx, cutoff, f.cfg.MaxRetryAttempts)
	if err != nil {
		return fmt.Errorf("release stale: %w", err)
	}
	if requeued > 0 || failed > 0 {
		f.logger.Info("reclaimed stale leases",
			zap.Int("requeued", requeued),
			zap.Int("failed", failed),
		)
	}
	return nil
}

// RecoverOnStartup unconditionally reclaims every in_progress entry left
// by a prior process lifetime. A crash never loses a URL: the cost is at
// most one extra re-attempt per crash.
func (f *Frontier) RecoverOnStartup(ctx context.Context) error {
	requeued, failed, err := f.store.ReleaseStale(ctx, f.clock.Now(), f.cfg.MaxRetryAttempts)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	if requeued > 0 || failed > 0 {
		f.logger.Info("recovered interrupted run",
			zap.Int("requeued", requeued),
			zap.Int("failed", failed),
		)
	}
	f.recovered = true
	return nil
}

// NextEligibleAt reports when the next pending or deferred entry becomes
// eligible. ok is false when the queue holds no more work.
func (f *Frontier) NextEligibleAt(ctx context.Context) (time.Time, bool, error) {
	at, ok, err := f.store.NextEligibleAt(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next eligible: %w", err)
	}
	return at, ok, nil
}

// Stats returns per-state entry counts and refreshes the state gauges.
func (f *Frontier) Stats(ctx context.Context) (Counts, error) {
	counts, err := f.store.Counts(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("counts: %w", err)
	}
	metrics.SetFrontierCounts(counts.Pending, counts.InProgress, counts.Deferred, counts.Done, counts.Failed)
	return counts, nil
}

// Exhausted reports whether no pending, deferred, or in_progress work
// remains.
func (f *Frontier) Exhausted(ctx context.Context) (bool, error) {
	counts, err := f.Stats(ctx)
	if err != nil {
		return false, err
	}
	return counts.Pending == 0 && counts.Deferred == 0 && counts.InProgress == 0, nil
}

// Close flushes and closes the underlying store.
func (f *Frontier) Close(ctx context.Context) error {
	if err := f.store.Close(ctx); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
