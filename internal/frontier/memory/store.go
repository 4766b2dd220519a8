// Package memory provides an in-memory frontier store for development
// and tests. It honors the same claim atomicity contract as the Postgres
// store but offers no durability.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/ragharvest/internal/crawl"
	"github.com/JakeFAU/ragharvest/internal/frontier"
)

// Store keeps frontier entries in a mutex-guarded map.
type Store struct {
	mu      sync.Mutex
	entries map[string]*crawl.Entry
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*crawl.Entry)}
}

// Insert adds a new entry or returns ErrDuplicate.
func (s *Store) Insert(_ context.Context, entry crawl.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.NormalizedURL]; ok {
		return frontier.ErrDuplicate
	}
	cp := entry
	s.entries[entry.NormalizedURL] = &cp
	return nil
}

// Get returns a copy of the stored entry.
func (s *Store) Get(_ context.Context, normalizedURL string) (crawl.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[normalizedURL]
	if !ok {
		return crawl.Entry{}, frontier.ErrNotFound
	}
	return *e, nil
}

// RaisePriority lifts the entry's priority if the new value is higher.
func (s *Store) RaisePriority(_ context.Context, normalizedURL string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[normalizedURL]
	if !ok {
		return frontier.ErrNotFound
	}
	if priority > e.Priority {
		e.Priority = priority
	}
	return nil
}

// ClaimNext selects and claims the best eligible entry under the lock,
// so concurrent callers can never receive the same entry.
func (s *Store) ClaimNext(_ context.Context, now time.Time, blockedDomains []string) (crawl.Entry, bool, error) {
	blocked := make(map[string]struct{}, len(blockedDomains))
	for _, d := range blockedDomains {
		blocked[d] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *crawl.Entry
	for _, e := range s.entries {
		if e.State != crawl.StatePending && e.State != crawl.StateDeferred {
			continue
		}
		if e.EligibleAt.After(now) {
			continue
		}
		if _, ok := blocked[e.Domain]; ok {
			continue
		}
		if best == nil || claimBefore(e, best) {
			best = e
		}
	}
	if best == nil {
		return crawl.Entry{}, false, nil
	}

	best.State = crawl.StateInProgress
	best.AttemptCount++
	best.LastAttemptAt = now
	return *best, true, nil
}

// claimBefore orders candidates: priority desc, DiscoveredAt asc, then
// URL for a stable total order.
func claimBefore(a, b *crawl.Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
		return a.DiscoveredAt.Before(b.DiscoveredAt)
	}
	return a.NormalizedURL < b.NormalizedURL
}

// MarkDone finishes an entry and records its content fingerprint.
func (s *Store) MarkDone(_ context.Context, normalizedURL, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[normalizedURL]
	if !ok {
		return frontier.ErrNotFound
	}
	e.State = crawl.StateDone
	e.Fingerprint = fingerprint
	return nil
}

// Defer parks an entry until eligibleAt.
func (s *Store) Defer(_ context.Context, normalizedURL string, eligibleAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[normalizedURL]
	if !ok {
		return frontier.ErrNotFound
	}
	e.State = crawl.StateDeferred
	e.EligibleAt = eligibleAt
	return nil
}

// MarkFailed moves an entry to the terminal failed state.
func (s *Store) MarkFailed(_ context.Context, normalizedURL, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[normalizedURL]
	if !ok {
		return frontier.ErrNotFound
	}
	e.State = crawl.StateFailed
	return nil
}

// ReleaseStale requeues abandoned in_progress entries.
func (s *Store) ReleaseStale(_ context.Context, cutoff time.Time, maxAttempts int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var requeued, failed int
	for _, e := range s.entries {
		if e.State != crawl.StateInProgress || e.LastAttemptAt.After(cutoff) {
			continue
		}
		if e.AttemptCount < maxAttempts {
			e.State = crawl.StatePending
			e.EligibleAt = cutoff
			requeued++
		} else {
			e.State = crawl.StateFailed
			failed++
		}
	}
	return requeued, failed, nil
}

// NextEligibleAt returns the earliest eligibility among queued entries.
func (s *Store) NextEligibleAt(_ context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest time.Time
	found := false
	for _, e := range s.entries {
		if e.State != crawl.StatePending && e.State != crawl.StateDeferred {
			continue
		}
		if !found || e.EligibleAt.Before(earliest) {
			earliest = e.EligibleAt
			found = true
		}
	}
	return earliest, found, nil
}

// Counts tallies entries per state.
func (s *Store) Counts(_ context.Context) (frontier.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c frontier.Counts
	for _, e := range s.entries {
		switch e.State {
		case crawl.StatePending:
			c.Pending++
		case crawl.StateInProgress:
			c.InProgress++
		case crawl.StateDeferred:
			c.Deferred++
		case crawl.StateDone:
			c.Done++
		case crawl.StateFailed:
			c.Failed++
		}
	}
	return c, nil
}

// Reset discards all entries.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*crawl.Entry)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close(_ context.Context) error { return nil }
