package frontier

import (
	"sync"
	"time"
)

// domainGate enforces the per-domain politeness delay. It is process
// local: the persisted EligibleAt carries retry backoff, while request
// spacing within a run is tracked here.
type domainGate struct {
	mu          sync.Mutex
	delay       time.Duration
	nextAllowed map[string]time.Time
}

func newDomainGate(delay time.Duration) *domainGate {
	return &domainGate{
		delay:       delay,
		nextAllowed: make(map[string]time.Time),
	}
}

// Blocked returns the domains whose politeness window has not elapsed at
// now. Dequeue passes these to the store so it skips them instead of
// blocking globally.
func (g *domainGate) Blocked(now time.Time) []string {
	if g.delay <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var blocked []string
	for domain, until := range g.nextAllowed {
		if now.Before(until) {
			blocked = append(blocked, domain)
		} else {
			delete(g.nextAllowed, domain)
		}
	}
	return blocked
}

// Touch records a dequeue for the domain, opening its next window after
// the configured delay.
func (g *domainGate) Touch(domain string, now time.Time) {
	if g.delay <= 0 || domain == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextAllowed[domain] = now.Add(g.delay)
}
