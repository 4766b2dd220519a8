// Package worker runs the crawl pipeline: a bounded pool of workers
// pulling URLs from the frontier, fetching and extracting pages,
// chunking their text, persisting the chunks, and feeding discovered
// links back into the frontier.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ragharvest/internal/canonical"
	"github.com/JakeFAU/ragharvest/internal/chunker"
	"github.com/JakeFAU/ragharvest/internal/crawl"
	"github.com/JakeFAU/ragharvest/internal/frontier"
	"github.com/JakeFAU/ragharvest/internal/metrics"
	"github.com/JakeFAU/ragharvest/internal/notify"
)

// Config controls the pool.
type Config struct {
	Concurrency  int
	MaxPages     int // successfully processed pages; 0 means unlimited
	LeaseTimeout time.Duration
	PollInterval time.Duration
	RunID        string
	Topic        string
	BlobPrefix   string
}

// Pool owns the worker goroutines. The frontier is the only shared
// mutable state; everything else is either stateless or internally
// synchronized.
type Pool struct {
	frontier  *frontier.Frontier
	probe     crawl.Fetcher
	headless  crawl.Renderer
	detector  crawl.Detector
	extractor crawl.Extractor
	chunks    *chunker.Chunker
	sink      crawl.ChunkSink
	blobs     crawl.BlobStore
	publisher crawl.Publisher
	clock     crawl.Clock
	cfg       Config
	logger    *zap.Logger

	pages atomic.Int64
}

// New constructs a Pool. headless, detector, blobs, and publisher are
// optional; a nil publisher falls back to a no-op.
func New(
	f *frontier.Frontier,
	probe crawl.Fetcher,
	headless crawl.Renderer,
	detector crawl.Detector,
	extractor crawl.Extractor,
	chunks *chunker.Chunker,
	sink crawl.ChunkSink,
	blobs crawl.BlobStore,
	publisher crawl.Publisher,
	clock crawl.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 5 * time.Minute
	}
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	return &Pool{
		frontier:  f,
		probe:     probe,
		headless:  headless,
		detector:  detector,
		extractor: extractor,
		chunks:    chunks,
		sink:      sink,
		blobs:     blobs,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks until the frontier is exhausted, the page budget is
// reached, or the context is canceled. In-flight entries finish and
// report their outcome before workers exit.
func (p *Pool) Run(ctx context.Context) error {
	reclaimCtx, stopReclaim := context.WithCancel(ctx)
	var reclaimWG sync.WaitGroup
	reclaimWG.Add(1)
	go func() {
		defer reclaimWG.Done()
		p.reclaimLoop(reclaimCtx)
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()
	stopReclaim()
	reclaimWG.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.Info("run finished",
		zap.Int64("pages", p.pages.Load()),
	)
	return nil
}

// PagesProcessed reports how many pages completed successfully so far.
func (p *Pool) PagesProcessed() int {
	return int(p.pages.Load())
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.LeaseTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.frontier.ReclaimStale(ctx, p.cfg.LeaseTimeout); err != nil && ctx.Err() == nil {
				p.logger.Warn("reclaim stale leases failed", zap.Error(err))
			}
		}
	}
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	logger := p.logger.With(zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		if p.budgetReached() {
			logger.Debug("page budget reached")
			return
		}

		entry, ok, err := p.frontier.DequeueNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			if !p.sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}
		if !ok {
			done, err := p.idle(ctx, logger)
			if err != nil && ctx.Err() == nil {
				logger.Error("idle check failed", zap.Error(err))
			}
			if done {
				return
			}
			continue
		}

		metrics.IncActiveWorkers()
		outcome, fingerprint := p.process(ctx, logger, entry)
		metrics.DecActiveWorkers()

		// Failed attempts do not consume the page budget; a flaky site
		// must not starve the run of its quota.
		if outcome == crawl.OutcomeSuccess {
			p.pages.Add(1)
		}
		if err := p.frontier.Complete(ctx, entry.NormalizedURL, outcome, fingerprint); err != nil && ctx.Err() == nil {
			logger.Error("record completion failed",
				zap.String("url", entry.NormalizedURL),
				zap.Error(err),
			)
		}
	}
}

// idle handles an empty dequeue: done when no pending, deferred, or
// in-flight work remains, otherwise sleep until the next entry becomes
// eligible (capped by the poll interval).
func (p *Pool) idle(ctx context.Context, logger *zap.Logger) (bool, error) {
	exhausted, err := p.frontier.Exhausted(ctx)
	if err != nil {
		p.sleep(ctx, p.cfg.PollInterval)
		return false, err
	}
	if exhausted {
		logger.Debug("frontier exhausted")
		return true, nil
	}

	wait := p.cfg.PollInterval
	if at, ok, err := p.frontier.NextEligibleAt(ctx); err == nil && ok {
		if until := at.Sub(p.clock.Now()); until > 0 && until < wait {
			wait = until
		}
	}
	metrics.ObservePolitenessWait(wait)
	p.sleep(ctx, wait)
	return false, nil
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Pool) budgetReached() bool {
	return p.cfg.MaxPages > 0 && p.pages.Load() >= int64(p.cfg.MaxPages)
}

// process runs the fetch, extract, chunk, persist pipeline for one
// claimed entry and classifies the result.
func (p *Pool) process(ctx context.Context, logger *zap.Logger, entry crawl.Entry) (crawl.Outcome, string) {
	logger = logger.With(zap.String("url", entry.NormalizedURL))

	page, err := p.probe.Fetch(ctx, entry.NormalizedURL)
	if err != nil {
		logger.Warn("fetch failed", zap.Error(err))
		return crawl.OutcomeTransientFailure, ""
	}

	if p.headless != nil && p.detector != nil && p.detector.NeedsJS(ctx, page) {
		rendered, renderErr := p.headless.Render(ctx, entry.NormalizedURL)
		if renderErr != nil {
			logger.Warn("headless render failed, using probe response", zap.Error(renderErr))
		} else {
			page = rendered
		}
	}

	metrics.ObservePageFetched(page.StatusCode)
	if outcome, retryable := classifyStatus(page.StatusCode); !retryable {
		logger.Info("page rejected",
			zap.Int("status", page.StatusCode),
			zap.String("outcome", outcome.String()),
		)
		return outcome, ""
	}

	snapshotURI := p.snapshot(ctx, logger, entry, page)

	doc, links, err := p.extractor.Extract(page)
	if err != nil {
		logger.Warn("extraction failed", zap.Error(err))
		return crawl.OutcomeTerminalFailure, ""
	}
	fingerprint := canonical.Fingerprint(joinBlocks(doc.Blocks))

	records, err := p.chunks.Split(doc)
	switch {
	case errors.Is(err, chunker.ErrEmptyDocument):
		// Document-local: the URL is done, there is just nothing to
		// index on it.
		logger.Warn("document yielded no chunks, skipping")
	case err != nil:
		logger.Warn("chunking failed, skipping document", zap.Error(err))
	default:
		if sinkErr := p.sink.StoreChunks(ctx, records); sinkErr != nil {
			logger.Warn("persist chunks failed", zap.Error(sinkErr))
			return crawl.OutcomeTransientFailure, ""
		}
		tokenCounts := make([]int, len(records))
		for i, rec := range records {
			tokenCounts[i] = rec.TokenCount
		}
		metrics.ObserveChunks(tokenCounts)
		p.announce(ctx, logger, entry, fingerprint, len(records), snapshotURI)
	}

	p.enqueueLinks(ctx, logger, entry, links)
	return crawl.OutcomeSuccess, fingerprint
}

// classifyStatus maps an HTTP status to an outcome. retryable=true
// means the pipeline continues (2xx); otherwise the returned outcome is
// final for this attempt.
func classifyStatus(status int) (crawl.Outcome, bool) {
	switch {
	case status >= 200 && status < 300:
		return crawl.OutcomeSuccess, true
	case status == http.StatusTooManyRequests || status >= 500:
		return crawl.OutcomeTransientFailure, false
	default:
		return crawl.OutcomeTerminalFailure, false
	}
}

func (p *Pool) snapshot(ctx context.Context, logger *zap.Logger, entry crawl.Entry, page crawl.Page) string {
	if p.blobs == nil || page.ContentLength() == 0 {
		return ""
	}
	uri, err := p.blobs.PutObject(ctx, p.blobPath(entry), "text/html; charset=utf-8", page.Body)
	if err != nil {
		// Snapshot loss is not worth failing the entry over.
		logger.Warn("store snapshot failed", zap.Error(err))
		return ""
	}
	return uri
}

func (p *Pool) blobPath(entry crawl.Entry) string {
	sum := sha256.Sum256([]byte(entry.NormalizedURL))
	name := hex.EncodeToString(sum[:16]) + ".html"
	prefix := strings.Trim(p.cfg.BlobPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (p *Pool) announce(ctx context.Context, logger *zap.Logger, entry crawl.Entry, fingerprint string, chunkCount int, snapshotURI string) {
	msg := notify.DocumentProcessed{
		RunID:       p.cfg.RunID,
		SourceURL:   entry.NormalizedURL,
		Fingerprint: fingerprint,
		ChunkCount:  chunkCount,
		SnapshotURI: snapshotURI,
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, msg); err != nil {
		logger.Warn("publish notification failed", zap.Error(err))
	}
}

func (p *Pool) enqueueLinks(ctx context.Context, logger *zap.Logger, entry crawl.Entry, links []crawl.Link) {
	depth := entry.Depth + 1
	for _, link := range links {
		hint := canonical.Priority(link.URL, depth, false)
		res, err := p.frontier.Enqueue(ctx, link.URL, depth, entry.NormalizedURL, hint)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("enqueue discovered link failed",
				zap.String("link", link.URL),
				zap.Error(err),
			)
			continue
		}
		if res.Status == frontier.Added {
			logger.Debug("discovered link",
				zap.String("link", res.NormalizedURL),
				zap.Int("priority", hint),
			)
		}
	}
}

func joinBlocks(blocks []crawl.Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}
