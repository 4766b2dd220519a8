package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ragharvest/internal/chunker"
	clocksystem "github.com/JakeFAU/ragharvest/internal/clock/system"
	"github.com/JakeFAU/ragharvest/internal/crawl"
	"github.com/JakeFAU/ragharvest/internal/extract"
	"github.com/JakeFAU/ragharvest/internal/frontier"
	frontiermem "github.com/JakeFAU/ragharvest/internal/frontier/memory"
	notifymem "github.com/JakeFAU/ragharvest/internal/notify/memory"
)

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]crawl.Page
	failures map[string]int // failures remaining per URL
	attempts map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:    make(map[string]crawl.Page),
		failures: make(map[string]int),
		attempts: make(map[string]int),
	}
}

func (f *fakeFetcher) addPage(url string, status int, body string) {
	f.pages[url] = crawl.Page{URL: url, FinalURL: url, StatusCode: status, Body: []byte(body)}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (crawl.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[rawURL]++
	if f.failures[rawURL] > 0 {
		f.failures[rawURL]--
		return crawl.Page{}, errors.New("connection reset")
	}
	page, ok := f.pages[rawURL]
	if !ok {
		return crawl.Page{URL: rawURL, FinalURL: rawURL, StatusCode: 404}, nil
	}
	return page, nil
}

func (f *fakeFetcher) attemptCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]crawl.ChunkRecord
}

func (s *recordingSink) StoreChunks(_ context.Context, records []crawl.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	return nil
}

func (s *recordingSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *recordingSink) allText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, batch := range s.batches {
		for _, rec := range batch {
			out += rec.Text + "\n"
		}
	}
	return out
}

func page(title, body string, links ...string) string {
	html := "<html><head><title>" + title + "</title></head><body><h1>" + title + "</h1><p>" + body + "</p>"
	for _, l := range links {
		html += fmt.Sprintf(`<a href=%q>link</a>`, l)
	}
	return html + "</body></html>"
}

type poolFixture struct {
	frontier *frontier.Frontier
	store    *frontiermem.Store
	fetcher  *fakeFetcher
	sink     *recordingSink
	pub      *notifymem.Publisher
}

func newPoolFixture(t *testing.T, maxAttempts int) *poolFixture {
	t.Helper()
	store := frontiermem.NewStore()
	f := frontier.New(store, frontier.Config{
		MaxDepth:         3,
		MaxRetryAttempts: maxAttempts,
		BackoffBase:      time.Millisecond,
		BackoffMax:       10 * time.Millisecond,
	}, clocksystem.New(), zap.NewNop())
	require.NoError(t, f.RecoverOnStartup(context.Background()))
	return &poolFixture{
		frontier: f,
		store:    store,
		fetcher:  newFakeFetcher(),
		sink:     &recordingSink{},
		pub:      notifymem.New(),
	}
}

func (fx *poolFixture) pool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	ch, err := chunker.New(chunker.Config{MinTokens: 2, MaxTokens: 100, OverlapFraction: 0, HeadingLevel: 2})
	require.NoError(t, err)
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 2
	}
	if cfg.Topic == "" {
		cfg.Topic = "documents"
	}
	return New(fx.frontier, fx.fetcher, nil, nil, extract.New(), ch,
		fx.sink, nil, fx.pub, clocksystem.New(), cfg, zap.NewNop())
}

func runPool(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

func TestPoolCrawlsToExhaustion(t *testing.T) {
	t.Parallel()
	fx := newPoolFixture(t, 3)
	fx.fetcher.addPage("https://example.com/", 200,
		page("Home", "Welcome to the council site.", "/agenda", "/minutes"))
	fx.fetcher.addPage("https://example.com/agenda", 200,
		page("Agenda", "Budget review and zoning update.", "/"))
	fx.fetcher.addPage("https://example.com/minutes", 200,
		page("Minutes", "Approved minutes from last month."))

	_, err := fx.frontier.Enqueue(context.Background(), "https://example.com/", 0, "", 100)
	require.NoError(t, err)

	runPool(t, fx.pool(t, Config{}))

	counts, err := fx.frontier.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Done)
	assert.Equal(t, 0, counts.Pending+counts.Deferred+counts.InProgress)

	assert.Equal(t, 3, fx.sink.batchCount())
	assert.Contains(t, fx.sink.allText(), "Budget review")
	assert.Len(t, fx.pub.Messages(), 3)

	// Each URL was fetched exactly once despite the back-link.
	assert.Equal(t, 1, fx.fetcher.attemptCount("https://example.com/"))
	assert.Equal(t, 1, fx.fetcher.attemptCount("https://example.com/agenda"))
}

func TestPoolRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	fx := newPoolFixture(t, 3)
	fx.fetcher.addPage("https://example.com/flaky", 200,
		page("Flaky", "Eventually served just fine."))
	fx.fetcher.failures["https://example.com/flaky"] = 2

	_, err := fx.frontier.Enqueue(context.Background(), "https://example.com/flaky", 0, "", 1)
	require.NoError(t, err)

	runPool(t, fx.pool(t, Config{Concurrency: 1}))

	counts, err := fx.frontier.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Done)
	assert.Equal(t, 3, fx.fetcher.attemptCount("https://example.com/flaky"))
}

func TestPoolFailsEntryAfterRetryBudget(t *testing.T) {
	t.Parallel()
	fx := newPoolFixture(t, 2)
	fx.fetcher.failures["https://example.com/dead"] = 100

	_, err := fx.frontier.Enqueue(context.Background(), "https://example.com/dead", 0, "", 1)
	require.NoError(t, err)

	runPool(t, fx.pool(t, Config{Concurrency: 1}))

	counts, err := fx.frontier.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 2, fx.fetcher.attemptCount("https://example.com/dead"))
	assert.Zero(t, fx.sink.batchCount())
}

func TestPoolTerminalFailureOnClientError(t *testing.T) {
	t.Parallel()
	fx := newPoolFixture(t, 3)
	// No page registered: the fake returns 404.

	_, err := fx.frontier.Enqueue(context.Background(), "https://example.com/gone", 0, "", 1)
	require.NoError(t, err)

	runPool(t, fx.pool(t, Config{Concurrency: 1}))

	counts, err := fx.frontier.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Failed)
	// A 404 is permanent: exactly one attempt.
	assert.Equal(t, 1, fx.fetcher.attemptCount("https://example.com/gone"))
}

func TestPoolHonorsPageBudget(t *testing.T) {
	t.Parallel()
	fx := newPoolFixture(t, 3)
	for i := 0; i < 10; i++ {
		url := fmt.Sprintf("https://example.com/p%d", i)
		fx.fetcher.addPage(url, 200, page("P", "Some page body text here."))
		_, err := fx.frontier.Enqueue(context.Background(), url, 0, "", 1)
		require.NoError(t, err)
	}

	p := fx.pool(t, Config{Concurrency: 1, MaxPages: 2})
	runPool(t, p)

	assert.Equal(t, 2, p.PagesProcessed())
	counts, err := fx.frontier.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Done)
	assert.Equal(t, 8, counts.Pending)
}

func TestPoolBudgetIgnoresFailedAttempts(t *testing.T) {
	t.Parallel()
	fx := newPoolFixture(t, 3)
	fx.fetcher.addPage("https://example.com/flaky", 200,
		page("Flaky", "Served after two resets."))
	fx.fetcher.failures["https://example.com/flaky"] = 2

	_, err := fx.frontier.Enqueue(context.Background(), "https://example.com/flaky", 0, "", 1)
	require.NoError(t, err)

	p := fx.pool(t, Config{Concurrency: 1, MaxPages: 1})
	runPool(t, p)

	// Two failed attempts must not consume the single-page budget.
	counts, err := fx.frontier.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Done)
	assert.Equal(t, 1, p.PagesProcessed())
	assert.Equal(t, 3, fx.fetcher.attemptCount("https://example.com/flaky"))
}

type fakeDetector struct{ promote bool }

func (d fakeDetector) NeedsJS(_ context.Context, _ crawl.Page) bool { return d.promote }

type fakeRenderer struct{ body string }

func (r fakeRenderer) Render(_ context.Context, rawURL string) (crawl.Page, error) {
	return crawl.Page{URL: rawURL, FinalURL: rawURL, StatusCode: 200, Body: []byte(r.body), UsedJS: true}, nil
}

func (fakeRenderer) Close(_ context.Context) error { return nil }

func TestPoolPromotesToHeadlessRendering(t *testing.T) {
	t.Parallel()
	fx := newPoolFixture(t, 3)
	fx.fetcher.addPage("https://example.com/app", 200, "<html><body></body></html>")

	_, err := fx.frontier.Enqueue(context.Background(), "https://example.com/app", 0, "", 1)
	require.NoError(t, err)

	ch, err := chunker.New(chunker.Config{MinTokens: 2, MaxTokens: 100, OverlapFraction: 0, HeadingLevel: 2})
	require.NoError(t, err)
	p := New(fx.frontier, fx.fetcher,
		fakeRenderer{body: page("App", "Rendered client side content.")},
		fakeDetector{promote: true},
		extract.New(), ch, fx.sink, nil, fx.pub, clocksystem.New(),
		Config{Concurrency: 1, PollInterval: 5 * time.Millisecond, Topic: "documents"},
		zap.NewNop())
	runPool(t, p)

	assert.Contains(t, fx.sink.allText(), "Rendered client side")
}
