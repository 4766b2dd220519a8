package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ragharvest/internal/api"
	blobgcs "github.com/JakeFAU/ragharvest/internal/blob/gcs"
	bloblocal "github.com/JakeFAU/ragharvest/internal/blob/local"
	"github.com/JakeFAU/ragharvest/internal/canonical"
	"github.com/JakeFAU/ragharvest/internal/chunker"
	clocksystem "github.com/JakeFAU/ragharvest/internal/clock/system"
	"github.com/JakeFAU/ragharvest/internal/crawl"
	"github.com/JakeFAU/ragharvest/internal/extract"
	"github.com/JakeFAU/ragharvest/internal/fetch"
	"github.com/JakeFAU/ragharvest/internal/frontier"
	frontiermem "github.com/JakeFAU/ragharvest/internal/frontier/memory"
	frontierpg "github.com/JakeFAU/ragharvest/internal/frontier/postgres"
	"github.com/JakeFAU/ragharvest/internal/metrics"
	notifypubsub "github.com/JakeFAU/ragharvest/internal/notify/pubsub"
	"github.com/JakeFAU/ragharvest/internal/sink"
	sinkjsonl "github.com/JakeFAU/ragharvest/internal/sink/jsonl"
	sinkpg "github.com/JakeFAU/ragharvest/internal/sink/postgres"
	"github.com/JakeFAU/ragharvest/internal/worker"
)

type crawlFlags struct {
	fresh     bool
	seeds     []string
	maxPages  int
	outputDir string
}

// newCrawlCmd creates the 'crawl' subcommand, which runs a harvest to
// completion: seeds in, chunks out.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the harvester until the frontier is exhausted",
		Long: `Enqueues the seed URLs and works the frontier until nothing is left
to fetch or the page budget is reached. With a durable frontier store,
re-running after an interruption resumes the previous crawl; pass
--fresh to discard saved state and start over.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), flags)
		},
	}
	cmd.Flags().BoolVar(&flags.fresh, "fresh", false, "discard persisted frontier state before crawling")
	cmd.Flags().StringSliceVar(&flags.seeds, "seeds", nil, "seed URLs to enqueue at depth 0")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", -1, "page budget override (0 = unlimited)")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "chunk output directory override")
	return cmd
}

func runCrawl(parent context.Context, flags crawlFlags) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flags.maxPages >= 0 {
		cfg.Crawler.MaxPages = flags.maxPages
	}
	if flags.outputDir != "" {
		cfg.Crawler.OutputDir = flags.outputDir
	}

	metrics.Init()
	runID := uuid.NewString()
	logger := logger.With(zap.String("run_id", runID))

	f, store, err := buildFrontier(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(context.Background()); cerr != nil {
			logger.Warn("close frontier failed", zap.Error(cerr))
		}
	}()

	if flags.fresh {
		if err := store.Reset(ctx); err != nil {
			return fmt.Errorf("reset frontier: %w", err)
		}
		logger.Info("frontier reset, starting fresh")
	}
	if err := f.RecoverOnStartup(ctx); err != nil {
		if errors.Is(err, frontier.ErrCorrupt) {
			return fmt.Errorf("frontier store is corrupt, refusing to crawl: %w", err)
		}
		return fmt.Errorf("recover frontier: %w", err)
	}

	for _, seed := range flags.seeds {
		res, err := f.Enqueue(ctx, seed, 0, "", canonical.Priority(seed, 0, true))
		if err != nil {
			return fmt.Errorf("enqueue seed %q: %w", seed, err)
		}
		logger.Info("seed enqueued",
			zap.String("url", res.NormalizedURL),
			zap.Stringer("status", res.Status),
		)
	}
	counts, err := f.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read frontier stats: %w", err)
	}
	if counts.Pending+counts.Deferred+counts.InProgress == 0 {
		logger.Info("nothing to crawl; pass --seeds or resume a previous run")
		return nil
	}

	pipeline, err := buildPipeline(ctx, logger)
	if err != nil {
		return err
	}
	defer pipeline.close(logger)

	pool := worker.New(
		f,
		pipeline.probe,
		pipeline.headless,
		pipeline.detector,
		pipeline.extractor,
		pipeline.chunks,
		pipeline.sink,
		pipeline.blobs,
		pipeline.publisher,
		clocksystem.New(),
		worker.Config{
			Concurrency:  cfg.Crawler.Concurrency,
			MaxPages:     cfg.Crawler.MaxPages,
			LeaseTimeout: cfg.LeaseTimeout(),
			PollInterval: time.Second,
			RunID:        runID,
			Topic:        cfg.Notify.Topic,
			BlobPrefix:   cfg.Blob.Prefix,
		},
		logger,
	)

	srv := startStatusServer(f, pool, runID, logger)
	defer shutdownStatusServer(srv, logger)

	logger.Info("crawl starting",
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.Int("max_pages", cfg.Crawler.MaxPages),
		zap.Int("queued", counts.Pending+counts.Deferred),
	)
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}

	final, err := f.Stats(context.Background())
	if err == nil {
		logger.Info("crawl finished",
			zap.Int("pages", pool.PagesProcessed()),
			zap.Int("done", final.Done),
			zap.Int("failed", final.Failed),
			zap.Int("remaining", final.Pending+final.Deferred),
		)
	}
	return nil
}

func buildFrontier(ctx context.Context, logger *zap.Logger) (*frontier.Frontier, frontier.Store, error) {
	var store frontier.Store
	switch cfg.Frontier.Driver {
	case "postgres":
		pg, err := frontierpg.Open(ctx, frontierpg.Config{DSN: cfg.Frontier.DSN})
		if err != nil {
			return nil, nil, fmt.Errorf("open frontier store: %w", err)
		}
		store = pg
	default:
		logger.Warn("using in-memory frontier; crawl state will not survive a restart")
		store = frontiermem.NewStore()
	}

	f := frontier.New(store, frontier.Config{
		MaxDepth:         cfg.Crawler.MaxDepth,
		MaxRetryAttempts: cfg.Frontier.MaxRetryAttempts,
		RequestDelay:     cfg.RequestDelay(),
		BackoffBase:      time.Duration(cfg.Frontier.BackoffBaseSeconds) * time.Second,
		BackoffMax:       time.Duration(cfg.Frontier.BackoffMaxSeconds) * time.Second,
	}, clocksystem.New(), logger)
	return f, store, nil
}

// pipeline bundles the per-run components the worker pool consumes.
type pipeline struct {
	probe     crawl.Fetcher
	headless  crawl.Renderer
	detector  crawl.Detector
	extractor crawl.Extractor
	chunks    *chunker.Chunker
	sink      crawl.ChunkSink
	blobs     crawl.BlobStore
	publisher crawl.Publisher

	pgSink *sinkpg.Store
	gcs    *blobgcs.BlobStore
	pubsub *notifypubsub.Publisher
}

func buildPipeline(ctx context.Context, logger *zap.Logger) (*pipeline, error) {
	fetchCfg := fetch.DefaultConfig()
	fetchCfg.UserAgent = cfg.Crawler.UserAgent
	fetchCfg.RequestTimeout = cfg.RequestTimeout()
	fetchCfg.Concurrency = cfg.Crawler.Concurrency
	fetchCfg.HeadlessMaxConcurrency = cfg.Headless.MaxParallel
	fetchCfg.HeadlessTimeout = time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second
	fetchCfg.HeadlessDomainQPS = cfg.Headless.DomainQPS

	probe, err := fetch.NewCollyFetcher(fetchCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	p := &pipeline{
		probe:     probe,
		extractor: extract.New(),
	}

	if cfg.Headless.Enabled {
		renderer, err := fetch.NewChromedpRenderer(fetchCfg, logger)
		switch {
		case err == nil:
			p.headless = renderer
			p.detector = fetch.NewHeuristicDetector(fetchCfg)
		case errors.Is(err, fetch.ErrRendererDisabled):
			logger.Warn("headless rendering unavailable, probe fetches only")
		default:
			return nil, fmt.Errorf("init renderer: %w", err)
		}
	}

	p.chunks, err = chunker.New(chunker.Config{
		MinTokens:       cfg.Chunker.MinTokens,
		MaxTokens:       cfg.Chunker.MaxTokens,
		OverlapFraction: cfg.Chunker.OverlapFraction,
		HeadingLevel:    cfg.Chunker.HeadingLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("init chunker: %w", err)
	}

	if p.sink, err = buildSinks(ctx, p, logger); err != nil {
		return nil, err
	}
	if err = buildBlobStore(ctx, p); err != nil {
		return nil, err
	}
	if err = buildPublisher(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func buildSinks(ctx context.Context, p *pipeline, logger *zap.Logger) (crawl.ChunkSink, error) {
	var sinks []crawl.ChunkSink
	if cfg.Sink.Driver == "jsonl" || cfg.Sink.Driver == "both" {
		js, err := sinkjsonl.New(cfg.Crawler.OutputDir, logger)
		if err != nil {
			return nil, fmt.Errorf("init jsonl sink: %w", err)
		}
		sinks = append(sinks, js)
	}
	if cfg.Sink.Driver == "postgres" || cfg.Sink.Driver == "both" {
		dsn := cfg.Sink.DSN
		if dsn == "" {
			dsn = cfg.Frontier.DSN
		}
		pg, err := sinkpg.Open(ctx, sinkpg.Config{DSN: dsn})
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		p.pgSink = pg
		sinks = append(sinks, pg)
	}
	return sink.NewFanout(sinks...), nil
}

func buildBlobStore(ctx context.Context, p *pipeline) error {
	switch cfg.Blob.Driver {
	case "local":
		store, err := bloblocal.New(bloblocal.Config{BaseDir: cfg.Blob.Dir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		p.blobs = store
	case "gcs":
		store, err := blobgcs.New(ctx, blobgcs.Config{Bucket: cfg.Blob.Bucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		p.gcs = store
		p.blobs = store
	}
	return nil
}

func buildPublisher(ctx context.Context, p *pipeline) error {
	if cfg.Notify.Driver != "pubsub" {
		return nil
	}
	pub, err := notifypubsub.New(ctx, cfg.Notify.ProjectID, cfg.Notify.Topic)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	p.pubsub = pub
	p.publisher = pub
	return nil
}

func (p *pipeline) close(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if p.headless != nil {
		if err := p.headless.Close(ctx); err != nil {
			logger.Warn("close renderer failed", zap.Error(err))
		}
	}
	if p.pgSink != nil {
		p.pgSink.Close()
	}
	if p.gcs != nil {
		if err := p.gcs.Close(); err != nil {
			logger.Warn("close gcs client failed", zap.Error(err))
		}
	}
	if p.pubsub != nil {
		p.pubsub.Close()
	}
}

func startStatusServer(f *frontier.Frontier, pool *worker.Pool, runID string, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(f, pool, runID, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("status server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdownStatusServer(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("status server shutdown failed", zap.Error(err))
	}
}
