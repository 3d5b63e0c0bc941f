// Command moisson runs a multi-source aggregation job.
//
// Usage:
//
//	moisson -config moisson.yaml -sources sources.yaml -query "solar balcony kits"
//	moisson -config moisson.yaml -fetch https://example.com/a https://example.com/b
//
// Sources are thin declarative bindings (see sources.go); everything
// resilient — breakers, pacing, dedup, checkpoints, tiered fetching —
// lives in the library packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/moisson/admin"
	"github.com/hazyhaar/moisson/checkpoint"
	"github.com/hazyhaar/moisson/config"
	"github.com/hazyhaar/moisson/content"
	"github.com/hazyhaar/moisson/fetchtier"
	"github.com/hazyhaar/moisson/health"
	"github.com/hazyhaar/moisson/netpool"
	"github.com/hazyhaar/moisson/orchestrate"
	"github.com/hazyhaar/moisson/pace"
	"github.com/hazyhaar/moisson/sink"
	"github.com/hazyhaar/moisson/source"
)

func main() {
	configPath := flag.String("config", "", "path to moisson.yaml (optional, defaults apply)")
	sourcesPath := flag.String("sources", "", "path to sources.yaml")
	query := flag.String("query", "", "query to fan out")
	jobID := flag.String("job", "", "job ID (resume a checkpointed job; default: new UUID)")
	merge := flag.String("merge", "dedup", "merge strategy: append, dedup, ranked")
	maxResults := flag.Int("max-results", 20, "max results per source")
	follow := flag.Bool("follow", false, "fetch discovered result URLs through the tier chain")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	fetchURLs := flag.Args()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *sourcesPath, *query, *jobID, *merge, *maxResults, *follow, fetchURLs); err != nil {
		logger.Error("moisson: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, sourcesPath, query, jobID, merge string, maxResults int, follow bool, fetchURLs []string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return err
		}
	}

	pool := netpool.New(cfg.Pool)
	defer pool.Close()

	limiter := pace.New(cfg.Pace)
	registry := health.NewRegistry(cfg.Breaker, health.WithLogger(logger))

	chain, browser := buildChain(cfg, pool, logger)
	if browser != nil {
		defer browser.Close()
	}

	dispatcher, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	if dispatcher != nil {
		defer dispatcher.Close()
	}

	if len(fetchURLs) > 0 {
		return runFetch(ctx, logger, chain, dispatcher, fetchURLs)
	}

	if query == "" || sourcesPath == "" {
		fmt.Fprintln(os.Stderr, "usage: moisson -sources <file> -query <text> | moisson -fetch <url>...")
		os.Exit(1)
	}

	bindings, err := loadSources(sourcesPath, pool)
	if err != nil {
		return err
	}

	if jobID == "" {
		jobID = uuid.Must(uuid.NewV7()).String()
	}
	ckpt, err := checkpoint.NewManager(cfg.Checkpoint.Dir, jobID, checkpoint.WithLogger(logger))
	if err != nil {
		return err
	}

	if cfg.Admin.Addr != "" {
		srv := admin.New(registry, ckpt, logger)
		go func() {
			if err := srv.ListenAndServe(cfg.Admin.Addr); err != nil {
				logger.Warn("moisson: admin endpoint stopped", "error", err)
			}
		}()
	}

	orch := orchestrate.New(cfg.Orchestrate, registry, limiter,
		orchestrate.WithLogger(logger),
		orchestrate.WithCheckpoint(ckpt),
		orchestrate.WithSink(dispatcher),
	)

	report, err := orch.Search(ctx, orchestrate.Request{
		Sources:             bindings,
		Query:               query,
		MaxResultsPerSource: maxResults,
		Merge:               orchestrate.MergeStrategy(merge),
	})

	logger.Info("moisson: job finished",
		"job_id", jobID,
		"unique_results", report.UniqueCount,
		"sources", len(report.PerSource))
	for code, out := range report.PerSource {
		logger.Info("moisson: source outcome",
			"source", code, "status", out.Status, "results", out.ResultCount, "error", out.Error)
	}

	if err != nil {
		// Partial results were still gathered and dispatched; keep the
		// checkpoint so a rerun with the same -job resumes.
		if ferr := ckpt.Flush(); ferr != nil {
			logger.Warn("moisson: checkpoint flush failed", "error", ferr)
		}
		return err
	}

	if follow && len(report.Results) > 0 {
		followResults(ctx, logger, chain, dispatcher, report.Results)
	}

	if err := ckpt.Cleanup(); err != nil {
		logger.Warn("moisson: checkpoint cleanup failed", "error", err)
	}
	return nil
}

// buildChain assembles the tier list from config: direct HTTP always,
// browser tiers when rod can launch, unlock tiers when configured.
func buildChain(cfg *config.Config, pool *netpool.Pool, logger *slog.Logger) (*fetchtier.Chain, *fetchtier.Browser) {
	browserCfg := cfg.Fetch.Browser
	browserCfg.Logger = logger
	browser := fetchtier.NewBrowser(browserCfg)

	tiers := []fetchtier.Tier{
		fetchtier.NewDirect(pool, cfg.Fetch.UserAgent),
		fetchtier.NewHeadless(browser),
		fetchtier.NewStealth(browser),
	}
	for _, uc := range cfg.Fetch.Unlock {
		tiers = append(tiers, fetchtier.NewUnlock(uc, pool))
	}

	chain := fetchtier.NewChain(tiers, cfg.Fetch.TierWorkers,
		fetchtier.WithMinContentLength(cfg.Fetch.MinContentLength),
		fetchtier.WithNormalizer(content.NewNormalizer()),
		fetchtier.WithChainLogger(logger),
	)
	return chain, browser
}

// buildSinks wires the configured sinks behind one async dispatcher.
// Returns nil when no sink is enabled.
func buildSinks(cfg *config.Config, logger *slog.Logger) (*sink.Dispatcher, error) {
	var sinks []sink.Sink
	if cfg.Sink.SQLitePath != "" {
		s, err := sink.NewSQLite(cfg.Sink.SQLitePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Sink.Stdout {
		sinks = append(sinks, sink.NewJSONL(os.Stdout))
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sink.NewDispatcher(sink.NewRouter(logger, sinks...), cfg.Sink.QueueCapacity, logger), nil
}

// runFetch pushes ad-hoc URLs through the tier chain and reports per-URL
// outcomes.
func runFetch(ctx context.Context, logger *slog.Logger, chain *fetchtier.Chain, dispatcher *sink.Dispatcher, urls []string) error {
	outcomes := chain.FetchBatch(ctx, urls)

	var records []source.ResultRecord
	blocked := 0
	for _, out := range outcomes {
		if out.Blocked {
			blocked++
			logger.Warn("moisson: fetch blocked", "url", out.URL)
			continue
		}
		records = append(records, source.ResultRecord{
			URL:            out.URL,
			Title:          out.Title,
			Snippet:        snippet(out.Markdown),
			SourceCode:     "fetch",
			FetchMethod:    out.Method,
			FetchLatencyMs: out.Latency.Milliseconds(),
		})
		logger.Info("moisson: fetched", "url", out.URL, "method", out.Method, "latency", out.Latency)
	}

	if dispatcher != nil {
		dispatcher.Enqueue(records)
	}
	if blocked == len(urls) {
		return fmt.Errorf("moisson: all %d URLs blocked", blocked)
	}
	return nil
}

// followResults fetches the discovered result URLs wave-by-wave and
// re-dispatches the enriched records.
func followResults(ctx context.Context, logger *slog.Logger, chain *fetchtier.Chain, dispatcher *sink.Dispatcher, results []source.ResultRecord) {
	urls := make([]string, 0, len(results))
	for _, r := range results {
		urls = append(urls, r.URL)
	}

	outcomes := chain.FetchBatch(ctx, urls)

	enriched := make([]source.ResultRecord, 0, len(results))
	for _, r := range results {
		out, ok := outcomes[r.URL]
		if !ok || out.Blocked {
			continue
		}
		r.FetchMethod = out.Method
		r.FetchLatencyMs = out.Latency.Milliseconds()
		if r.Title == "" {
			r.Title = out.Title
		}
		if r.Snippet == "" {
			r.Snippet = snippet(out.Markdown)
		}
		enriched = append(enriched, r)
	}

	logger.Info("moisson: follow pass done", "fetched", len(enriched), "of", len(results))
	if dispatcher != nil {
		dispatcher.Enqueue(enriched)
	}
}

func snippet(markdown string) string {
	s := strings.TrimSpace(markdown)
	if len(s) > 280 {
		s = s[:280]
	}
	return s
}
