package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	appconfig "github.com/nkamali/faro/config"
	"github.com/nkamali/faro/internal/cache"
	"github.com/nkamali/faro/internal/fetch"
	"github.com/nkamali/faro/internal/pipeline"
	"github.com/nkamali/faro/internal/providers"
	"github.com/nkamali/faro/internal/research"
	"github.com/nkamali/faro/internal/scheduler"
	"github.com/nkamali/faro/internal/server"
	"github.com/nkamali/faro/internal/sources"
	"github.com/nkamali/faro/internal/store"
	"github.com/nkamali/faro/internal/telemetry"
)

func main() {
	root := &cobra.Command{Use: "faro", Short: "Retrieval-augmented answer engine"}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default: ./faro.yaml)")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.close()
			if app.sched != nil {
				go app.sched.Start(cmd.Context())
				defer app.sched.Stop()
			}
			srv := server.New(cfg.Server, app.orch, app.history, app.sessions)
			return srv.Start(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")

	var askDeep, askFast bool
	ask := &cobra.Command{
		Use:   "ask [query]",
		Short: "Answer one query and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.close()
			query := args[0]
			for _, a := range args[1:] {
				query += " " + a
			}
			answer, err := app.orch.Run(cmd.Context(), pipeline.Request{Query: query, Deep: askDeep, Fast: askFast}, nil)
			if err != nil {
				return err
			}
			fmt.Println(answer.FormattedAnswer)
			if len(answer.Sources) > 0 {
				fmt.Println("\nSources:")
				for _, src := range answer.Sources {
					fmt.Printf("  - %s (%s)\n", src.Title, src.URL)
				}
			}
			if answer.Verification != nil {
				fmt.Printf("\nConfidence: %.2f\n", answer.Verification.Confidence)
			}
			return nil
		},
	}
	ask.Flags().BoolVar(&askDeep, "deep", false, "force deep analysis")
	ask.Flags().BoolVar(&askFast, "fast", false, "fast mode: fewer candidates, no verification")

	var migDir, direction string
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run history database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn := cfg.Storage.Postgres.DSN()
			if dsn == "" {
				dsn = os.Getenv("DATABASE_URL")
			}
			if dsn == "" {
				return fmt.Errorf("postgres not configured (storage.postgres or DATABASE_URL)")
			}
			return store.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(serve, ask, migrateCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired pipeline and its long-lived dependencies.
type app struct {
	orch     *pipeline.Orchestrator
	history  *store.Store
	sessions *research.Store
	sched    *scheduler.Scheduler
	rdb      *redis.Client
}

func (a *app) close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}

func buildApp(ctx context.Context, cfg *appconfig.Config) (*app, error) {
	a := &app{}
	if cfg.General.Debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	var tele *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tele = telemetry.New(cfg.Telemetry.Namespace, prometheus.DefaultRegisterer)
	}

	shared := cache.Cache(cache.NewMemory(cfg.Fetch.CacheSize))
	if addr := cfg.Storage.Redis.Addr(); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.Timeout,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connection failed (%s): %w", addr, err)
		}
		a.rdb = rdb
		shared = cache.NewLayered(cache.NewMemory(cfg.Fetch.CacheSize), cache.NewRedis(rdb, "faro:"))
	}

	registry, embedder, err := buildLLM(cfg.LLM, cfg.General.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	var reranker pipeline.Reranker
	if cfg.LLM.Rerank.Enabled {
		reranker = providers.NewCrossEncoder(cfg.LLM.Rerank.APIKey, cfg.LLM.Rerank.BaseURL, cfg.LLM.Rerank.Model, cfg.LLM.Rerank.Timeout)
	}

	httpFetcher := fetch.NewHTTP(shared, fetch.Options{
		Timeout:      cfg.Fetch.Timeout,
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		MaxChars:     cfg.Fetch.MaxChars,
		CacheTTL:     cfg.Fetch.CacheTTL,
	})
	var fetcher pipeline.Fetcher = httpFetcher
	if cfg.Fetch.Headless {
		fetcher = fetch.NewHeadless(httpFetcher, cfg.Fetch.HeadlessTimeout)
	}

	primary, extra := buildSources(cfg.Sources)
	collector := pipeline.NewCollector(primary, extra, shared, tele, 0, cfg.Pipeline.MinWebResults, cfg.Sources.Timeout)
	ranker := pipeline.NewRanker(embedder, reranker, shared,
		cfg.LLM.Embedding.BatchSize, cfg.LLM.Embedding.InputCap, cfg.LLM.Embedding.CacheTTL)

	routing := pipeline.ModelRouting{
		Simple:   cfg.LLM.Routing.Simple,
		Deep:     cfg.LLM.Routing.Deep,
		Creative: cfg.LLM.Routing.Creative,
		Fallback: cfg.LLM.Routing.Fallback,
	}
	verifyModel := cfg.LLM.Routing.Verification
	if verifyModel == "" {
		verifyModel = routing.Simple
	}
	fuser := pipeline.NewFuser(registry, routing.Simple, cfg.Pipeline.SentencesPerChunk, cfg.Pipeline.MaxBullets)
	synth := pipeline.NewSynthesizer(registry, routing, cfg.Pipeline.MaxImages)
	verifier := pipeline.NewVerifier(registry, verifyModel)

	if cfg.Sessions.Enabled {
		a.sessions = research.NewStore(embedder, cfg.Sessions.TTL)
	}

	opts := pipeline.Options{
		MaxRounds:           cfg.Pipeline.MaxRounds,
		ConfidenceBoost:     cfg.Pipeline.ConfidenceBoost,
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		MinSourceDiversity:  cfg.Pipeline.MinSourceDiversity,
		ChunkMaxLen:         cfg.Pipeline.ChunkMaxLen,
		CandidatePool:       cfg.Pipeline.CandidatePool,
		FastCandidatePool:   cfg.Pipeline.FastCandidatePool,
		TopChunks:           cfg.Pipeline.TopChunks,
		MaxTopChunks:        cfg.Pipeline.MaxTopChunks,
		MaxImages:           cfg.Pipeline.MaxImages,
		FastFetchTimeout:    cfg.Fetch.FastTimeout,
		VerifyByDefault:     cfg.Pipeline.VerifyByDefault,
		Contradictions:      cfg.Pipeline.Contradictions,
		Budget:              cfg.General.MaxProcessingTime,
	}
	if a.sessions != nil {
		opts.ChunkObserver = a.sessions.Observe()
	}
	a.orch = pipeline.NewOrchestrator(collector, fetcher, ranker, fuser, synth, verifier, tele, opts)

	if dsn := cfg.Storage.Postgres.DSN(); dsn != "" {
		history, err := store.NewWithDSN(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate("file://migrations", dsn, "up", 0); err != nil {
			history.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.history = history
	}

	if cfg.Scheduler.Enabled && len(cfg.Scheduler.Jobs) > 0 {
		jobs := make([]scheduler.Job, 0, len(cfg.Scheduler.Jobs))
		for _, j := range cfg.Scheduler.Jobs {
			jobs = append(jobs, scheduler.Job{Name: j.Name, Query: j.Query, Cron: j.Cron, Deep: j.Deep})
		}
		a.sched = scheduler.New(&savedQueryRunner{orch: a.orch, history: a.history}, jobs)
	}

	return a, nil
}

// buildLLM registers every configured provider and resolves the embedder.
func buildLLM(cfg appconfig.LLMConfig, defaultTimeout time.Duration) (*providers.Registry, pipeline.Embedder, error) {
	registry := providers.NewRegistry()
	var embedder pipeline.Embedder
	for name, pc := range cfg.Providers {
		timeout := pc.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		switch pc.Type {
		case "openai", "openai-compatible", "":
			client := providers.NewOpenAI(pc.APIKey, pc.BaseURL, cfg.Embedding.Model, timeout)
			registry.Register(name, client)
			if name == cfg.Embedding.Provider || (embedder == nil && cfg.Embedding.Provider == "") {
				embedder = client
			}
		default:
			return nil, nil, fmt.Errorf("unknown provider type %q for %q", pc.Type, name)
		}
	}
	if embedder == nil {
		return nil, nil, fmt.Errorf("no embedding provider configured (llm.embedding.provider)")
	}
	return registry, embedder, nil
}

// buildSources registers every provider with a credential or an enabled
// flag. Brave rides along as the thin-results web backup when Serper is the
// primary; alone, it is the primary.
func buildSources(cfg appconfig.SourcesConfig) (primary, extra []pipeline.SearchProvider) {
	client := sources.NewClient(cfg.Timeout, 3, 500*time.Millisecond)

	if cfg.Serper.APIKey != "" {
		primary = append(primary, sources.NewSerper(cfg.Serper.APIKey, cfg.Serper.MaxResults, client))
		if cfg.Brave.APIKey != "" {
			extra = append(extra, sources.NewBrave(cfg.Brave.APIKey, cfg.Brave.MaxResults, client))
		}
	} else if cfg.Brave.APIKey != "" {
		primary = append(primary, sources.NewBrave(cfg.Brave.APIKey, cfg.Brave.MaxResults, client))
	}
	if cfg.Wikipedia.Enabled {
		primary = append(primary, sources.NewWikipedia(true, cfg.Wikipedia.MaxResults, client))
	}
	if cfg.Reddit.ClientID != "" && cfg.Reddit.ClientSecret != "" {
		primary = append(primary, sources.NewReddit(cfg.Reddit.ClientID, cfg.Reddit.ClientSecret, cfg.Reddit.MaxResults, client))
	}
	if cfg.YouTube.APIKey != "" {
		primary = append(primary, sources.NewYouTube(cfg.YouTube.APIKey, cfg.YouTube.MaxResults, client))
	}
	if cfg.Arxiv.Enabled {
		primary = append(primary, sources.NewArxiv(true, cfg.Arxiv.MaxResults, client))
	}
	if cfg.SemanticScholar.Enabled {
		primary = append(primary, sources.NewSemanticScholar(true, cfg.SemanticScholar.APIKey, cfg.SemanticScholar.MaxResults, client))
	}
	return primary, extra
}

// savedQueryRunner executes scheduled queries through the full pipeline and
// appends results to history when a store is configured.
type savedQueryRunner struct {
	orch    *pipeline.Orchestrator
	history *store.Store
}

func (r *savedQueryRunner) RunSaved(ctx context.Context, job scheduler.Job) error {
	answer, err := r.orch.Run(ctx, pipeline.Request{Query: job.Query, Deep: job.Deep}, nil)
	if err != nil {
		return err
	}
	if r.history == nil {
		log.Printf("[SCHED] job %q completed, no history store configured", job.Name)
		return nil
	}
	_, err = r.history.SaveAnswer(ctx, job.Query, job.Deep, answer)
	return err
}
