package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/internal/capability"
	"github.com/counselgraph/counselgraph/internal/orchestrator"
	"github.com/counselgraph/counselgraph/internal/retrieval"
	"github.com/counselgraph/counselgraph/internal/store"
	"github.com/counselgraph/counselgraph/internal/telemetry"
	"github.com/counselgraph/counselgraph/provider"
	"github.com/counselgraph/counselgraph/session"
	"github.com/counselgraph/counselgraph/session/inmemory"
	"github.com/counselgraph/counselgraph/session/redisstore"
	"github.com/counselgraph/counselgraph/tools/ingest"
	"github.com/counselgraph/counselgraph/tools/web_fetch"
	"github.com/counselgraph/counselgraph/tools/web_search"
)

// Run wires the whole service and starts the HTTP listener.
func Run(cfgPath, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	cfg := config.LoadConfig(cfgPath)
	tel := telemetry.New(cfg.Telemetry)

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(tel.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	prov, err := provider.NewProvider(cfg.LLM, tel.RecordLLMUsage)
	if err != nil {
		return err
	}

	searcher, err := buildSearcher(cfg.Search)
	if err != nil {
		return err
	}
	fetcher, err := web_fetch.NewWebFetcher(web_fetch.FetcherType(cfg.Search.Fetcher), cfg.Search.FetchTimeout, cfg.Search.FetchMax)
	if err != nil {
		return err
	}

	// Matter sessions live in redis when configured, memory otherwise.
	var sessions session.Store
	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
		sessions = redisstore.NewStore(rdb)
	} else {
		sessions = inmemory.NewStore()
	}

	rephraser := retrieval.NewRephraser(cfg, prov)
	collector := retrieval.NewCollector(cfg, rephraser, searcher, fetcher)
	reranker := retrieval.NewReranker(cfg, prov)
	pipeline := retrieval.NewPipeline(cfg, prov, collector, reranker, sessions, tel)

	var required []capability.Kind
	for _, r := range cfg.Capability.Required {
		required = append(required, capability.Kind(r))
	}
	registry, err := capability.NewRegistry(capability.DefaultCards(), "", required)
	if err != nil {
		return err
	}
	for _, impl := range orchestrator.DefaultCapabilities(cfg, prov, collector, reranker) {
		if err := registry.Bind(impl); err != nil {
			return err
		}
	}

	engine := orchestrator.NewEngine(cfg, registry, prov, st, st, tel)
	ing := ingest.NewIngest(sessions, prov, 0, nil)

	h := &Handler{
		Cfg:      cfg,
		Store:    st,
		Engine:   engine,
		Pipeline: pipeline,
		Ingest:   ing,
	}
	h.Register(e.Group("/api"))

	if cfg.Server.SchedulerEnabled {
		sched := &Scheduler{Store: st, Engine: engine, Rdb: rdb, Stop: make(chan struct{})}
		sched.Start()
	}

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":10801"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// buildSearcher assembles the provider chain: the configured primary
// first, any other keyed provider as fallback.
func buildSearcher(cfg config.SearchConfig) (web_search.Searcher, error) {
	var searchers []web_search.Searcher
	add := func(p web_search.Provider, key string) error {
		if key == "" {
			return nil
		}
		s, err := web_search.NewSearcher(p, key)
		if err != nil {
			return err
		}
		if string(p) == cfg.Provider {
			searchers = append([]web_search.Searcher{s}, searchers...)
		} else {
			searchers = append(searchers, s)
		}
		return nil
	}
	if err := add(web_search.SerperProvider, cfg.SerperAPIKey); err != nil {
		return nil, err
	}
	if err := add(web_search.BraveProvider, cfg.BraveAPIKey); err != nil {
		return nil, err
	}
	if len(searchers) == 0 {
		return nil, fmt.Errorf("no search provider configured (search.serper_api_key or search.brave_api_key)")
	}
	return web_search.Chain{Searchers: searchers, Logger: log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)}, nil
}
