package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studygen/studygen/config"
	"github.com/studygen/studygen/internal/agent/core"
	"github.com/studygen/studygen/internal/agent/telemetry"
	"github.com/studygen/studygen/internal/research"
	"github.com/studygen/studygen/internal/runtime"
	"github.com/studygen/studygen/internal/store"
	"github.com/studygen/studygen/tools/web_fetch"
	"github.com/studygen/studygen/tools/web_search"
)

// Run wires the full service and serves HTTP on addr. When addr is empty
// the configured server address is used.
func Run(configPath, addr string) error {
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
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	cfg := config.LoadConfig(configPath)

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}

	rdb := store.NewRedisClient(cfg.Storage.Redis)
	searchCache := store.NewSearchCache(rdb, cfg.Research.CacheTTL)

	llm, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}

	var apiKey string
	switch cfg.Research.Provider {
	case "brave":
		apiKey = cfg.Research.BraveAPIKey
	default:
		apiKey = cfg.Research.SerperAPIKey
	}
	webSearcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Research.Provider), apiKey)
	if err != nil {
		return err
	}
	searcher := research.NewSearcher(cfg.Research.Provider, webSearcher, searchCache)

	fetcher, err := web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType, cfg.Research.Fetch.Timeout, cfg.Research.Fetch.MaxChars)
	if err != nil {
		return err
	}
	scraper := research.NewScraper(fetcher)

	tele := telemetry.New(cfg.Telemetry)
	defer tele.Shutdown()

	progress := NewProgressHub()
	runner := NewAgentRunner(cfg, llm, searcher, scraper, tele, st, progress)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(runtime.EchoAuthMiddleware(secret))
	me.GET("", func(c echo.Context) error {
		return c.JSON(200, MeResponse{UserID: authSubject(c)})
	})

	runs := &RunsHandler{Store: st, Runner: runner}
	runs.Register(api.Group("/runs"), secret)

	topics := &TopicsHandler{Store: st, Runner: runner}
	topics.Register(api.Group("/topics"), secret)

	sched := NewScheduler(st, runner, rdb)
	sched.Start()
	defer close(sched.Stop)

	if addr == "" {
		addr = cfg.Server.Address
	}
	return e.Start(addr)
}
