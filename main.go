package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/querymesh/router/internal/api"
	"github.com/querymesh/router/internal/config"
	"github.com/querymesh/router/internal/dashboard"
	"github.com/querymesh/router/internal/enginerunner"
	"github.com/querymesh/router/internal/events"
	"github.com/querymesh/router/internal/monitoring"
	"github.com/querymesh/router/internal/orchestrator"
	"github.com/querymesh/router/internal/querycache"
	"github.com/querymesh/router/internal/schema"
	"github.com/querymesh/router/internal/sqlfacade"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("version", version).Msg("Starting querymesh router")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	facade := sqlfacade.New(cfg.SQLDialect)
	schemas := schema.NewRegistry()
	runner := enginerunner.NewRunner(cfg)
	defer runner.Close()

	var cache *querycache.Cache
	if cfg.Cache.Enabled {
		cache = querycache.New(cfg.Cache.Capacity, time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.TrackMtimes)
	}

	eventHub := events.NewHub()
	go eventHub.Run()
	if cache != nil {
		cache.SetPublisher(eventHub)
	}

	orch := orchestrator.New(cfg, facade, schemas, runner, cache)
	orch.SetPublisher(eventHub)

	dashboardService := dashboard.NewService(cache, eventHub.ConnectedClients)

	metrics := monitoring.NewCollector()
	metrics.Describe("router_queries_total", monitoring.MetricCounter, "Total number of queries executed")
	metrics.Describe("router_cache_hit_rate", monitoring.MetricGauge, "Current query cache hit rate")
	metrics.Describe("router_connected_dashboards", monitoring.MetricGauge, "Currently connected dashboard websocket clients")

	healthMonitor := monitoring.NewHealthMonitor()
	healthMonitor.RegisterChecker(&monitoring.DataRootChecker{StatFunc: func() error {
		_, err := os.Stat(cfg.DataRoot)
		return err
	}})
	for _, engineCfg := range cfg.Engines {
		engineID := engineCfg.ID
		healthMonitor.RegisterChecker(&monitoring.EngineChecker{
			EngineID: engineID,
			Failing: func() bool {
				recent := dashboardService.Snapshot().RecentQueries
				for i := len(recent) - 1; i >= 0; i-- {
					if recent[i].EngineID == engineID {
						return !recent[i].Success
					}
				}
				return false
			},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if cache != nil {
					metrics.SetGauge("router_cache_hit_rate", cache.Stats().HitRate)
				}
				metrics.SetGauge("router_connected_dashboards", float64(eventHub.ConnectedClients()))
			case <-ctx.Done():
				return
			}
		}
	}()

	server := &api.Server{
		Orchestrator: orch,
		Schemas:      schemas,
		Cache:        cache,
		Dashboard:    dashboardService,
		Events:       eventHub,
		Health:       healthMonitor,
		Metrics:      metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	server.Routes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	done := make(chan bool, 1)
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
		close(done)
	}()

	log.Info().Str("port", cfg.Server.Port).Msg("Server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed to start")
	}

	<-done
	log.Info().Msg("Server stopped")
}
