package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/communitysafe/alerthub/internal/aggregator"
	"github.com/communitysafe/alerthub/internal/api"
	"github.com/communitysafe/alerthub/internal/config"
	"github.com/communitysafe/alerthub/internal/feeds"
	"github.com/communitysafe/alerthub/internal/logging"
	"github.com/communitysafe/alerthub/internal/observability"
	"github.com/communitysafe/alerthub/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpClient := feeds.NewHTTPClient(cfg.Sources.FetchTimeout, cfg.Sources.FetchRetries)
	usgs := feeds.NewUSGSAdapter(cfg.Sources.USGSBaseURL, cfg.Sources.USGSMinMagnitude, httpClient)
	weather := feeds.NewWeatherAdapter(cfg.Sources.WeatherURL, httpClient)

	var adapters []feeds.Adapter
	if cfg.Sources.USGSEnabled {
		adapters = append(adapters, usgs)
	}
	if cfg.Sources.WeatherEnabled {
		adapters = append(adapters, weather)
	}

	agg := aggregator.New(adapters, db, aggregator.Options{
		RefreshInterval: cfg.Cache.RefreshInterval,
		MaxAge:          cfg.Cache.MaxAge,
		Metrics:         observability.NewMetrics(),
	})

	// Global feeds refresh in the background; location-scoped feeds run per
	// request with the caller's coordinates.
	agg.Run(ctx, nil)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS))

	handler := api.NewHandler(agg, usgs, weather, db, cfg.Auth.JWTSecret)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	agg.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
