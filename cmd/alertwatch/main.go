// alertwatch tails the combined alert feed in a terminal, driven by the same
// subscription layer the UI consumes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/communitysafe/alerthub/internal/aggregator"
	"github.com/communitysafe/alerthub/internal/config"
	"github.com/communitysafe/alerthub/internal/feeds"
	"github.com/communitysafe/alerthub/internal/logging"
	"github.com/communitysafe/alerthub/internal/models"
	"github.com/communitysafe/alerthub/internal/repository"
	"github.com/communitysafe/alerthub/internal/subscriber"
)

func main() {
	var (
		lat      = flag.Float64("lat", 0, "latitude for the weather feed")
		lon      = flag.Float64("lon", 0, "longitude for the weather feed")
		place    = flag.String("place", "", "location string for relevance scoping")
		interval = flag.Duration("interval", 30*time.Second, "refresh interval")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	httpClient := feeds.NewHTTPClient(cfg.Sources.FetchTimeout, cfg.Sources.FetchRetries)
	adapters := []feeds.Adapter{
		feeds.NewUSGSAdapter(cfg.Sources.USGSBaseURL, cfg.Sources.USGSMinMagnitude, httpClient),
		feeds.NewWeatherAdapter(cfg.Sources.WeatherURL, httpClient),
	}
	agg := aggregator.New(adapters, db, aggregator.Options{
		RefreshInterval: cfg.Cache.RefreshInterval,
		MaxAge:          cfg.Cache.MaxAge,
	})

	opts := subscriber.Options{
		Location:        *place,
		RefreshInterval: *interval,
	}
	if *lat != 0 || *lon != 0 {
		opts.Coordinates = &models.Coordinates{Latitude: *lat, Longitude: *lon}
	}

	sub, err := subscriber.New(agg, opts)
	if err != nil {
		logging.Fatalf("Failed to create subscription: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub.Start(ctx)
	defer sub.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	seen := make(map[string]bool)
	for {
		select {
		case <-quit:
			slog.Info("alertwatch stopping")
			return
		case <-ticker.C:
			state := sub.State()
			if state.LastErr != nil {
				slog.Warn("refresh error", "error", state.LastErr)
			}
			for i := len(state.Alerts) - 1; i >= 0; i-- {
				a := state.Alerts[i]
				if seen[a.ID] {
					continue
				}
				seen[a.ID] = true
				fmt.Printf("[%s] %-10s %-8s %s\n",
					a.Timestamp.Format(time.RFC3339), a.Source, a.Severity, a.Title)
			}
		}
	}
}
