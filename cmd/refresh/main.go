// Command refresh runs one registry refresh and exits. The exit code is 0
// on success, 2 when the refresh was aborted or no source answered, 3 when
// another refresh holds the lock and 1 otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"github.com/marketcalls/openalgo-sub002/config"
	"github.com/marketcalls/openalgo-sub002/internal/app"
	"github.com/marketcalls/openalgo-sub002/internal/cache"
	"github.com/marketcalls/openalgo-sub002/internal/logger"
	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/internal/registry"
	redisstore "github.com/marketcalls/openalgo-sub002/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[refresh] WARNING: .env not loaded: %v", err)
	}
	cfg := config.Load()

	broker := flag.String("broker", cfg.ActiveBroker, "Broker id to refresh")
	brokersFile := flag.String("brokers", cfg.BrokersFile, "YAML broker catalogue (default: built-in Angel entry)")
	printReport := flag.Bool("report", true, "Print the refresh report as JSON on stdout")
	flag.Parse()
	cfg.BrokersFile = *brokersFile

	slogger := logger.Init("refresh", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("[refresh] store init failed: %v", err)
	}
	defer store.Close()

	brokers, err := app.Brokers(cfg)
	if err != nil {
		log.Fatalf("[refresh] broker config: %v", err)
	}

	// announce to running services so they reload from the shared store
	var publisher model.RefreshPublisher
	if cfg.RedisAddr != "" {
		n, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Channel:  cfg.RedisChannel,
		}, nil)
		if err != nil {
			log.Printf("[refresh] WARNING: redis unavailable, running services will not reload: %v", err)
		} else {
			publisher = n
			defer n.Close()
		}
	}

	facade := registry.NewFacade(cache.New(), store)
	svc := registry.NewService(store, facade, brokers, registry.Options{
		SourceTimeout: cfg.SourceTimeout,
		MaxRejectRate: cfg.MaxRejectRate,
		Publisher:     publisher,
		Notifier:      app.Notifier(cfg, "refresh"),
		Logger:        slogger,
	})

	report, err := svc.Refresh(ctx, *broker)
	if *printReport && report.RunID != "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	}
	code := exitCode(err)
	if err != nil {
		log.Printf("[refresh] %s refresh failed: %v", *broker, err)
	} else {
		log.Printf("[refresh] %s refresh done: inserted=%d rejected=%d duplicates=%d",
			*broker, report.Inserted, report.Rejected, report.Duplicates)
	}
	store.Close()
	os.Exit(code)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, model.ErrRefreshAborted), errors.Is(err, model.ErrSourceUnavailable):
		return 2
	case errors.Is(err, model.ErrRefreshInProgress):
		return 3
	}
	return 1
}
