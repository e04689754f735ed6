package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/marketcalls/openalgo-sub002/config"
	"github.com/marketcalls/openalgo-sub002/internal/api"
	"github.com/marketcalls/openalgo-sub002/internal/app"
	"github.com/marketcalls/openalgo-sub002/internal/cache"
	"github.com/marketcalls/openalgo-sub002/internal/logger"
	"github.com/marketcalls/openalgo-sub002/internal/metrics"
	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/internal/registry"
	redisstore "github.com/marketcalls/openalgo-sub002/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[symbold] starting...")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[symbold] WARNING: .env not loaded: %v", err)
	}
	cfg := config.Load()
	slogger := logger.InitWithFile("symbold", logger.ParseLevel(cfg.LogLevel), logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	metricsSrv.Start()

	// ---- Registry store ----
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("[symbold] store init failed: %v", err)
	}
	defer store.Close()

	facade := registry.NewFacade(cache.New(), store,
		registry.WithMetrics(prom),
		registry.WithHealth(health),
		registry.WithSearchLimit(cfg.SearchLimit),
	)
	// serve the last committed set while the first refresh runs
	if st, err := facade.Reload(ctx); err != nil {
		log.Printf("[symbold] WARNING: warm start failed, lookups fall back to the store: %v", err)
	} else if st.Warm {
		log.Printf("[symbold] warm start: %d instruments (generation %d)", st.TotalInstruments, st.Generation)
	}

	// ---- Refresh events (optional) ----
	var (
		publisher model.RefreshPublisher
		events    *redisstore.Notifier
		rdb       *goredis.Client
	)
	if cfg.RedisAddr != "" {
		events, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Channel:  cfg.RedisChannel,
		}, prom)
		if err != nil {
			log.Printf("[symbold] WARNING: redis unavailable, refresh events disabled: %v", err)
		} else {
			publisher = events
			rdb = events.Client()
			defer events.Close()
		}
	}
	health.StartLivenessChecker(ctx, store, rdb, 10*time.Second)

	// ---- Refresh service ----
	brokers, err := app.Brokers(cfg)
	if err != nil {
		log.Fatalf("[symbold] broker config: %v", err)
	}
	svc := registry.NewService(store, facade, brokers, registry.Options{
		SourceTimeout: cfg.SourceTimeout,
		MaxRejectRate: cfg.MaxRejectRate,
		Publisher:     publisher,
		Notifier:      app.Notifier(cfg, "symbold"),
		Metrics:       prom,
		Health:        health,
		Logger:        slogger,
	})
	log.Printf("[symbold] brokers: %v (active=%s)", svc.Brokers(), cfg.ActiveBroker)

	if events != nil {
		go func() {
			if err := registry.Follow(ctx, events, facade, registry.Origin()); err != nil {
				log.Printf("[symbold] refresh event subscription ended: %v", err)
			}
		}()
	}

	sched, err := registry.NewScheduler(svc, cfg.ActiveBroker, cfg.RefreshAt)
	if err != nil {
		log.Fatalf("[symbold] REFRESH_AT: %v", err)
	}
	if cfg.RefreshOnStart {
		go func() {
			if _, err := svc.Refresh(ctx, cfg.ActiveBroker); err != nil {
				log.Printf("[symbold] startup refresh failed: %v", err)
			}
		}()
	}
	go sched.Run(ctx)

	// ---- HTTP API ----
	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(facade, svc, health, api.WithActiveBroker(cfg.ActiveBroker)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[symbold] api listening on %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[symbold] api server error: %v", err)
		}
	}()

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[symbold] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[symbold] shutdown complete.")
}
