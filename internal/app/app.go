// Package app assembles the registry from configuration. Both binaries share
// it so that a one-shot refresh and the long-running service see the same
// store, brokers and alert chain.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/marketcalls/openalgo-sub002/config"
	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/internal/notification"
	"github.com/marketcalls/openalgo-sub002/internal/registry"
	"github.com/marketcalls/openalgo-sub002/internal/store/memory"
	"github.com/marketcalls/openalgo-sub002/internal/store/postgres"
	"github.com/marketcalls/openalgo-sub002/internal/store/sqlite"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// OpenStore opens the Registry Store selected by cfg.StoreDriver. Postgres
// schema migrations are applied before the pool is opened.
func OpenStore(ctx context.Context, cfg *config.Config) (model.InstrumentStore, error) {
	switch cfg.StoreDriver {
	case DriverSQLite, "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		st, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
		if err != nil {
			return nil, err
		}
		log.Printf("[app] sqlite store at %s", cfg.SQLitePath)
		return st, nil

	case DriverPostgres:
		dsn := cfg.MustPostgresDSN()
		if err := postgres.Migrate(ctx, dsn); err != nil {
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		pool, err := postgres.NewPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		log.Println("[app] postgres store ready")
		return postgres.NewStore(pool), nil

	case DriverMemory:
		log.Println("[app] memory store: instruments are lost on exit")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q (want sqlite, postgres or memory)", cfg.StoreDriver)
}

// Notifier builds the alert chain: log always, plus webhook and Telegram
// when configured.
func Notifier(cfg *config.Config, service string) notification.Notifier {
	chain := notification.Multi{notification.NewLogNotifier()}
	if cfg.AlertWebhookURL != "" {
		chain = append(chain, notification.NewWebhookNotifier(cfg.AlertWebhookURL, service))
		log.Println("[app] webhook alerts enabled")
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		chain = append(chain, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[app] telegram alerts enabled")
	}
	return chain
}

// Brokers loads the broker catalogue and builds every broker.
func Brokers(cfg *config.Config) ([]*registry.Broker, error) {
	cfgs, err := cfg.Brokers()
	if err != nil {
		return nil, err
	}
	return registry.BuildBrokers(cfgs, cfg.SourceTimeout)
}
