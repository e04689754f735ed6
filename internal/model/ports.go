package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the registry from concrete storage implementations
// (SQLite, PostgreSQL, memory). Each implementation satisfies InstrumentStore.

// InstrumentWriter replaces the full instrument set.
type InstrumentWriter interface {
	// ReplaceAll swaps the stored set for instruments in one atomic step.
	// Readers see either the previous set or the new one, never a mix.
	ReplaceAll(ctx context.Context, instruments []Instrument) (int, error)
}

// InstrumentReader answers point and prefix queries.
// Point lookups return ErrNotFound on a miss.
type InstrumentReader interface {
	FindBySymbol(ctx context.Context, symbol string, exchange Exchange) (Instrument, error)
	FindByToken(ctx context.Context, token, brokerExchange string) (Instrument, error)
	FindByBrokerSymbol(ctx context.Context, brokerSymbol, brokerExchange string) (Instrument, error)

	// SearchPrefix returns at most limit instruments whose canonical symbol
	// starts with partial. An empty exchange matches every exchange.
	SearchPrefix(ctx context.Context, partial string, exchange Exchange, limit int) ([]Instrument, error)

	// All streams the full set, used to rebuild the resolution cache.
	All(ctx context.Context) ([]Instrument, error)
	Count(ctx context.Context) (int, error)
}

// InstrumentStore is the Registry Store port.
type InstrumentStore interface {
	InstrumentWriter
	InstrumentReader

	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

// RefreshEvent is broadcast after a successful refresh so other processes can
// reload their caches from the shared store.
type RefreshEvent struct {
	RunID      string    `json:"run_id"`
	Broker     string    `json:"broker"`
	Inserted   int       `json:"inserted"`
	Generation uint64    `json:"generation"`
	Origin     string    `json:"origin"` // publishing process, host:pid
	At         time.Time `json:"at"`
}

// RefreshPublisher announces completed refreshes.
type RefreshPublisher interface {
	PublishRefresh(ctx context.Context, ev RefreshEvent) error
}

// SearchHardLimit caps any prefix search regardless of the requested limit.
const SearchHardLimit = 500

// ClampLimit applies the default and hard cap to a search limit.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > SearchHardLimit {
		limit = SearchHardLimit
	}
	return limit
}
