// Package sqlite is the default Registry Store: one SQLite file in WAL mode.
// Writes go through a single connection; reads use a small separate pool so
// they keep seeing the last committed set while a replace is in flight.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// Config configures the SQLite store.
type Config struct {
	DBPath   string // path to SQLite database file, e.g. "data/symbols.db"
	ReadConn int    // reader pool size, default 4
}

// Store implements model.InstrumentStore on SQLite.
type Store struct {
	wdb *sql.DB
	rdb *sql.DB
}

// DB returns the reader pool for health checks.
func (s *Store) DB() *sql.DB { return s.rdb }

// New opens the database, applies WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	wdb, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// single writer
	wdb.SetMaxOpenConns(1)
	wdb.SetMaxIdleConns(1)

	if err := createSchema(wdb); err != nil {
		wdb.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	rdb, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		wdb.Close()
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	n := cfg.ReadConn
	if n <= 0 {
		n = 4
	}
	rdb.SetMaxOpenConns(n)
	rdb.SetMaxIdleConns(n)

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{wdb: wdb, rdb: rdb}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS symtoken (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			canonical_symbol   TEXT    NOT NULL,
			broker_symbol      TEXT    NOT NULL,
			display_name       TEXT    NOT NULL DEFAULT '',
			canonical_exchange TEXT    NOT NULL,
			broker_exchange    TEXT    NOT NULL,
			token              TEXT    NOT NULL,
			expiry             TEXT,
			strike             TEXT,
			lot_size           INTEGER NOT NULL,
			instrument_type    TEXT    NOT NULL,
			tick_size          TEXT    NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_symtoken_symbol    ON symtoken (canonical_symbol, canonical_exchange);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_symtoken_token     ON symtoken (token, broker_exchange);
		CREATE INDEX        IF NOT EXISTS idx_symtoken_brsymbol  ON symtoken (broker_symbol, broker_exchange);
	`)
	return err
}

// ReplaceAll deletes the previous set and inserts instruments inside one
// transaction. Concurrent readers keep the old snapshot until commit.
func (s *Store) ReplaceAll(ctx context.Context, instruments []model.Instrument) (int, error) {
	start := time.Now()
	tx, err := s.wdb.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symtoken`); err != nil {
		return 0, fmt.Errorf("sqlite clear symtoken: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symtoken (canonical_symbol, broker_symbol, display_name, canonical_exchange,
			broker_exchange, token, expiry, strike, lot_size, instrument_type, tick_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("sqlite prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range instruments {
		inst := &instruments[i]
		if _, err := stmt.ExecContext(ctx,
			inst.CanonicalSymbol, inst.BrokerSymbol, inst.DisplayName, string(inst.CanonicalExchange),
			inst.BrokerExchange, inst.Token, expiryValue(inst.Expiry), inst.Strike, inst.LotSize,
			string(inst.InstrumentType), inst.TickSize,
		); err != nil {
			return 0, fmt.Errorf("sqlite insert %s: %w", inst.SymbolKey(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite commit: %w", err)
	}
	log.Printf("[sqlite] replaced symtoken with %d rows in %v", len(instruments), time.Since(start))
	return len(instruments), nil
}

func expiryValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.DateOnly)
}

// Ping checks both pools.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.wdb.PingContext(ctx); err != nil {
		return err
	}
	return s.rdb.PingContext(ctx)
}

// Close closes both pools.
func (s *Store) Close() error {
	rerr := s.rdb.Close()
	if err := s.wdb.Close(); err != nil {
		return err
	}
	return rerr
}

var _ model.InstrumentStore = (*Store)(nil)
