package postgres

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// Store implements model.InstrumentStore using PostgreSQL.
type Store struct {
	pool *Pool
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Compile-time interface check.
var _ model.InstrumentStore = (*Store)(nil)

var copyColumns = []string{
	"canonical_symbol", "broker_symbol", "display_name", "canonical_exchange", "broker_exchange",
	"token", "expiry", "strike", "lot_size", "instrument_type", "tick_size",
}

const selectColumns = `
	SELECT canonical_symbol, broker_symbol, display_name, canonical_exchange, broker_exchange,
		token, expiry, strike, lot_size, instrument_type, tick_size
	FROM symtoken`

// ReplaceAll deletes the previous set and bulk-copies the new one in a single
// transaction. Under MVCC, concurrent readers see the old rows until commit.
func (s *Store) ReplaceAll(ctx context.Context, instruments []model.Instrument) (int, error) {
	start := time.Now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM symtoken`); err != nil {
		return 0, fmt.Errorf("clear symtoken: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"symtoken"}, copyColumns,
		pgx.CopyFromSlice(len(instruments), func(i int) ([]any, error) {
			inst := &instruments[i]
			return []any{
				inst.CanonicalSymbol,
				inst.BrokerSymbol,
				inst.DisplayName,
				string(inst.CanonicalExchange),
				inst.BrokerExchange,
				inst.Token,
				dateValue(inst.Expiry),
				nullNumeric(inst.Strike),
				int32(inst.LotSize),
				string(inst.InstrumentType),
				numeric(inst.TickSize),
			}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("copy symtoken: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	log.Printf("[postgres] replaced symtoken with %d rows in %v", n, time.Since(start))
	return int(n), nil
}

func (s *Store) FindBySymbol(ctx context.Context, symbol string, exchange model.Exchange) (model.Instrument, error) {
	return s.findOne(ctx, selectColumns+` WHERE canonical_symbol = $1 AND canonical_exchange = $2`, symbol, string(exchange))
}

func (s *Store) FindByToken(ctx context.Context, token, brokerExchange string) (model.Instrument, error) {
	return s.findOne(ctx, selectColumns+` WHERE token = $1 AND broker_exchange = $2`, token, brokerExchange)
}

func (s *Store) FindByBrokerSymbol(ctx context.Context, brokerSymbol, brokerExchange string) (model.Instrument, error) {
	return s.findOne(ctx, selectColumns+` WHERE broker_symbol = $1 AND broker_exchange = $2 ORDER BY id LIMIT 1`, brokerSymbol, brokerExchange)
}

func (s *Store) findOne(ctx context.Context, query string, args ...any) (model.Instrument, error) {
	inst, err := scanInstrument(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNotFoundError(err) {
			return model.Instrument{}, model.ErrNotFound
		}
		return model.Instrument{}, fmt.Errorf("query symtoken: %w", err)
	}
	return inst, nil
}

// SearchPrefix matches canonical symbols by prefix. LIKE metacharacters in
// partial are escaped.
func (s *Store) SearchPrefix(ctx context.Context, partial string, exchange model.Exchange, limit int) ([]model.Instrument, error) {
	limit = model.ClampLimit(limit, 0)
	pattern := escapeLike(strings.ToUpper(strings.TrimSpace(partial))) + "%"

	query := selectColumns + ` WHERE canonical_symbol LIKE $1`
	args := []any{pattern}
	if exchange != "" {
		query += ` AND canonical_exchange = $2`
		args = append(args, string(exchange))
	}
	query += fmt.Sprintf(` ORDER BY canonical_symbol, canonical_exchange LIMIT %d`, limit)

	return s.queryMany(ctx, query, args...)
}

func (s *Store) All(ctx context.Context) ([]model.Instrument, error) {
	return s.queryMany(ctx, selectColumns+` ORDER BY id`)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM symtoken`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count symtoken: %w", err)
	}
	return int(n), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) queryMany(ctx context.Context, query string, args ...any) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query symtoken: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan symtoken: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanInstrument(row pgx.Row) (model.Instrument, error) {
	var (
		inst             model.Instrument
		exchange, itype  string
		expiry           pgtype.Date
		strike, tickSize pgtype.Numeric
		lot              int32
	)
	if err := row.Scan(&inst.CanonicalSymbol, &inst.BrokerSymbol, &inst.DisplayName, &exchange,
		&inst.BrokerExchange, &inst.Token, &expiry, &strike, &lot, &itype, &tickSize); err != nil {
		return model.Instrument{}, err
	}
	inst.CanonicalExchange = model.Exchange(exchange)
	inst.InstrumentType = model.InstrumentType(itype)
	inst.LotSize = int(lot)
	if expiry.Valid {
		d := time.Date(expiry.Time.Year(), expiry.Time.Month(), expiry.Time.Day(), 0, 0, 0, 0, time.UTC)
		inst.Expiry = &d
	}
	if strike.Valid {
		inst.Strike = decimal.NewNullDecimal(decimalFromNumeric(strike))
	}
	inst.TickSize = decimalFromNumeric(tickSize)
	return inst, nil
}

func dateValue(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: *t, Valid: true}
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func nullNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return numeric(d.Decimal)
}

func decimalFromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
