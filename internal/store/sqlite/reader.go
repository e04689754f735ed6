package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

const selectColumns = `
	SELECT canonical_symbol, broker_symbol, display_name, canonical_exchange, broker_exchange,
		token, expiry, strike, lot_size, instrument_type, tick_size
	FROM symtoken`

type scanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row scanner) (model.Instrument, error) {
	var (
		inst            model.Instrument
		exchange, itype string
		expiry          sql.NullString
	)
	if err := row.Scan(&inst.CanonicalSymbol, &inst.BrokerSymbol, &inst.DisplayName, &exchange,
		&inst.BrokerExchange, &inst.Token, &expiry, &inst.Strike, &inst.LotSize, &itype, &inst.TickSize); err != nil {
		return model.Instrument{}, err
	}
	inst.CanonicalExchange = model.Exchange(exchange)
	inst.InstrumentType = model.InstrumentType(itype)
	if expiry.Valid {
		t, err := time.Parse(time.DateOnly, expiry.String)
		if err != nil {
			return model.Instrument{}, fmt.Errorf("parse expiry %q: %w", expiry.String, err)
		}
		inst.Expiry = &t
	}
	return inst, nil
}

func (s *Store) findOne(ctx context.Context, where string, args ...any) (model.Instrument, error) {
	inst, err := scanInstrument(s.rdb.QueryRowContext(ctx, selectColumns+" WHERE "+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Instrument{}, model.ErrNotFound
		}
		return model.Instrument{}, fmt.Errorf("sqlite query symtoken: %w", err)
	}
	return inst, nil
}

func (s *Store) FindBySymbol(ctx context.Context, symbol string, exchange model.Exchange) (model.Instrument, error) {
	return s.findOne(ctx, "canonical_symbol = ? AND canonical_exchange = ?", symbol, string(exchange))
}

func (s *Store) FindByToken(ctx context.Context, token, brokerExchange string) (model.Instrument, error) {
	return s.findOne(ctx, "token = ? AND broker_exchange = ?", token, brokerExchange)
}

func (s *Store) FindByBrokerSymbol(ctx context.Context, brokerSymbol, brokerExchange string) (model.Instrument, error) {
	return s.findOne(ctx, "broker_symbol = ? AND broker_exchange = ? ORDER BY id LIMIT 1", brokerSymbol, brokerExchange)
}

// SearchPrefix uses a half-open range on canonical_symbol so the symbol
// index serves the scan.
func (s *Store) SearchPrefix(ctx context.Context, partial string, exchange model.Exchange, limit int) ([]model.Instrument, error) {
	limit = model.ClampLimit(limit, 0)
	partial = strings.ToUpper(strings.TrimSpace(partial))

	var (
		conds []string
		args  []any
	)
	if partial != "" {
		conds = append(conds, "canonical_symbol >= ?")
		args = append(args, partial)
		if hi, ok := prefixUpperBound(partial); ok {
			conds = append(conds, "canonical_symbol < ?")
			args = append(args, hi)
		}
	}
	if exchange != "" {
		conds = append(conds, "canonical_exchange = ?")
		args = append(args, string(exchange))
	}
	q := selectColumns
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY canonical_symbol, canonical_exchange LIMIT ?"
	args = append(args, limit)

	return s.queryMany(ctx, q, args...)
}

// All returns every row ordered by id, i.e. load order.
func (s *Store) All(ctx context.Context) ([]model.Instrument, error) {
	return s.queryMany(ctx, selectColumns+" ORDER BY id")
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.rdb.QueryRowContext(ctx, `SELECT COUNT(*) FROM symtoken`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count symtoken: %w", err)
	}
	return n, nil
}

func (s *Store) queryMany(ctx context.Context, q string, args ...any) ([]model.Instrument, error) {
	rows, err := s.rdb.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symtoken: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan symtoken: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// prefixUpperBound returns the smallest string greater than every string
// with prefix p.
func prefixUpperBound(p string) (string, bool) {
	b := []byte(p)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
