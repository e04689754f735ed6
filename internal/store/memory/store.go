// Package memory is an in-process InstrumentStore. It backs tests and
// ephemeral deployments that rebuild from the feed on every start.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

type brokerKey struct {
	symbol   string
	exchange string
}

type dataset struct {
	all      []model.Instrument
	bySymbol map[model.SymbolKey]int
	byToken  map[model.TokenKey]int
	byBroker map[brokerKey]int
	sorted   []int // indexes into all, ordered by canonical symbol
}

// Store keeps the instrument set in memory. ReplaceAll swaps the whole
// dataset under a write lock so readers never see a mix.
type Store struct {
	mu   sync.RWMutex
	data *dataset

	reads    atomic.Int64
	replaces atomic.Int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: build(nil)}
}

func build(instruments []model.Instrument) *dataset {
	d := &dataset{
		all:      append([]model.Instrument(nil), instruments...),
		bySymbol: make(map[model.SymbolKey]int, len(instruments)),
		byToken:  make(map[model.TokenKey]int, len(instruments)),
		byBroker: make(map[brokerKey]int, len(instruments)),
		sorted:   make([]int, len(instruments)),
	}
	// first row wins on every key, matching the id order of the SQL stores
	for i := range d.all {
		inst := &d.all[i]
		if _, ok := d.bySymbol[inst.SymbolKey()]; !ok {
			d.bySymbol[inst.SymbolKey()] = i
		}
		if _, ok := d.byToken[inst.TokenKey()]; !ok {
			d.byToken[inst.TokenKey()] = i
		}
		bk := brokerKey{symbol: inst.BrokerSymbol, exchange: inst.BrokerExchange}
		if _, ok := d.byBroker[bk]; !ok {
			d.byBroker[bk] = i
		}
		d.sorted[i] = i
	}
	sort.SliceStable(d.sorted, func(a, b int) bool {
		return d.all[d.sorted[a]].CanonicalSymbol < d.all[d.sorted[b]].CanonicalSymbol
	})
	return d
}

// Reads returns how many read calls the store has served.
func (s *Store) Reads() int64 { return s.reads.Load() }

// Replaces returns how many times ReplaceAll succeeded.
func (s *Store) Replaces() int64 { return s.replaces.Load() }

func (s *Store) snapshot() *dataset {
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *Store) ReplaceAll(ctx context.Context, instruments []model.Instrument) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d := build(instruments)
	s.mu.Lock()
	s.data = d
	s.mu.Unlock()
	s.replaces.Add(1)
	return len(instruments), nil
}

func (s *Store) FindBySymbol(_ context.Context, symbol string, exchange model.Exchange) (model.Instrument, error) {
	d := s.snapshot()
	if i, ok := d.bySymbol[model.SymbolKey{Symbol: symbol, Exchange: exchange}]; ok {
		return d.all[i], nil
	}
	return model.Instrument{}, model.ErrNotFound
}

func (s *Store) FindByToken(_ context.Context, token, brokerExchange string) (model.Instrument, error) {
	d := s.snapshot()
	if i, ok := d.byToken[model.TokenKey{Token: token, BrokerExchange: brokerExchange}]; ok {
		return d.all[i], nil
	}
	return model.Instrument{}, model.ErrNotFound
}

func (s *Store) FindByBrokerSymbol(_ context.Context, brokerSymbol, brokerExchange string) (model.Instrument, error) {
	d := s.snapshot()
	if i, ok := d.byBroker[brokerKey{symbol: brokerSymbol, exchange: brokerExchange}]; ok {
		return d.all[i], nil
	}
	return model.Instrument{}, model.ErrNotFound
}

func (s *Store) SearchPrefix(_ context.Context, partial string, exchange model.Exchange, limit int) ([]model.Instrument, error) {
	d := s.snapshot()
	limit = model.ClampLimit(limit, 0)
	partial = strings.ToUpper(partial)

	start := sort.Search(len(d.sorted), func(i int) bool {
		return d.all[d.sorted[i]].CanonicalSymbol >= partial
	})
	var out []model.Instrument
	for _, idx := range d.sorted[start:] {
		inst := d.all[idx]
		if !strings.HasPrefix(inst.CanonicalSymbol, partial) {
			break
		}
		if exchange != "" && inst.CanonicalExchange != exchange {
			continue
		}
		out = append(out, inst)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) All(_ context.Context) ([]model.Instrument, error) {
	d := s.snapshot()
	return append([]model.Instrument(nil), d.all...), nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	return len(s.snapshot().all), nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

var _ model.InstrumentStore = (*Store)(nil)
