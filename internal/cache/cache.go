// Package cache is the Resolution Cache: an immutable, multi-indexed
// snapshot of the instrument set, replaced wholesale by an atomic pointer
// swap. Reads take no locks.
package cache

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// brokerKey identifies an instrument by broker symbol and broker exchange.
type brokerKey struct {
	symbol   string
	exchange string
}

// Snapshot is one published index set. It is never mutated after publish,
// so a reader may hold it for as long as it likes.
type Snapshot struct {
	records []model.Instrument

	// (canonical_symbol, canonical_exchange) serves both the token and the
	// outbound broker-symbol lookups.
	bySymbol map[model.SymbolKey]int32
	byToken  map[model.TokenKey]int32
	byBroker map[brokerKey]int32

	// positions ordered by canonical symbol, for prefix search
	sorted []int32

	generation uint64
	builtAt    time.Time
}

func build(records []model.Instrument) *Snapshot {
	s := &Snapshot{
		records:  make([]model.Instrument, 0, len(records)),
		bySymbol: make(map[model.SymbolKey]int32, len(records)),
		byToken:  make(map[model.TokenKey]int32, len(records)),
		byBroker: make(map[brokerKey]int32, len(records)),
	}
	for i := range records {
		inst := records[i]
		sk, tk := inst.SymbolKey(), inst.TokenKey()
		if _, dup := s.bySymbol[sk]; dup {
			continue
		}
		if _, dup := s.byToken[tk]; dup {
			continue
		}
		pos := int32(len(s.records))
		s.records = append(s.records, inst)
		s.bySymbol[sk] = pos
		s.byToken[tk] = pos
		bk := brokerKey{inst.BrokerSymbol, inst.BrokerExchange}
		if _, ok := s.byBroker[bk]; !ok {
			s.byBroker[bk] = pos
		}
	}
	s.sorted = make([]int32, len(s.records))
	for i := range s.sorted {
		s.sorted[i] = int32(i)
	}
	sort.Slice(s.sorted, func(a, b int) bool {
		ra, rb := &s.records[s.sorted[a]], &s.records[s.sorted[b]]
		if ra.CanonicalSymbol != rb.CanonicalSymbol {
			return ra.CanonicalSymbol < rb.CanonicalSymbol
		}
		return ra.CanonicalExchange < rb.CanonicalExchange
	})
	return s
}

// Len is the number of instruments in the snapshot.
func (s *Snapshot) Len() int { return len(s.records) }

// Generation is the rebuild counter this snapshot was published under.
func (s *Snapshot) Generation() uint64 { return s.generation }

// BuiltAt is when the snapshot was published.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// ResolveToken: (canonical symbol, canonical exchange) -> token.
func (s *Snapshot) ResolveToken(symbol string, exchange model.Exchange) (string, bool) {
	if i, ok := s.bySymbol[model.SymbolKey{Symbol: symbol, Exchange: exchange}]; ok {
		return s.records[i].Token, true
	}
	return "", false
}

// ResolveSymbol: (token, broker exchange) -> canonical symbol.
func (s *Snapshot) ResolveSymbol(token, brokerExchange string) (string, bool) {
	if i, ok := s.byToken[model.TokenKey{Token: token, BrokerExchange: brokerExchange}]; ok {
		return s.records[i].CanonicalSymbol, true
	}
	return "", false
}

// ToCanonicalSymbol: (broker symbol, broker exchange) -> canonical symbol.
func (s *Snapshot) ToCanonicalSymbol(brokerSymbol, brokerExchange string) (string, bool) {
	if i, ok := s.byBroker[brokerKey{brokerSymbol, brokerExchange}]; ok {
		return s.records[i].CanonicalSymbol, true
	}
	return "", false
}

// ToBrokerSymbol: (canonical symbol, canonical exchange) -> broker symbol.
func (s *Snapshot) ToBrokerSymbol(symbol string, exchange model.Exchange) (string, bool) {
	if i, ok := s.bySymbol[model.SymbolKey{Symbol: symbol, Exchange: exchange}]; ok {
		return s.records[i].BrokerSymbol, true
	}
	return "", false
}

// Instrument returns the full record for a canonical key.
func (s *Snapshot) Instrument(symbol string, exchange model.Exchange) (model.Instrument, bool) {
	if i, ok := s.bySymbol[model.SymbolKey{Symbol: symbol, Exchange: exchange}]; ok {
		return s.records[i], true
	}
	return model.Instrument{}, false
}

// InstrumentByToken returns the full record for a token key.
func (s *Snapshot) InstrumentByToken(token, brokerExchange string) (model.Instrument, bool) {
	if i, ok := s.byToken[model.TokenKey{Token: token, BrokerExchange: brokerExchange}]; ok {
		return s.records[i], true
	}
	return model.Instrument{}, false
}

// ResolveTokensBulk resolves many keys against this one snapshot. Misses
// are absent from the result.
func (s *Snapshot) ResolveTokensBulk(keys []model.SymbolKey) map[model.SymbolKey]string {
	out := make(map[model.SymbolKey]string, len(keys))
	for _, k := range keys {
		if i, ok := s.bySymbol[k]; ok {
			out[k] = s.records[i].Token
		}
	}
	return out
}

// Search returns up to limit instruments whose canonical symbol starts with
// prefix, in symbol order. An empty exchange matches all exchanges.
func (s *Snapshot) Search(prefix string, exchange model.Exchange, limit int) []model.Instrument {
	limit = model.ClampLimit(limit, 0)
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	start := sort.Search(len(s.sorted), func(i int) bool {
		return s.records[s.sorted[i]].CanonicalSymbol >= prefix
	})
	var out []model.Instrument
	for _, pos := range s.sorted[start:] {
		inst := &s.records[pos]
		if !strings.HasPrefix(inst.CanonicalSymbol, prefix) {
			break
		}
		if exchange != "" && inst.CanonicalExchange != exchange {
			continue
		}
		out = append(out, *inst)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Stats describes the published snapshot.
type Stats struct {
	TotalInstruments int       `json:"total_instruments"`
	LastRebuiltAt    time.Time `json:"last_rebuilt_at"`
	Generation       uint64    `json:"cache_generation"`
	Warm             bool      `json:"warm"`
}

// Cache holds the published snapshot. Rebuilds are serialized; reads only
// load the pointer.
type Cache struct {
	cur atomic.Pointer[Snapshot]

	mu  sync.Mutex // serializes Rebuild
	gen uint64
	now func() time.Time
}

// New returns a cold cache.
func New() *Cache {
	return &Cache{now: time.Now}
}

// Rebuild builds a complete snapshot from records off to the side and then
// publishes it with a single pointer store.
func (c *Cache) Rebuild(records []model.Instrument) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := build(records)
	c.gen++
	next.generation = c.gen
	next.builtAt = c.now()
	c.cur.Store(next)
	return statsOf(next)
}

// Snapshot returns the published snapshot, or nil before the first rebuild.
func (c *Cache) Snapshot() *Snapshot { return c.cur.Load() }

// Warm reports whether a snapshot has been published.
func (c *Cache) Warm() bool { return c.cur.Load() != nil }

// Stats reports on the published snapshot without triggering a rebuild.
func (c *Cache) Stats() Stats { return statsOf(c.cur.Load()) }

func statsOf(s *Snapshot) Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		TotalInstruments: s.Len(),
		LastRebuiltAt:    s.builtAt,
		Generation:       s.generation,
		Warm:             true,
	}
}
