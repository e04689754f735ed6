// Package registry is the only surface broker adapters import: the Lookup
// facade over the resolution cache, and the refresh service that rebuilds it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marketcalls/openalgo-sub002/internal/cache"
	"github.com/marketcalls/openalgo-sub002/internal/metrics"
	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// Lookup resolves between canonical and broker identifiers. Misses return
// model.ErrNotFound.
type Lookup interface {
	ResolveToken(ctx context.Context, symbol string, exchange model.Exchange) (string, error)
	ResolveSymbol(ctx context.Context, token, brokerExchange string) (string, error)
	ToBrokerSymbol(ctx context.Context, symbol string, exchange model.Exchange) (string, error)
	ToCanonicalSymbol(ctx context.Context, brokerSymbol, brokerExchange string) (string, error)
	ResolveTokensBulk(ctx context.Context, keys []model.SymbolKey) (map[model.SymbolKey]string, error)
	Instrument(ctx context.Context, symbol string, exchange model.Exchange) (model.Instrument, error)
	InstrumentByToken(ctx context.Context, token, brokerExchange string) (model.Instrument, error)
	Search(ctx context.Context, prefix string, exchange model.Exchange, limit int) ([]model.Instrument, error)
	Stats() cache.Stats
}

// Lookup operation labels.
const (
	opResolveToken      = "resolve_token"
	opResolveSymbol     = "resolve_symbol"
	opToBrokerSymbol    = "to_broker_symbol"
	opToCanonicalSymbol = "to_canonical_symbol"
	opBulk              = "resolve_tokens_bulk"
	opInstrument        = "instrument"
	opInstrumentByToken = "instrument_by_token"
	opSearch            = "search"
)

// Facade serves lookups from the published cache snapshot. Until the first
// rebuild it falls back to the store.
type Facade struct {
	cache       *cache.Cache
	store       model.InstrumentReader
	metrics     *metrics.Metrics
	health      *metrics.HealthStatus
	searchLimit int

	// held from the store read through publish, so a slow reload cannot
	// publish a set older than one already committed and published
	rebuildMu sync.Mutex
}

// FacadeOption customizes a Facade.
type FacadeOption func(*Facade)

// WithMetrics records lookup outcomes and cache gauges.
func WithMetrics(m *metrics.Metrics) FacadeOption { return func(f *Facade) { f.metrics = m } }

// WithHealth reports cache state to the health endpoint.
func WithHealth(h *metrics.HealthStatus) FacadeOption { return func(f *Facade) { f.health = h } }

// WithSearchLimit sets the default search result size.
func WithSearchLimit(n int) FacadeOption { return func(f *Facade) { f.searchLimit = n } }

// NewFacade returns a facade over c with store as the cold-start fallback.
func NewFacade(c *cache.Cache, store model.InstrumentReader, opts ...FacadeOption) *Facade {
	f := &Facade{cache: c, store: store, searchLimit: 50}
	for _, o := range opts {
		o(f)
	}
	return f
}

var _ Lookup = (*Facade)(nil)

func (f *Facade) count(op, result string) {
	if f.metrics != nil {
		f.metrics.Lookups.WithLabelValues(op, result).Inc()
	}
}

func (f *Facade) hit(op string, ok bool) {
	if ok {
		f.count(op, "hit")
	} else {
		f.count(op, "miss")
	}
}

// fromStore runs a cold-start point lookup against the store.
func (f *Facade) fromStore(op string, find func() (model.Instrument, error)) (model.Instrument, error) {
	f.count(op, "fallback")
	inst, err := find()
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Instrument{}, model.ErrNotFound
		}
		return model.Instrument{}, fmt.Errorf("%s: store fallback: %w", op, err)
	}
	return inst, nil
}

func (f *Facade) ResolveToken(ctx context.Context, symbol string, exchange model.Exchange) (string, error) {
	if snap := f.cache.Snapshot(); snap != nil {
		tok, ok := snap.ResolveToken(symbol, exchange)
		f.hit(opResolveToken, ok)
		if !ok {
			return "", model.ErrNotFound
		}
		return tok, nil
	}
	inst, err := f.fromStore(opResolveToken, func() (model.Instrument, error) {
		return f.store.FindBySymbol(ctx, symbol, exchange)
	})
	return inst.Token, err
}

func (f *Facade) ResolveSymbol(ctx context.Context, token, brokerExchange string) (string, error) {
	if snap := f.cache.Snapshot(); snap != nil {
		sym, ok := snap.ResolveSymbol(token, brokerExchange)
		f.hit(opResolveSymbol, ok)
		if !ok {
			return "", model.ErrNotFound
		}
		return sym, nil
	}
	inst, err := f.fromStore(opResolveSymbol, func() (model.Instrument, error) {
		return f.store.FindByToken(ctx, token, brokerExchange)
	})
	return inst.CanonicalSymbol, err
}

func (f *Facade) ToBrokerSymbol(ctx context.Context, symbol string, exchange model.Exchange) (string, error) {
	if snap := f.cache.Snapshot(); snap != nil {
		bs, ok := snap.ToBrokerSymbol(symbol, exchange)
		f.hit(opToBrokerSymbol, ok)
		if !ok {
			return "", model.ErrNotFound
		}
		return bs, nil
	}
	inst, err := f.fromStore(opToBrokerSymbol, func() (model.Instrument, error) {
		return f.store.FindBySymbol(ctx, symbol, exchange)
	})
	return inst.BrokerSymbol, err
}

func (f *Facade) ToCanonicalSymbol(ctx context.Context, brokerSymbol, brokerExchange string) (string, error) {
	if snap := f.cache.Snapshot(); snap != nil {
		sym, ok := snap.ToCanonicalSymbol(brokerSymbol, brokerExchange)
		f.hit(opToCanonicalSymbol, ok)
		if !ok {
			return "", model.ErrNotFound
		}
		return sym, nil
	}
	inst, err := f.fromStore(opToCanonicalSymbol, func() (model.Instrument, error) {
		return f.store.FindByBrokerSymbol(ctx, brokerSymbol, brokerExchange)
	})
	return inst.CanonicalSymbol, err
}

// ResolveTokensBulk resolves every key against one snapshot. Misses are
// absent from the result; the call itself only fails on a cold-start store
// error.
func (f *Facade) ResolveTokensBulk(ctx context.Context, keys []model.SymbolKey) (map[model.SymbolKey]string, error) {
	if snap := f.cache.Snapshot(); snap != nil {
		out := snap.ResolveTokensBulk(keys)
		f.hit(opBulk, len(out) == len(keys))
		return out, nil
	}

	f.count(opBulk, "fallback")
	out := make(map[model.SymbolKey]string, len(keys))
	for _, k := range keys {
		inst, err := f.store.FindBySymbol(ctx, k.Symbol, k.Exchange)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: store fallback: %w", opBulk, err)
		}
		out[k] = inst.Token
	}
	return out, nil
}

func (f *Facade) Instrument(ctx context.Context, symbol string, exchange model.Exchange) (model.Instrument, error) {
	if snap := f.cache.Snapshot(); snap != nil {
		inst, ok := snap.Instrument(symbol, exchange)
		f.hit(opInstrument, ok)
		if !ok {
			return model.Instrument{}, model.ErrNotFound
		}
		return inst, nil
	}
	return f.fromStore(opInstrument, func() (model.Instrument, error) {
		return f.store.FindBySymbol(ctx, symbol, exchange)
	})
}

func (f *Facade) InstrumentByToken(ctx context.Context, token, brokerExchange string) (model.Instrument, error) {
	if snap := f.cache.Snapshot(); snap != nil {
		inst, ok := snap.InstrumentByToken(token, brokerExchange)
		f.hit(opInstrumentByToken, ok)
		if !ok {
			return model.Instrument{}, model.ErrNotFound
		}
		return inst, nil
	}
	return f.fromStore(opInstrumentByToken, func() (model.Instrument, error) {
		return f.store.FindByToken(ctx, token, brokerExchange)
	})
}

// Search returns instruments whose canonical symbol starts with prefix. An
// empty result is not an error.
func (f *Facade) Search(ctx context.Context, prefix string, exchange model.Exchange, limit int) ([]model.Instrument, error) {
	limit = model.ClampLimit(limit, f.searchLimit)
	if snap := f.cache.Snapshot(); snap != nil {
		out := snap.Search(prefix, exchange, limit)
		f.hit(opSearch, len(out) > 0)
		return out, nil
	}
	f.count(opSearch, "fallback")
	out, err := f.store.SearchPrefix(ctx, strings.ToUpper(strings.TrimSpace(prefix)), exchange, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: store fallback: %w", opSearch, err)
	}
	return out, nil
}

// Stats reports on the published snapshot.
func (f *Facade) Stats() cache.Stats { return f.cache.Stats() }

// Reload rebuilds the cache from the store. An empty store leaves the cache
// as it is so that lookups keep their current source. Reloads and
// post-refresh rebuilds run one at a time.
func (f *Facade) Reload(ctx context.Context) (cache.Stats, error) {
	f.rebuildMu.Lock()
	defer f.rebuildMu.Unlock()
	return f.reloadLocked(ctx)
}

func (f *Facade) reloadLocked(ctx context.Context) (cache.Stats, error) {
	all, err := f.store.All(ctx)
	if err != nil {
		return f.cache.Stats(), fmt.Errorf("reload: read store: %w", err)
	}
	if len(all) == 0 {
		log.Printf("[registry] reload: store is empty, cache left at generation %d", f.cache.Stats().Generation)
		return f.cache.Stats(), nil
	}
	return f.publish(all), nil
}

// reloadCommitted rebuilds the cache after the store was replaced with
// loaded. When the read back fails or disagrees in size, loaded is
// published instead and the returned error says why.
func (f *Facade) reloadCommitted(ctx context.Context, loaded []model.Instrument) (cache.Stats, error) {
	f.rebuildMu.Lock()
	defer f.rebuildMu.Unlock()

	st, err := f.reloadLocked(ctx)
	if err == nil && st.TotalInstruments == len(loaded) {
		return st, nil
	}
	if err == nil {
		err = fmt.Errorf("store read back %d instruments, loaded %d", st.TotalInstruments, len(loaded))
	}
	return f.publish(loaded), err
}

// publish rebuilds the cache from records and updates gauges. Callers hold
// rebuildMu.
func (f *Facade) publish(records []model.Instrument) cache.Stats {
	var st cache.Stats
	if f.metrics != nil {
		timer := prometheus.NewTimer(f.metrics.RebuildDur)
		st = f.cache.Rebuild(records)
		timer.ObserveDuration()
		f.metrics.Instruments.Set(float64(st.TotalInstruments))
		f.metrics.CacheGeneration.Set(float64(st.Generation))
	} else {
		st = f.cache.Rebuild(records)
	}
	if f.health != nil {
		f.health.SetCache(st.Warm, st.Generation, st.TotalInstruments)
	}
	log.Printf("[registry] cache generation %d published: %d instruments", st.Generation, st.TotalInstruments)
	return st
}
