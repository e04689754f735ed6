package ingest

import (
	"strings"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

type exchangeKey struct {
	native  string
	segment string
}

// ExchangeMap resolves (broker exchange, segment) pairs to canonical exchanges.
// An empty segment is the default for that native exchange.
type ExchangeMap struct {
	m map[exchangeKey]model.Exchange
}

// DefaultExchangeMap covers the plain exchange codes plus Angel One's
// segment codes and the index segments brokers publish.
func DefaultExchangeMap() *ExchangeMap {
	em := &ExchangeMap{m: make(map[exchangeKey]model.Exchange, 64)}

	for _, ex := range []model.Exchange{
		model.NSE, model.BSE, model.NFO, model.BFO, model.CDS, model.BCD,
		model.MCX, model.NCDEX, model.NSEIndex, model.BSEIndex, model.MCXIndex,
	} {
		em.Set(string(ex), "", ex)
	}

	for _, seg := range []string{"EQ", "CM", "CASH"} {
		em.Set("NSE", seg, model.NSE)
		em.Set("BSE", seg, model.BSE)
	}
	for _, seg := range []string{"FNO", "FO", "NFO", "DERIVATIVES"} {
		em.Set("NSE", seg, model.NFO)
		em.Set("BSE", seg, model.BFO)
	}
	for _, seg := range []string{"IDX", "INDEX", "AMXIDX", "INDICES"} {
		em.Set("NSE", seg, model.NSEIndex)
		em.Set("BSE", seg, model.BSEIndex)
		em.Set("MCX", seg, model.MCXIndex)
	}
	for _, seg := range []string{"CDS", "CUR", "CURRENCY"} {
		em.Set("NSE", seg, model.CDS)
		em.Set("BSE", seg, model.BCD)
	}
	em.Set("MCX", "COMM", model.MCX)
	em.Set("MCX", "FO", model.MCX)

	// Angel One exch_seg codes
	em.Set("NSE_CM", "", model.NSE)
	em.Set("NSE_FO", "", model.NFO)
	em.Set("BSE_CM", "", model.BSE)
	em.Set("BSE_FO", "", model.BFO)
	em.Set("MCX_FO", "", model.MCX)
	em.Set("CDE_FO", "", model.CDS)
	em.Set("BCD_FO", "", model.BCD)
	em.Set("NCX_FO", "", model.NCDEX)

	return em
}

// Set adds or overrides one mapping.
func (em *ExchangeMap) Set(native, segment string, ex model.Exchange) {
	em.m[exchangeKey{norm(native), norm(segment)}] = ex
}

// Lookup returns the canonical exchange and whether the pair was mapped.
// Unmapped pairs return the native exchange unchanged.
func (em *ExchangeMap) Lookup(native, segment string) (model.Exchange, bool) {
	key := exchangeKey{norm(native), norm(segment)}
	if ex, ok := em.m[key]; ok {
		return ex, true
	}
	return model.Exchange(key.native), false
}

// Clone returns an independent copy so per-broker overrides do not leak.
func (em *ExchangeMap) Clone() *ExchangeMap {
	out := &ExchangeMap{m: make(map[exchangeKey]model.Exchange, len(em.m))}
	for k, v := range em.m {
		out.m[k] = v
	}
	return out
}

// Len reports the number of mappings.
func (em *ExchangeMap) Len() int { return len(em.m) }

// indexExchange promotes a cash segment to its index segment for rows
// classified as INDEX.
func indexExchange(ex model.Exchange) model.Exchange {
	switch ex {
	case model.NSE:
		return model.NSEIndex
	case model.BSE:
		return model.BSEIndex
	case model.MCX:
		return model.MCXIndex
	}
	return ex
}

func norm(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
