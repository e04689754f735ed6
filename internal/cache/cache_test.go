package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

func equities(n int) []model.Instrument {
	out := make([]model.Instrument, n)
	for i := range out {
		sym := fmt.Sprintf("S%05d", i)
		out[i] = model.Instrument{
			CanonicalSymbol: sym, BrokerSymbol: sym + "-EQ", CanonicalExchange: model.NSE, BrokerExchange: "NSE",
			Token: fmt.Sprint(100000 + i), InstrumentType: model.TypeEquity, LotSize: 1, TickSize: decimal.RequireFromString("0.05"),
		}
	}
	return out
}

func TestCache_ColdBeforeRebuild(t *testing.T) {
	c := New()
	if c.Warm() {
		t.Fatal("new cache should be cold")
	}
	if c.Snapshot() != nil {
		t.Fatal("expected nil snapshot")
	}
	st := c.Stats()
	if st.Warm || st.TotalInstruments != 0 || st.Generation != 0 {
		t.Errorf("cold stats = %+v", st)
	}
}

func TestCache_FourLookups(t *testing.T) {
	c := New()
	c.Rebuild([]model.Instrument{
		{CanonicalSymbol: "RELIANCE", BrokerSymbol: "RELIANCE-EQ", CanonicalExchange: model.NSE, BrokerExchange: "NSE", Token: "2885"},
		{CanonicalSymbol: "RELIANCE", BrokerSymbol: "RELIANCE", CanonicalExchange: model.BSE, BrokerExchange: "BSE", Token: "500325"},
	})
	s := c.Snapshot()

	if tok, ok := s.ResolveToken("RELIANCE", model.NSE); !ok || tok != "2885" {
		t.Errorf("ResolveToken NSE = %q, %v", tok, ok)
	}
	if tok, ok := s.ResolveToken("RELIANCE", model.BSE); !ok || tok != "500325" {
		t.Errorf("ResolveToken BSE = %q, %v", tok, ok)
	}
	if sym, ok := s.ResolveSymbol("500325", "BSE"); !ok || sym != "RELIANCE" {
		t.Errorf("ResolveSymbol = %q, %v", sym, ok)
	}
	if sym, ok := s.ToCanonicalSymbol("RELIANCE-EQ", "NSE"); !ok || sym != "RELIANCE" {
		t.Errorf("ToCanonicalSymbol = %q, %v", sym, ok)
	}
	if br, ok := s.ToBrokerSymbol("RELIANCE", model.NSE); !ok || br != "RELIANCE-EQ" {
		t.Errorf("ToBrokerSymbol = %q, %v", br, ok)
	}
	if _, ok := s.ResolveSymbol("2885", "BSE"); ok {
		t.Error("token must be scoped by broker exchange")
	}
	if _, ok := s.ResolveToken("TCS", model.NSE); ok {
		t.Error("expected miss")
	}
}

func TestCache_ResolveTokensBulk(t *testing.T) {
	c := New()
	c.Rebuild(equities(10))
	got := c.Snapshot().ResolveTokensBulk([]model.SymbolKey{
		{Symbol: "S00001", Exchange: model.NSE},
		{Symbol: "S00009", Exchange: model.NSE},
		{Symbol: "S00001", Exchange: model.BSE},
	})
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2: %v", len(got), got)
	}
	if got[model.SymbolKey{Symbol: "S00009", Exchange: model.NSE}] != "100009" {
		t.Errorf("bulk = %v", got)
	}
}

func TestCache_Search(t *testing.T) {
	c := New()
	c.Rebuild(equities(300))
	s := c.Snapshot()

	got := s.Search("s001", "", 5)
	if len(got) != 5 || got[0].CanonicalSymbol != "S00100" || got[4].CanonicalSymbol != "S00104" {
		t.Errorf("search = %v", got)
	}
	if got := s.Search("S00299", model.NSE, 10); len(got) != 1 {
		t.Errorf("exact prefix = %d results", len(got))
	}
	if got := s.Search("S", model.BSE, 10); len(got) != 0 {
		t.Errorf("exchange filter = %d results", len(got))
	}
}

func TestCache_RebuildIsIdempotentExceptGeneration(t *testing.T) {
	c := New()
	first := c.Rebuild(equities(50))
	snapA := c.Snapshot()
	second := c.Rebuild(equities(50))
	snapB := c.Snapshot()

	if first.TotalInstruments != second.TotalInstruments {
		t.Errorf("totals differ: %d vs %d", first.TotalInstruments, second.TotalInstruments)
	}
	if second.Generation != first.Generation+1 {
		t.Errorf("generation %d -> %d", first.Generation, second.Generation)
	}
	for i := 0; i < 50; i++ {
		sym := fmt.Sprintf("S%05d", i)
		a, _ := snapA.ResolveToken(sym, model.NSE)
		b, _ := snapB.ResolveToken(sym, model.NSE)
		if a != b {
			t.Fatalf("%s: %q != %q", sym, a, b)
		}
	}
}

func TestCache_FirstRecordWinsOnDuplicateKeys(t *testing.T) {
	recs := equities(2)
	dup := recs[0]
	dup.BrokerSymbol = "OTHER"
	c := New()
	st := c.Rebuild(append(recs, dup))
	if st.TotalInstruments != 2 {
		t.Errorf("total = %d, want 2", st.TotalInstruments)
	}
	if br, _ := c.Snapshot().ToBrokerSymbol("S00000", model.NSE); br != "S00000-EQ" {
		t.Errorf("broker symbol = %q", br)
	}
}

// A reader holding a snapshot must always see a complete set: every key
// below its Len resolves and the next one does not.
func TestCache_ConcurrentRebuildAtomicity(t *testing.T) {
	sizes := []int{100, 1000, 3000}
	sets := make([][]model.Instrument, len(sizes))
	valid := map[int]bool{}
	for i, n := range sizes {
		sets[i] = equities(n)
		valid[n] = true
	}

	c := New()
	c.Rebuild(sets[0])

	var (
		stop     atomic.Bool
		failures atomic.Int64
		wg       sync.WaitGroup
	)
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastGen uint64
			for !stop.Load() {
				s := c.Snapshot()
				n := s.Len()
				if !valid[n] || s.Generation() < lastGen {
					failures.Add(1)
					return
				}
				lastGen = s.Generation()
				if _, ok := s.ResolveToken(fmt.Sprintf("S%05d", n-1), model.NSE); !ok {
					failures.Add(1)
					return
				}
				if _, ok := s.ResolveToken(fmt.Sprintf("S%05d", n), model.NSE); ok {
					failures.Add(1)
					return
				}
			}
		}()
	}

	for i := 0; i < 60; i++ {
		c.Rebuild(sets[i%len(sets)])
	}
	stop.Store(true)
	wg.Wait()

	if f := failures.Load(); f != 0 {
		t.Fatalf("%d readers observed an inconsistent snapshot", f)
	}
	if g := c.Stats().Generation; g != 61 {
		t.Errorf("generation = %d, want 61", g)
	}
}
