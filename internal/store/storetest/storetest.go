// Package storetest holds the behaviour every model.InstrumentStore must
// share. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// Fixtures returns a small instrument set covering every instrument type.
func Fixtures() []model.Instrument {
	exp := time.Date(2025, 5, 29, 0, 0, 0, 0, time.UTC)
	tick := decimal.RequireFromString("0.05")
	return []model.Instrument{
		{CanonicalSymbol: "RELIANCE", BrokerSymbol: "RELIANCE-EQ", DisplayName: "RELIANCE", CanonicalExchange: model.NSE, BrokerExchange: "NSE", Token: "2885", InstrumentType: model.TypeEquity, LotSize: 1, TickSize: tick},
		{CanonicalSymbol: "RELIANCE", BrokerSymbol: "RELIANCE", DisplayName: "RELIANCE", CanonicalExchange: model.BSE, BrokerExchange: "BSE", Token: "500325", InstrumentType: model.TypeEquity, LotSize: 1, TickSize: tick},
		{CanonicalSymbol: "NIFTY", BrokerSymbol: "Nifty 50", DisplayName: "NIFTY", CanonicalExchange: model.NSEIndex, BrokerExchange: "NSE", Token: "99926000", InstrumentType: model.TypeIndex, LotSize: 1, TickSize: tick},
		{CanonicalSymbol: "NIFTY29MAY25FUT", BrokerSymbol: "NIFTY29MAY25FUT", DisplayName: "NIFTY", CanonicalExchange: model.NFO, BrokerExchange: "NFO", Token: "57130", Expiry: &exp, InstrumentType: model.TypeFuture, LotSize: 75, TickSize: decimal.RequireFromString("0.1")},
		{CanonicalSymbol: "NIFTY29MAY2524500CE", BrokerSymbol: "NIFTY29MAY2524500CE", DisplayName: "NIFTY", CanonicalExchange: model.NFO, BrokerExchange: "NFO", Token: "57131", Expiry: &exp, Strike: decimal.NewNullDecimal(decimal.NewFromInt(24500)), InstrumentType: model.TypeCall, LotSize: 75, TickSize: tick},
		{CanonicalSymbol: "USDINR29MAY2583.25PE", BrokerSymbol: "USDINR29MAY2583.25PE", DisplayName: "USDINR", CanonicalExchange: model.CDS, BrokerExchange: "CDS", Token: "1001", Expiry: &exp, Strike: decimal.NewNullDecimal(decimal.RequireFromString("83.25")), InstrumentType: model.TypePut, LotSize: 1, TickSize: decimal.RequireFromString("0.0025")},
	}
}

// Equities returns n distinct NSE equities.
func Equities(n int, prefix string) []model.Instrument {
	out := make([]model.Instrument, n)
	for i := range out {
		sym := fmt.Sprintf("%s%05d", prefix, i)
		out[i] = model.Instrument{
			CanonicalSymbol: sym, BrokerSymbol: sym + "-EQ", DisplayName: sym,
			CanonicalExchange: model.NSE, BrokerExchange: "NSE", Token: fmt.Sprintf("%s-%d", prefix, i),
			InstrumentType: model.TypeEquity, LotSize: 1, TickSize: decimal.RequireFromString("0.05"),
		}
	}
	return out
}

// AssertInstrumentEqual compares by value, tolerating decimal scale differences.
func AssertInstrumentEqual(t *testing.T, want, got model.Instrument) {
	t.Helper()
	assert.Equal(t, want.CanonicalSymbol, got.CanonicalSymbol)
	assert.Equal(t, want.BrokerSymbol, got.BrokerSymbol)
	assert.Equal(t, want.DisplayName, got.DisplayName)
	assert.Equal(t, want.CanonicalExchange, got.CanonicalExchange)
	assert.Equal(t, want.BrokerExchange, got.BrokerExchange)
	assert.Equal(t, want.Token, got.Token)
	assert.Equal(t, want.InstrumentType, got.InstrumentType)
	assert.Equal(t, want.LotSize, got.LotSize)
	assert.True(t, want.TickSize.Equal(got.TickSize), "tick size %s != %s", want.TickSize, got.TickSize)
	assert.Equal(t, want.Strike.Valid, got.Strike.Valid, "strike presence")
	if want.Strike.Valid && got.Strike.Valid {
		assert.True(t, want.Strike.Decimal.Equal(got.Strike.Decimal), "strike %s != %s", want.Strike.Decimal, got.Strike.Decimal)
	}
	if want.Expiry == nil {
		assert.Nil(t, got.Expiry, "expiry")
	} else if assert.NotNil(t, got.Expiry, "expiry") {
		assert.True(t, want.Expiry.Equal(*got.Expiry), "expiry %v != %v", want.Expiry, got.Expiry)
	}
}

// Run exercises a store returned by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) model.InstrumentStore) {
	t.Run("ReplaceAllAndFind", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		fx := Fixtures()

		n, err := s.ReplaceAll(ctx, fx)
		require.NoError(t, err)
		assert.Equal(t, len(fx), n)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(fx), count)

		for _, want := range fx {
			got, err := s.FindBySymbol(ctx, want.CanonicalSymbol, want.CanonicalExchange)
			require.NoError(t, err, want.SymbolKey().String())
			AssertInstrumentEqual(t, want, got)

			got, err = s.FindByToken(ctx, want.Token, want.BrokerExchange)
			require.NoError(t, err, want.TokenKey().String())
			assert.Equal(t, want.CanonicalSymbol, got.CanonicalSymbol)

			got, err = s.FindByBrokerSymbol(ctx, want.BrokerSymbol, want.BrokerExchange)
			require.NoError(t, err)
			assert.Equal(t, want.CanonicalSymbol, got.CanonicalSymbol)
		}
	})

	t.Run("TokenScopedByExchange", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.ReplaceAll(ctx, Fixtures())
		require.NoError(t, err)

		bse, err := s.FindByToken(ctx, "500325", "BSE")
		require.NoError(t, err)
		nse, err := s.FindByToken(ctx, "2885", "NSE")
		require.NoError(t, err)
		assert.Equal(t, bse.CanonicalSymbol, nse.CanonicalSymbol)
		assert.NotEqual(t, bse.CanonicalExchange, nse.CanonicalExchange)

		_, err = s.FindByToken(ctx, "2885", "BSE")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("BrokerSymbolFirstWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		set := Equities(2, "SHARED")
		set[0].BrokerSymbol = "SHARED-EQ"
		set[1].BrokerSymbol = "SHARED-EQ"
		_, err := s.ReplaceAll(ctx, set)
		require.NoError(t, err)

		got, err := s.FindByBrokerSymbol(ctx, "SHARED-EQ", "NSE")
		require.NoError(t, err)
		assert.Equal(t, set[0].CanonicalSymbol, got.CanonicalSymbol)
		assert.Equal(t, set[0].Token, got.Token)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.FindBySymbol(ctx, "NOPE", model.NSE)
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.FindByToken(ctx, "0", "NSE")
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.FindByBrokerSymbol(ctx, "NOPE-EQ", "NSE")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("ReplaceAllReplacesWholesale", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.ReplaceAll(ctx, Fixtures())
		require.NoError(t, err)

		next := Equities(10, "NEW")
		n, err := s.ReplaceAll(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, 10, n)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, count)

		_, err = s.FindBySymbol(ctx, "RELIANCE", model.NSE)
		assert.ErrorIs(t, err, model.ErrNotFound)

		all, err := s.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 10)
		assert.Equal(t, "NEW00000", all[0].CanonicalSymbol)
	})

	t.Run("SearchPrefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.ReplaceAll(ctx, append(Fixtures(), Equities(20, "NIFTYX")...))
		require.NoError(t, err)

		got, err := s.SearchPrefix(ctx, "nifty29", "", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "NIFTY29MAY2524500CE", got[0].CanonicalSymbol)
		assert.Equal(t, "NIFTY29MAY25FUT", got[1].CanonicalSymbol)

		got, err = s.SearchPrefix(ctx, "NIFTY", model.NSEIndex, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, model.NSEIndex, got[0].CanonicalExchange)

		got, err = s.SearchPrefix(ctx, "NIFTYX", model.NSE, 5)
		require.NoError(t, err)
		assert.Len(t, got, 5)

		got, err = s.SearchPrefix(ctx, "ZZZ", "", 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ConcurrentReadersSeeWholeSets", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		small, large := Equities(50, "A"), Equities(200, "B")
		_, err := s.ReplaceAll(ctx, small)
		require.NoError(t, err)

		var wg sync.WaitGroup
		stop := make(chan struct{})
		errs := make(chan error, 4)
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					n, err := s.Count(ctx)
					if err != nil {
						errs <- err
						return
					}
					if n != len(small) && n != len(large) {
						errs <- fmt.Errorf("observed partial set of %d rows", n)
						return
					}
				}
			}()
		}
		for i := 0; i < 10; i++ {
			set := small
			if i%2 == 0 {
				set = large
			}
			_, err := s.ReplaceAll(ctx, set)
			require.NoError(t, err)
		}
		close(stop)
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
	})
}
