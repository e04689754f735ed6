package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is a normalized exchange segment.
type Exchange string

const (
	NSE      Exchange = "NSE"
	BSE      Exchange = "BSE"
	NFO      Exchange = "NFO"
	BFO      Exchange = "BFO"
	CDS      Exchange = "CDS"
	BCD      Exchange = "BCD"
	MCX      Exchange = "MCX"
	NCDEX    Exchange = "NCDEX"
	NSEIndex Exchange = "NSE_INDEX"
	BSEIndex Exchange = "BSE_INDEX"
	MCXIndex Exchange = "MCX_INDEX"
)

// IsDerivative reports whether contracts on this segment carry an expiry.
func (e Exchange) IsDerivative() bool {
	switch e {
	case NFO, BFO, CDS, BCD, MCX, NCDEX:
		return true
	}
	return false
}

// IsIndex reports whether the segment only lists indices.
func (e Exchange) IsIndex() bool {
	return strings.HasSuffix(string(e), "_INDEX")
}

// InstrumentType classifies a contract.
type InstrumentType string

const (
	TypeEquity InstrumentType = "EQ"
	TypeIndex  InstrumentType = "INDEX"
	TypeFuture InstrumentType = "FUT"
	TypeCall   InstrumentType = "CE"
	TypePut    InstrumentType = "PE"
)

// IsOption reports whether t is CE or PE.
func (t InstrumentType) IsOption() bool { return t == TypeCall || t == TypePut }

// IsDerivative reports whether t requires an expiry.
func (t InstrumentType) IsDerivative() bool { return t == TypeFuture || t.IsOption() }

// Valid reports whether t is one of the known types.
func (t InstrumentType) Valid() bool {
	switch t {
	case TypeEquity, TypeIndex, TypeFuture, TypeCall, TypePut:
		return true
	}
	return false
}

// Instrument is one exchange-listed tradable contract as seen through a broker.
type Instrument struct {
	CanonicalSymbol   string              `json:"symbol"`
	BrokerSymbol      string              `json:"brsymbol"`
	DisplayName       string              `json:"name"`
	CanonicalExchange Exchange            `json:"exchange"`
	BrokerExchange    string              `json:"brexchange"`
	Token             string              `json:"token"`
	Expiry            *time.Time          `json:"expiry,omitempty"` // date only, UTC midnight
	Strike            decimal.NullDecimal `json:"strike"`
	InstrumentType    InstrumentType      `json:"instrumenttype"`
	LotSize           int                 `json:"lotsize"`
	TickSize          decimal.Decimal     `json:"tick_size"`
}

// SymbolKey identifies an instrument by canonical symbol and exchange.
type SymbolKey struct {
	Symbol   string
	Exchange Exchange
}

func (k SymbolKey) String() string { return string(k.Exchange) + ":" + k.Symbol }

// TokenKey identifies an instrument by broker token and broker exchange.
type TokenKey struct {
	Token          string
	BrokerExchange string
}

func (k TokenKey) String() string { return k.BrokerExchange + ":" + k.Token }

// SymbolKey returns the canonical (symbol, exchange) key.
func (i *Instrument) SymbolKey() SymbolKey {
	return SymbolKey{Symbol: i.CanonicalSymbol, Exchange: i.CanonicalExchange}
}

// TokenKey returns the (token, broker exchange) key.
func (i *Instrument) TokenKey() TokenKey {
	return TokenKey{Token: i.Token, BrokerExchange: i.BrokerExchange}
}

// Validate checks the record invariants that must hold before it is stored.
func (i *Instrument) Validate() error {
	if strings.TrimSpace(i.Token) == "" {
		return fmt.Errorf("empty token")
	}
	if !i.InstrumentType.Valid() {
		return fmt.Errorf("unknown instrument type %q", i.InstrumentType)
	}
	if i.CanonicalSymbol == "" {
		if i.InstrumentType != TypeIndex || i.BrokerSymbol == "" {
			return fmt.Errorf("unresolved canonical symbol for %q", i.BrokerSymbol)
		}
	}
	if i.InstrumentType.IsDerivative() && i.Expiry == nil {
		return fmt.Errorf("%s contract without expiry", i.InstrumentType)
	}
	if !i.InstrumentType.IsDerivative() && i.Expiry != nil {
		return fmt.Errorf("%s instrument with expiry", i.InstrumentType)
	}
	if i.InstrumentType.IsOption() && (!i.Strike.Valid || !i.Strike.Decimal.IsPositive()) {
		return fmt.Errorf("option without positive strike")
	}
	if i.Strike.Valid && i.Strike.Decimal.IsNegative() {
		return fmt.Errorf("negative strike %s", i.Strike.Decimal)
	}
	if i.LotSize < 1 {
		return fmt.Errorf("lot size %d < 1", i.LotSize)
	}
	if !i.TickSize.IsPositive() {
		return fmt.Errorf("tick size %s must be > 0", i.TickSize)
	}
	return nil
}

// Date truncates t to a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
