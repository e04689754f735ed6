// Package ingest turns raw broker contract rows into validated instruments
// and loads them into the registry store.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/internal/symbol"
)

// Rejection codes.
const (
	RejectMissingToken    = "missing_token"
	RejectMissingSymbol   = "missing_symbol"
	RejectBadStrike       = "bad_strike"
	RejectNegativeStrike  = "negative_strike"
	RejectBadExpiry       = "bad_expiry"
	RejectBadLotSize      = "bad_lot_size"
	RejectBadTickSize     = "bad_tick_size"
	RejectMalformedSymbol = "malformed_symbol"
	RejectInvalid         = "invalid_instrument"
)

// Result is the outcome of normalizing one batch.
type Result struct {
	Total    int
	Valid    []model.Instrument
	Rejected []model.Rejection
	// Unmapped counts rows per "exchange/segment" pair that had no entry in
	// the exchange map and were passed through unchanged.
	Unmapped map[string]int
}

// RejectRate is the rejected fraction of Total.
func (r *Result) RejectRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(len(r.Rejected)) / float64(r.Total)
}

// Merge appends other into r.
func (r *Result) Merge(other Result) {
	r.Total += other.Total
	r.Valid = append(r.Valid, other.Valid...)
	r.Rejected = append(r.Rejected, other.Rejected...)
	if len(other.Unmapped) > 0 && r.Unmapped == nil {
		r.Unmapped = make(map[string]int, len(other.Unmapped))
	}
	for k, v := range other.Unmapped {
		r.Unmapped[k] += v
	}
}

// Normalizer converts one broker's raw rows. It is safe for concurrent use
// once constructed.
type Normalizer struct {
	Broker    string
	Strategy  symbol.Strategy
	Exchanges *ExchangeMap
}

// NewNormalizer builds a Normalizer with the default exchange map when em is nil.
func NewNormalizer(broker string, strategy symbol.Strategy, em *ExchangeMap) *Normalizer {
	if em == nil {
		em = DefaultExchangeMap()
	}
	if strategy == nil {
		strategy = symbol.Canonical
	}
	return &Normalizer{Broker: broker, Strategy: strategy, Exchanges: em}
}

// Normalize converts every row independently. A bad row is rejected with a
// reason and never stops the batch.
func (n *Normalizer) Normalize(rows []model.RawRow) Result {
	res := Result{Total: len(rows), Valid: make([]model.Instrument, 0, len(rows))}
	for _, row := range rows {
		inst, mapped, rej := n.normalizeRow(row)
		if !mapped {
			if res.Unmapped == nil {
				res.Unmapped = make(map[string]int)
			}
			res.Unmapped[unmappedKey(row)]++
		}
		if rej != nil {
			res.Rejected = append(res.Rejected, *rej)
			continue
		}
		res.Valid = append(res.Valid, inst)
	}
	return res
}

func unmappedKey(row model.RawRow) string {
	if s := norm(row.Segment); s != "" {
		return norm(row.BrokerExchange) + "/" + s
	}
	return norm(row.BrokerExchange)
}

func reject(row model.RawRow, code string, err error) *model.Rejection {
	return &model.Rejection{Row: row, Code: code, Reason: err.Error()}
}

func (n *Normalizer) normalizeRow(row model.RawRow) (model.Instrument, bool, *model.Rejection) {
	ex, mapped := n.Exchanges.Lookup(row.BrokerExchange, row.Segment)

	token := strings.TrimSpace(row.Token)
	if token == "" {
		return model.Instrument{}, mapped, reject(row, RejectMissingToken, errors.New("empty token"))
	}
	brSymbol := strings.TrimSpace(row.BrokerSymbol)
	if brSymbol == "" {
		return model.Instrument{}, mapped, reject(row, RejectMissingSymbol, errors.New("empty broker symbol"))
	}

	strike, err := ParseStrike(row.Strike)
	if err != nil {
		return model.Instrument{}, mapped, reject(row, RejectBadStrike, err)
	}
	if strike.Valid && strike.Decimal.IsNegative() {
		return model.Instrument{}, mapped, reject(row, RejectNegativeStrike, fmt.Errorf("strike %s < 0", strike.Decimal))
	}
	expiry, err := ParseExpiry(row.Expiry)
	if err != nil {
		return model.Instrument{}, mapped, reject(row, RejectBadExpiry, err)
	}
	lot, err := ParseLotSize(row.LotSize)
	if err != nil {
		return model.Instrument{}, mapped, reject(row, RejectBadLotSize, err)
	}
	tick, err := ParseTickSize(row.TickSize)
	if err != nil {
		return model.Instrument{}, mapped, reject(row, RejectBadTickSize, err)
	}

	hint := Classify(row.TypeHint, strike, expiry, ex)
	if hint == symbol.HintIndex {
		ex = indexExchange(ex)
	}

	frag, err := n.Strategy.Decode(brSymbol, ex, hint)
	if err != nil {
		return model.Instrument{}, mapped, reject(row, RejectMalformedSymbol, err)
	}
	if hint == symbol.HintIndex && strings.TrimSpace(row.Name) != "" {
		frag.Underlying = preferIndexSymbol(frag.Underlying, symbol.IndexSymbol(row.Name))
	}

	// The row's own expiry and strike are authoritative; the codec fills gaps.
	if frag.Type.IsDerivative() {
		if expiry != nil {
			frag.Expiry = *expiry
		}
		if frag.Type.IsOption() && strike.Valid && strike.Decimal.IsPositive() {
			frag.Strike = strike.Decimal
		}
		if side := sideFromCode(row.TypeHint); side != "" && side != frag.Type {
			return model.Instrument{}, mapped, reject(row, RejectMalformedSymbol,
				&model.MalformedSymbolError{Symbol: brSymbol, Exchange: string(ex), Reason: fmt.Sprintf("type code %s disagrees with symbol side %s", side, frag.Type)})
		}
	}

	canonical, err := symbol.EncodeCanonical(frag)
	if err != nil {
		return model.Instrument{}, mapped, reject(row, RejectMalformedSymbol, err)
	}

	inst := model.Instrument{
		CanonicalSymbol:   canonical,
		BrokerSymbol:      brSymbol,
		DisplayName:       displayName(row, frag),
		CanonicalExchange: ex,
		BrokerExchange:    strings.TrimSpace(row.BrokerExchange),
		Token:             token,
		InstrumentType:    frag.Type,
		LotSize:           lot,
		TickSize:          tick,
	}
	if frag.Type.IsDerivative() {
		d := frag.Expiry
		inst.Expiry = &d
	}
	if frag.Type.IsOption() {
		inst.Strike = decimal.NewNullDecimal(frag.Strike)
	}
	if err := inst.Validate(); err != nil {
		return model.Instrument{}, mapped, reject(row, RejectInvalid, err)
	}
	return inst, mapped, nil
}

// preferIndexSymbol keeps a known index symbol derived from the broker
// symbol, else takes a known one derived from the display name.
func preferIndexSymbol(fromSymbol, fromName string) string {
	if !symbol.IsKnownIndex(fromSymbol) && symbol.IsKnownIndex(fromName) {
		return fromName
	}
	return fromSymbol
}

func displayName(row model.RawRow, f symbol.Fragment) string {
	if n := strings.TrimSpace(row.Name); n != "" {
		return n
	}
	return f.Underlying
}
