package symbol

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marketcalls/openalgo-sub002/internal/markethours"
	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// Strategy is one broker's symbol dialect.
type Strategy interface {
	Name() string

	// Decode parses a broker symbol. Equity and index strings never fail.
	// Errors are *model.MalformedSymbolError.
	Decode(brokerSymbol string, exchange model.Exchange, hint Hint) (Fragment, error)

	// Encode renders f in the broker's dialect.
	Encode(f Fragment, exchange model.Exchange) (string, error)
}

// ToCanonical decodes brokerSymbol with s and encodes the canonical symbol.
func ToCanonical(s Strategy, brokerSymbol string, exchange model.Exchange, hint Hint) (string, Fragment, error) {
	f, err := s.Decode(brokerSymbol, exchange, hint)
	if err != nil {
		return "", Fragment{}, err
	}
	c, err := EncodeCanonical(f)
	if err != nil {
		return "", Fragment{}, err
	}
	return c, f, nil
}

var strategies = map[string]Strategy{}

func register(s Strategy) Strategy {
	strategies[s.Name()] = s
	return s
}

var (
	Canonical Strategy = register(canonicalStrategy{})
	Compact   Strategy = register(compactStrategy{})
	Spaced    Strategy = register(spacedStrategy{})
	Numeric   Strategy = register(numericStrategy{})
)

// StrategyFor returns the strategy registered under name.
func StrategyFor(name string) (Strategy, error) {
	s, ok := strategies[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown symbol strategy %q (have %s)", name, strings.Join(StrategyNames(), ", "))
	}
	return s, nil
}

// StrategyNames lists registered strategies in sorted order.
func StrategyNames() []string {
	names := make([]string, 0, len(strategies))
	for n := range strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func malformed(f Fragment, ex model.Exchange, err error) error {
	return &model.MalformedSymbolError{Symbol: f.Underlying, Exchange: string(ex), Reason: err.Error()}
}

// ── canonical ──

// canonicalStrategy reads and writes the canonical form itself.
type canonicalStrategy struct{}

var canonicalPatterns = []pattern{compactOption, compactFuture}

func (canonicalStrategy) Name() string { return "canonical" }

func (canonicalStrategy) Decode(s string, ex model.Exchange, hint Hint) (Fragment, error) {
	return decode(canonicalPatterns, s, ex, hint, plainPassthrough)
}

func (canonicalStrategy) Encode(f Fragment, ex model.Exchange) (string, error) {
	return EncodeCanonical(f)
}

// ── compact (Angel One) ──

// compactStrategy: derivatives use the canonical layout, NSE cash symbols
// carry a series suffix (RELIANCE-EQ) and indices use display names.
type compactStrategy struct{}

func (compactStrategy) Name() string { return "compact" }

func (compactStrategy) Decode(s string, ex model.Exchange, hint Hint) (Fragment, error) {
	return decode(canonicalPatterns, s, ex, hint, seriesPassthrough)
}

func (compactStrategy) Encode(f Fragment, ex model.Exchange) (string, error) {
	if err := f.validate(); err != nil {
		return "", malformed(f, ex, err)
	}
	switch f.Type {
	case model.TypeIndex:
		return IndexDisplayName(f.Underlying), nil
	case model.TypeEquity:
		switch {
		case f.Series != "":
			return f.Underlying + "-" + f.Series, nil
		case ex == model.NSE:
			return f.Underlying + "-EQ", nil
		}
		return f.Underlying, nil
	}
	return EncodeCanonical(f)
}

// ── spaced ──

// spacedStrategy separates components with spaces: NIFTY 29MAY25 FUT,
// AARTIIND 29MAY25 630 CE. It also reads the dash-separated month contracts
// of the same feeds (NIFTY-May2025-24500-CE) but always writes spaces.
type spacedStrategy struct{}

var spacedPatterns = []pattern{spacedOption, dashedOption, spacedFuture, dashedFuture}

func (spacedStrategy) Name() string { return "spaced" }

func (spacedStrategy) Decode(s string, ex model.Exchange, hint Hint) (Fragment, error) {
	return decode(spacedPatterns, s, ex, hint, plainPassthrough)
}

func (spacedStrategy) Encode(f Fragment, ex model.Exchange) (string, error) {
	if err := f.validate(); err != nil {
		return "", malformed(f, ex, err)
	}
	switch f.Type {
	case model.TypeFuture:
		return f.Underlying + " " + dateDDMMMYY(f.Expiry) + " FUT", nil
	case model.TypeCall, model.TypePut:
		return f.Underlying + " " + dateDDMMMYY(f.Expiry) + " " + FormatStrike(f.Strike) + " " + string(f.Type), nil
	}
	return f.Underlying, nil
}

// ── numeric ──

// numericStrategy uses year-first tokens. Monthly contracts carry a 3-letter
// month and no day (NIFTY25MAYFUT, NIFTY25MAY24500CE) or, for futures, a
// single-character month with a series marker (NIFTY2551FUT). Weekly options
// carry YY, a single-character month and DD (NIFTY2552924500CE).
type numericStrategy struct{}

var numericPatterns = []pattern{yymmmOption, weeklyOption, yymmmFuture, seriesFuture}

func (numericStrategy) Name() string { return "numeric" }

func (numericStrategy) Decode(s string, ex model.Exchange, hint Hint) (Fragment, error) {
	return decode(numericPatterns, s, ex, hint, plainPassthrough)
}

func (numericStrategy) Encode(f Fragment, ex model.Exchange) (string, error) {
	if err := f.validate(); err != nil {
		return "", malformed(f, ex, err)
	}
	if !f.Type.IsDerivative() {
		return f.Underlying, nil
	}
	yy := fmt.Sprintf("%02d", f.Expiry.Year()%100)
	monthly := f.Expiry.Equal(markethours.MonthlyExpiry(f.Expiry.Year(), f.Expiry.Month()))
	mmm := monthAbbr[f.Expiry.Month()-1]

	if f.Type == model.TypeFuture {
		if !monthly {
			return "", malformed(f, ex, fmt.Errorf("future expiry %s is not a monthly expiry", f.Expiry.Format("2006-01-02")))
		}
		return f.Underlying + yy + mmm + "FUT", nil
	}
	if monthly {
		return f.Underlying + yy + mmm + FormatStrike(f.Strike) + string(f.Type), nil
	}
	return fmt.Sprintf("%s%s%s%02d%s%s", f.Underlying, yy, numericMonthChar(f.Expiry.Month()), f.Expiry.Day(), FormatStrike(f.Strike), f.Type), nil
}
