// Package symbol converts between canonical instrument symbols and the
// broker-specific strings each broker publishes and accepts.
//
// Canonical form:
//
//	RELIANCE                 equity
//	NIFTY                    index
//	NIFTY29MAY25FUT          future   {underlying}{DD}{MMM}{YY}FUT
//	NIFTY29MAY2524500CE      option   {underlying}{DD}{MMM}{YY}{strike}{CE|PE}
//
// Every function here is pure: no I/O, no caches.
package symbol

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// Hint narrows which patterns a decoder tries.
type Hint int

const (
	HintNone Hint = iota
	HintEquity
	HintIndex
	HintFuture
	HintOption
)

func (h Hint) String() string {
	switch h {
	case HintEquity:
		return "equity"
	case HintIndex:
		return "index"
	case HintFuture:
		return "future"
	case HintOption:
		return "option"
	}
	return "none"
}

// HintFor maps an instrument type to the matching decode hint.
func HintFor(t model.InstrumentType) Hint {
	switch t {
	case model.TypeEquity:
		return HintEquity
	case model.TypeIndex:
		return HintIndex
	case model.TypeFuture:
		return HintFuture
	case model.TypeCall, model.TypePut:
		return HintOption
	}
	return HintNone
}

// Fragment is the decoded content of a symbol string.
// Expiry is a UTC calendar date and is zero for equities and indices.
type Fragment struct {
	Underlying string
	Expiry     time.Time
	Strike     decimal.Decimal
	Type       model.InstrumentType
	Series     string // equity series published by the broker (EQ, BE, ...); not part of the canonical symbol
}

// Equal compares two fragments field by field, treating decimals and dates by value.
func (f Fragment) Equal(o Fragment) bool {
	return f.Underlying == o.Underlying &&
		f.Type == o.Type &&
		f.Series == o.Series &&
		f.Expiry.Equal(o.Expiry) &&
		f.Strike.Equal(o.Strike)
}

func (f Fragment) String() string {
	s, err := EncodeCanonical(f)
	if err != nil {
		return fmt.Sprintf("Fragment{%s %s invalid}", f.Underlying, f.Type)
	}
	return s
}

func (f Fragment) validate() error {
	if f.Underlying == "" {
		return fmt.Errorf("empty underlying")
	}
	switch f.Type {
	case model.TypeEquity, model.TypeIndex:
		return nil
	case model.TypeFuture:
		if f.Expiry.IsZero() {
			return fmt.Errorf("future without expiry")
		}
	case model.TypeCall, model.TypePut:
		if f.Expiry.IsZero() {
			return fmt.Errorf("option without expiry")
		}
		if !f.Strike.IsPositive() {
			return fmt.Errorf("option strike %s must be > 0", f.Strike)
		}
	default:
		return fmt.Errorf("unknown instrument type %q", f.Type)
	}
	return nil
}

// EncodeCanonical builds the canonical symbol for f.
func EncodeCanonical(f Fragment) (string, error) {
	if err := f.validate(); err != nil {
		return "", &model.MalformedSymbolError{Symbol: f.Underlying, Reason: err.Error()}
	}
	switch f.Type {
	case model.TypeFuture:
		return f.Underlying + dateDDMMMYY(f.Expiry) + "FUT", nil
	case model.TypeCall, model.TypePut:
		return f.Underlying + dateDDMMMYY(f.Expiry) + FormatStrike(f.Strike) + string(f.Type), nil
	}
	return f.Underlying, nil
}

// FormatStrike renders a strike without trailing zeros: 24500, 83.25.
func FormatStrike(d decimal.Decimal) string {
	return d.String()
}

var monthAbbr = [...]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

// monthAlternation is the regexp alternation over monthAbbr.
var monthAlternation = strings.Join(monthAbbr[:], "|")

func parseMonthAbbr(s string) (time.Month, bool) {
	s = strings.ToUpper(s)
	for i, m := range monthAbbr {
		if m == s {
			return time.Month(i + 1), true
		}
	}
	return 0, false
}

// dateDDMMMYY formats 2025-05-29 as 29MAY25.
func dateDDMMMYY(t time.Time) string {
	return fmt.Sprintf("%02d%s%02d", t.Day(), monthAbbr[t.Month()-1], t.Year()%100)
}

// makeDate builds a UTC date and rejects values time.Date would normalise.
func makeDate(year int, month time.Month, day int) (time.Time, error) {
	if month < time.January || month > time.December {
		return time.Time{}, fmt.Errorf("month %d out of range", int(month))
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || d.Month() != month {
		return time.Time{}, fmt.Errorf("day %d invalid for %s %d", day, month, year)
	}
	return d, nil
}
