package symbol

import (
	"strings"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// indexNames maps broker display names of indices to canonical symbols.
// Keys are upper-cased.
var indexNames = map[string]string{
	"NIFTY 50":          "NIFTY",
	"NIFTY":             "NIFTY",
	"NIFTY BANK":        "BANKNIFTY",
	"NIFTY FIN SERVICE": "FINNIFTY",
	"NIFTY MID SELECT":  "MIDCPNIFTY",
	"NIFTY NEXT 50":     "NIFTYNXT50",
	"INDIA VIX":         "INDIAVIX",
	"SENSEX":            "SENSEX",
	"BANKEX":            "BANKEX",
	"SENSEX 50":         "SENSEX50",
}

// indexDisplay is the preferred broker display name per canonical index.
var indexDisplay = map[string]string{
	"NIFTY":      "Nifty 50",
	"BANKNIFTY":  "Nifty Bank",
	"FINNIFTY":   "Nifty Fin Service",
	"MIDCPNIFTY": "NIFTY MID SELECT",
	"NIFTYNXT50": "Nifty Next 50",
	"INDIAVIX":   "India VIX",
	"SENSEX":     "SENSEX",
	"BANKEX":     "BANKEX",
	"SENSEX50":   "SENSEX 50",
}

// IndexSymbol normalises an index name to its canonical symbol. Unknown
// names are upper-cased with whitespace removed.
func IndexSymbol(name string) string {
	key := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	if s, ok := indexNames[key]; ok {
		return s
	}
	return strings.ReplaceAll(key, " ", "")
}

// IndexDisplayName is the inverse of IndexSymbol for known indices.
func IndexDisplayName(symbol string) string {
	if n, ok := indexDisplay[symbol]; ok {
		return n
	}
	return symbol
}

// IsKnownIndex reports whether symbol is in the index table.
func IsKnownIndex(symbol string) bool {
	_, ok := indexDisplay[symbol]
	return ok
}

// equitySeries are the NSE series suffixes brokers append to cash symbols.
var equitySeries = []string{"EQ", "BE", "BZ", "SM", "ST", "BL", "IL"}

// StripSeries splits RELIANCE-EQ into RELIANCE and EQ.
func StripSeries(s string) (symbol, series string) {
	s = strings.ToUpper(strings.TrimSpace(s))
	i := strings.LastIndexByte(s, '-')
	if i <= 0 {
		return s, ""
	}
	suffix := s[i+1:]
	for _, ser := range equitySeries {
		if suffix == ser {
			return s[:i], ser
		}
	}
	return s, ""
}

// plainPassthrough upper-cases equities and normalises index names.
func plainPassthrough(s string, ex model.Exchange, hint Hint) Fragment {
	if hint == HintIndex || ex.IsIndex() {
		return Fragment{Underlying: IndexSymbol(s), Type: model.TypeIndex}
	}
	return Fragment{Underlying: strings.ToUpper(s), Type: model.TypeEquity}
}

// seriesPassthrough also strips the equity series suffix.
func seriesPassthrough(s string, ex model.Exchange, hint Hint) Fragment {
	if hint == HintIndex || ex.IsIndex() {
		return Fragment{Underlying: IndexSymbol(s), Type: model.TypeIndex}
	}
	sym, series := StripSeries(s)
	return Fragment{Underlying: sym, Type: model.TypeEquity, Series: series}
}
