package ingest

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/internal/symbol"
)

// Classify picks the decode hint for a row. A recognised broker type code
// wins; otherwise the type is inferred: strike > 0 means option, an expiry
// alone means future, neither means equity or index depending on exchange.
func Classify(code string, strike decimal.NullDecimal, expiry *time.Time, ex model.Exchange) symbol.Hint {
	if h, ok := explicitHint(code); ok {
		return h
	}
	switch {
	case strike.Valid && strike.Decimal.IsPositive():
		return symbol.HintOption
	case expiry != nil:
		return symbol.HintFuture
	case ex.IsIndex():
		return symbol.HintIndex
	}
	return symbol.HintEquity
}

func explicitHint(code string) (symbol.Hint, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	switch c {
	case "":
		return symbol.HintNone, false
	case "EQ", "EQUITY", "STOCK", "ETF":
		return symbol.HintEquity, true
	case "INDEX", "IDX", "AMXIDX", "INDICES":
		return symbol.HintIndex, true
	case "FUT", "CE", "PE":
		return symbol.HintFor(model.InstrumentType(c)), true
	}
	if strings.HasPrefix(c, "FUT") {
		return symbol.HintFuture, true // FUTIDX, FUTSTK, FUTCOM, FUTCUR, FUTIRC
	}
	if strings.HasPrefix(c, "OPT") {
		return symbol.HintOption, true // OPTIDX, OPTSTK, OPTCUR, OPTCOM, OPTFUT
	}
	return symbol.HintNone, false
}

// sideFromCode returns CE/PE when the broker type code states it directly.
func sideFromCode(code string) model.InstrumentType {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "CE", "CALL":
		return model.TypeCall
	case "PE", "PUT":
		return model.TypePut
	}
	return ""
}
