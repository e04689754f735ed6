package symbol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketcalls/openalgo-sub002/internal/markethours"
	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// pattern is one broker string layout. parse runs only after re matched, so
// any error it returns means the string had the right shape but bad content.
type pattern struct {
	name   string
	future bool
	re     *regexp.Regexp
	parse  func(m []string) (Fragment, error)
}

const strikeExpr = `(\d+(?:\.\d+)?)`

var (
	// NIFTY29MAY2524500CE
	compactOption = pattern{
		name: "DDMMMYY option",
		re:   regexp.MustCompile(`^(.+?)(\d{2})(` + monthAlternation + `)(\d{2})` + strikeExpr + `(CE|PE)$`),
		parse: func(m []string) (Fragment, error) {
			exp, err := dateFromParts(m[2], m[3], m[4])
			if err != nil {
				return Fragment{}, err
			}
			return option(m[1], exp, m[5], m[6])
		},
	}

	// NIFTY29MAY25FUT
	compactFuture = pattern{
		name:   "DDMMMYY future",
		future: true,
		re:     regexp.MustCompile(`^(.+?)(\d{2})(` + monthAlternation + `)(\d{2})FUT$`),
		parse: func(m []string) (Fragment, error) {
			exp, err := dateFromParts(m[2], m[3], m[4])
			if err != nil {
				return Fragment{}, err
			}
			return future(m[1], exp), nil
		},
	}

	// AARTIIND 29MAY25 630 CE, AARTIIND 290525 630 CE
	spacedOption = pattern{
		name: "spaced option",
		re:   regexp.MustCompile(`^(\S+)\s+(\d{2}[A-Z]{3}\d{2}|\d{6})\s+` + strikeExpr + `\s+(CE|PE)$`),
		parse: func(m []string) (Fragment, error) {
			exp, err := parseDateToken(m[2])
			if err != nil {
				return Fragment{}, err
			}
			return option(m[1], exp, m[3], m[4])
		},
	}

	// NIFTY 29MAY25 FUT
	spacedFuture = pattern{
		name:   "spaced future",
		future: true,
		re:     regexp.MustCompile(`^(\S+)\s+(\d{2}[A-Z]{3}\d{2}|\d{6})\s+FUT$`),
		parse: func(m []string) (Fragment, error) {
			exp, err := parseDateToken(m[2])
			if err != nil {
				return Fragment{}, err
			}
			return future(m[1], exp), nil
		},
	}

	// NIFTY25MAY24500CE: monthly option, day is the monthly expiry.
	yymmmOption = pattern{
		name: "YYMMM option",
		re:   regexp.MustCompile(`^(.+?)(\d{2})(` + monthAlternation + `)` + strikeExpr + `(CE|PE)$`),
		parse: func(m []string) (Fragment, error) {
			month, _ := parseMonthAbbr(m[3])
			return option(m[1], monthlyExpiry(m[2], month), m[4], m[5])
		},
	}

	// NIFTY2552924500CE: weekly option, single-character month.
	weeklyOption = pattern{
		name: "YYMDD option",
		re:   regexp.MustCompile(`^(.+?)(\d{2})([0-9OND])(\d{2})` + strikeExpr + `(CE|PE)$`),
		parse: func(m []string) (Fragment, error) {
			month, err := numericMonth(m[3])
			if err != nil {
				return Fragment{}, err
			}
			day, _ := strconv.Atoi(m[4])
			exp, err := makeDate(2000+atoi(m[2]), month, day)
			if err != nil {
				return Fragment{}, err
			}
			return option(m[1], exp, m[5], m[6])
		},
	}

	// NIFTY-May2025-24500-CE: month and year only, the day is the monthly
	// expiry until the feed's own expiry replaces it.
	dashedOption = pattern{
		name: "dashed option",
		re:   regexp.MustCompile(`^(.+?)-(` + monthAlternation + `)(\d{4})-` + strikeExpr + `-(CE|PE)$`),
		parse: func(m []string) (Fragment, error) {
			month, _ := parseMonthAbbr(m[2])
			return option(m[1], markethours.MonthlyExpiry(atoi(m[3]), month), m[4], m[5])
		},
	}

	// NIFTY-May2025-FUT
	dashedFuture = pattern{
		name:   "dashed future",
		future: true,
		re:     regexp.MustCompile(`^(.+?)-(` + monthAlternation + `)(\d{4})-FUT$`),
		parse: func(m []string) (Fragment, error) {
			month, _ := parseMonthAbbr(m[2])
			return future(m[1], markethours.MonthlyExpiry(atoi(m[3]), month)), nil
		},
	}

	// NIFTY25MAYFUT
	yymmmFuture = pattern{
		name:   "YYMMM future",
		future: true,
		re:     regexp.MustCompile(`^(.+?)(\d{2})(` + monthAlternation + `)FUT$`),
		parse: func(m []string) (Fragment, error) {
			month, _ := parseMonthAbbr(m[3])
			return future(m[1], monthlyExpiry(m[2], month)), nil
		},
	}

	// NIFTY2551FUT: YY, single-character month, series marker 1 (monthly).
	seriesFuture = pattern{
		name:   "YYM series future",
		future: true,
		re:     regexp.MustCompile(`^(.+?)(\d{2})([0-9OND])1FUT$`),
		parse: func(m []string) (Fragment, error) {
			month, err := numericMonth(m[3])
			if err != nil {
				return Fragment{}, err
			}
			return future(m[1], monthlyExpiry(m[2], month)), nil
		},
	}
)

func option(underlying string, expiry time.Time, strike, side string) (Fragment, error) {
	k, err := decimal.NewFromString(strike)
	if err != nil {
		return Fragment{}, fmt.Errorf("strike %q: %w", strike, err)
	}
	if !k.IsPositive() {
		return Fragment{}, fmt.Errorf("strike %s must be > 0", k)
	}
	return Fragment{
		Underlying: underlying,
		Expiry:     expiry,
		Strike:     k,
		Type:       model.InstrumentType(side),
	}, nil
}

func future(underlying string, expiry time.Time) Fragment {
	return Fragment{Underlying: underlying, Expiry: expiry, Type: model.TypeFuture}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func monthlyExpiry(yy string, month time.Month) time.Time {
	return markethours.MonthlyExpiry(2000+atoi(yy), month)
}

// numericMonth decodes the single-character month used in weekly contracts:
// 1-9 for January to September, O, N, D for October to December.
func numericMonth(c string) (time.Month, error) {
	switch c {
	case "O":
		return time.October, nil
	case "N":
		return time.November, nil
	case "D":
		return time.December, nil
	}
	n, err := strconv.Atoi(c)
	if err != nil || n < 1 || n > 9 {
		return 0, fmt.Errorf("month %q out of range", c)
	}
	return time.Month(n), nil
}

func numericMonthChar(m time.Month) string {
	switch m {
	case time.October:
		return "O"
	case time.November:
		return "N"
	case time.December:
		return "D"
	}
	return strconv.Itoa(int(m))
}

func dateFromParts(dd, mmm, yy string) (time.Time, error) {
	month, ok := parseMonthAbbr(mmm)
	if !ok {
		return time.Time{}, fmt.Errorf("unknown month %q", mmm)
	}
	return makeDate(2000+atoi(yy), month, atoi(dd))
}

// parseDateToken accepts DDMMMYY (29MAY25) and numeric DDMMYY (290525).
func parseDateToken(tok string) (time.Time, error) {
	if len(tok) == 7 {
		return dateFromParts(tok[0:2], tok[2:5], tok[5:7])
	}
	if len(tok) == 6 {
		mm := atoi(tok[2:4])
		if mm < 1 || mm > 12 {
			return time.Time{}, fmt.Errorf("month %02d out of range", mm)
		}
		return makeDate(2000+atoi(tok[4:6]), time.Month(mm), atoi(tok[0:2]))
	}
	return time.Time{}, fmt.Errorf("unrecognised date token %q", tok)
}

// decode runs patterns in the fixed order options, futures, opaque equity.
// An explicit derivative hint disables the equity fallback. Equity and index
// hints, and any string on a cash or index segment without a hint, pass
// straight through passthrough.
func decode(patterns []pattern, s string, ex model.Exchange, hint Hint, passthrough func(string, model.Exchange, Hint) Fragment) (Fragment, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Fragment{}, &model.MalformedSymbolError{Symbol: s, Exchange: string(ex), Reason: "empty symbol"}
	}
	if hint == HintEquity || hint == HintIndex || (hint == HintNone && !ex.IsDerivative()) {
		return passthrough(trimmed, ex, hint), nil
	}

	upper := strings.ToUpper(trimmed)
	for _, wantFuture := range []bool{false, true} {
		if (hint == HintOption && wantFuture) || (hint == HintFuture && !wantFuture) {
			continue
		}
		for _, p := range patterns {
			if p.future != wantFuture {
				continue
			}
			m := p.re.FindStringSubmatch(upper)
			if m == nil {
				continue
			}
			f, err := p.parse(m)
			if err != nil {
				return Fragment{}, &model.MalformedSymbolError{Symbol: s, Exchange: string(ex), Reason: p.name + ": " + err.Error()}
			}
			return f, nil
		}
	}

	if hint == HintNone {
		return passthrough(trimmed, ex, hint), nil
	}
	return Fragment{}, &model.MalformedSymbolError{Symbol: s, Exchange: string(ex), Reason: "no " + hint.String() + " pattern matched"}
}
