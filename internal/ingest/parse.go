package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	defaultLotSize  = 1
	defaultTickSize = decimal.RequireFromString("0.05")
)

// expiryLayouts lists the date formats brokers publish in contract feeds.
var expiryLayouts = []string{
	"02Jan2006",
	"02Jan06",
	"2006-01-02",
	"02-01-2006",
	"02-Jan-2006",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseExpiry parses a feed expiry into a UTC calendar date.
// An empty string means no expiry.
func ParseExpiry(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	// month abbreviations arrive upper-cased (29MAY2025); time.Parse wants "May"
	v := titleMonth(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d, nil
		}
	}
	return nil, fmt.Errorf("unrecognised expiry %q", s)
}

func titleMonth(s string) string {
	b := []byte(strings.ToLower(s))
	upNext := true
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			if upNext {
				b[i] = c - 32
			}
			upNext = false
		} else {
			upNext = true
		}
	}
	return string(b)
}

// ParseStrike parses an optional strike. Empty means absent.
func ParseStrike(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("strike %q: %w", s, err)
	}
	return decimal.NewNullDecimal(d), nil
}

// ParseLotSize parses a lot size, defaulting to 1. Feeds sometimes publish
// integral values with a decimal point ("75.0").
func ParseLotSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultLotSize, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("lot size %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("lot size %q is not an integer", s)
	}
	n := int(d.IntPart())
	if n < 1 {
		return 0, fmt.Errorf("lot size %d < 1", n)
	}
	return n, nil
}

// ParseTickSize parses a tick size, defaulting to 0.05.
func ParseTickSize(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultTickSize, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("tick size %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("tick size %s must be > 0", d)
	}
	return d, nil
}
