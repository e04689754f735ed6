package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Market hours in IST
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// NSE moved index derivative expiries from Thursday to Tuesday starting with
// the September 2025 series.
var tuesdayExpiryFrom = time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(ist)
}

// ExpiryWeekday returns the weekday monthly contracts expire on for the
// given contract month.
func ExpiryWeekday(year int, month time.Month) time.Weekday {
	if !time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Before(tuesdayExpiryFrom) {
		return time.Tuesday
	}
	return time.Thursday
}

// MonthlyExpiry returns the expiry date of the monthly contract for the given
// month as a UTC calendar date: the last expiry weekday of the month, moved
// back to the previous trading day when it falls on a holiday.
func MonthlyExpiry(year int, month time.Month) time.Time {
	wd := ExpiryWeekday(year, month)
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
	for last.Weekday() != wd {
		last = last.AddDate(0, 0, -1)
	}
	for i := 0; i < 7 && !isTradingDate(last); i++ {
		last = last.AddDate(0, 0, -1)
	}
	return last
}

// isTradingDate checks a UTC calendar date without shifting it into IST.
func isTradingDate(d time.Time) bool {
	return IsTradingDay(time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, IST))
}

// NextOpen returns the next market open time (9:15 AM IST on next trading day).
// If t is before today's open on a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	return NextAt(t, OpenHour, OpenMinute)
}

// NextAt returns the next hh:mm IST on a trading day strictly after t.
func NextAt(t time.Time, hour, minute int) time.Time {
	ist := t.In(IST)

	today := time.Date(ist.Year(), ist.Month(), ist.Day(), hour, minute, 0, 0, IST)
	if ist.Before(today) && IsTradingDay(ist) {
		return today
	}

	d := today.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ { // holidays + weekends
		if IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return today.AddDate(0, 0, 1)
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return "Market Open"
	}
	next := NextOpen(t).In(IST)
	return fmt.Sprintf("Market Closed (opens %s %s)", next.Weekday().String()[:3], next.Format("15:04"))
}
