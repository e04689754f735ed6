package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a normal lookup miss. Callers must not treat it as a failure.
	ErrNotFound = errors.New("instrument not found")

	ErrMalformedSymbol   = errors.New("malformed symbol")
	ErrDuplicateToken    = errors.New("duplicate token")
	ErrDuplicateSymbol   = errors.New("duplicate symbol")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrRefreshAborted    = errors.New("refresh aborted")
	ErrRefreshInProgress = errors.New("refresh already in progress")
	ErrUnknownBroker     = errors.New("unknown broker")
)

// MalformedSymbolError carries the string the codec could not handle.
type MalformedSymbolError struct {
	Symbol   string
	Exchange string
	Reason   string
}

func (e *MalformedSymbolError) Error() string {
	return fmt.Sprintf("malformed symbol %q on %s: %s", e.Symbol, e.Exchange, e.Reason)
}

func (e *MalformedSymbolError) Unwrap() error { return ErrMalformedSymbol }

// DuplicateError reports a record dropped because an earlier one had the same key.
type DuplicateError struct {
	Key   string
	Kept  Instrument
	Extra Instrument
	Kind  error // ErrDuplicateToken or ErrDuplicateSymbol
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%v %s: kept %q, dropped %q", e.Kind, e.Key, e.Kept.BrokerSymbol, e.Extra.BrokerSymbol)
}

func (e *DuplicateError) Unwrap() error { return e.Kind }

// SourceError wraps the failure of a single feed source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }

// AbortError is returned when a refresh is stopped before the store is touched.
type AbortError struct {
	Total     int
	Rejected  int
	Threshold float64
	Reason    string
}

func (e *AbortError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("refresh aborted: %s", e.Reason)
	}
	return fmt.Sprintf("refresh aborted: %d of %d rows rejected (threshold %.2f)", e.Rejected, e.Total, e.Threshold)
}

func (e *AbortError) Unwrap() error { return ErrRefreshAborted }
