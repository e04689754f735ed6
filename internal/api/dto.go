package api

import "github.com/marketcalls/openalgo-sub002/internal/model"

// ErrorOut is the body of every non-2xx response.
type ErrorOut struct {
	Error string `json:"error"`
}

// TokenOut is the response type for /api/v1/token.
type TokenOut struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Token    string `json:"token"`
}

// SymbolOut is the response type for /api/v1/symbol, /api/v1/broker-symbol
// and /api/v1/canonical.
type SymbolOut struct {
	Symbol       string `json:"symbol,omitempty"`
	BrokerSymbol string `json:"brsymbol,omitempty"`
	Token        string `json:"token,omitempty"`
	Exchange     string `json:"exchange"`
}

// BulkIn is the request body for POST /api/v1/tokens.
type BulkIn struct {
	Symbols []BulkKey `json:"symbols"`
}

// BulkKey is one (symbol, exchange) pair in a bulk request.
type BulkKey struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// BulkOut answers POST /api/v1/tokens. Missing keys are listed, not failed.
type BulkOut struct {
	Tokens  []TokenOut `json:"tokens"`
	Missing []BulkKey  `json:"missing"`
}

// SearchOut is the response type for /api/v1/search.
type SearchOut struct {
	Count   int                `json:"count"`
	Results []model.Instrument `json:"results"`
}
