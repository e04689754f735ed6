package model

// RawRow is one contract as delivered by a broker feed, before normalization.
// All values are kept as the feed published them; parsing happens at ingestion
// so that malformed fields turn into per-row rejections.
type RawRow struct {
	Broker         string `json:"broker" csv:"broker"`
	BrokerExchange string `json:"brexchange" csv:"brexchange"`
	Segment        string `json:"segment" csv:"segment"` // optional qualifier for the exchange map (FNO, IDX, ...)
	BrokerSymbol   string `json:"brsymbol" csv:"brsymbol"`
	Token          string `json:"token" csv:"token"`
	Name           string `json:"name" csv:"name"`
	Expiry         string `json:"expiry" csv:"expiry"`
	Strike         string `json:"strike" csv:"strike"`
	LotSize        string `json:"lotsize" csv:"lotsize"`
	TickSize       string `json:"tick_size" csv:"tick_size"`
	TypeHint       string `json:"instrumenttype" csv:"instrumenttype"`
}

// Rejection pairs a raw row with the reason it was not ingested.
// Code is a short stable label (negative_strike, malformed_symbol, ...).
type Rejection struct {
	Row    RawRow `json:"row"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}
