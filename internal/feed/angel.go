package feed

import (
	"context"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/pkg/smartconnect"
)

// Angel publishes prices in paise.
var paise = decimal.New(1, -2)

// angelNoStrike marks contracts without a strike in the scrip master.
var angelNoStrike = decimal.NewFromInt(-1)

// ScripClient is the part of the SmartAPI client the Angel source needs.
type ScripClient interface {
	ScripMaster(ctx context.Context) ([]smartconnect.Scrip, error)
}

// AngelSource downloads Angel One's scrip master.
type AngelSource struct {
	Client ScripClient
}

// NewAngelSource returns a source backed by a SmartAPI client for url.
// An empty url uses the public scrip master location.
func NewAngelSource(url string, cfg smartconnect.Config) *AngelSource {
	cfg.ScripMasterURL = url
	return &AngelSource{Client: smartconnect.NewSmartConnect(cfg)}
}

func (s *AngelSource) Name() string { return "angel-scrip-master" }

func (s *AngelSource) Fetch(ctx context.Context) ([]model.RawRow, error) {
	scrips, err := s.Client.ScripMaster(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]model.RawRow, len(scrips))
	for i := range scrips {
		rows[i] = AngelRow(scrips[i])
	}
	log.Printf("[feed] angel: %d scrips", len(rows))
	return rows, nil
}

// AngelRow converts a scrip record to a raw row, scaling paise to rupees and
// dropping the no-strike sentinel. Values that do not parse are passed through
// so that ingestion rejects the row with a reason.
func AngelRow(s smartconnect.Scrip) model.RawRow {
	return model.RawRow{
		Broker:         "angel",
		BrokerExchange: strings.TrimSpace(s.ExchSeg),
		BrokerSymbol:   strings.TrimSpace(s.Symbol),
		Token:          strings.TrimSpace(s.Token),
		Name:           strings.TrimSpace(s.Name),
		Expiry:         strings.TrimSpace(s.Expiry),
		Strike:         angelStrike(s.Strike),
		LotSize:        trimDecimalZeros(s.LotSize),
		TickSize:       fromPaise(s.TickSize),
		TypeHint:       strings.TrimSpace(s.InstrumentType),
	}
}

func angelStrike(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	if d.Equal(angelNoStrike) || d.IsZero() {
		return ""
	}
	return d.Mul(paise).String()
}

func fromPaise(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	if !d.IsPositive() {
		// indices publish no tick size
		return ""
	}
	return d.Mul(paise).String()
}

// lot sizes sometimes arrive as "75.0"
func trimDecimalZeros(raw string) string {
	raw = strings.TrimSpace(raw)
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsInteger() {
		return raw
	}
	return d.String()
}
