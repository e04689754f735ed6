package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/pkg/smartconnect"
)

// CSVSource reads a contract file whose header names the raw row columns.
// Location is a file path or an http(s) URL.
type CSVSource struct {
	SourceName string
	Broker     string
	Location   string
	Client     *http.Client
}

func (s *CSVSource) Name() string { return s.SourceName }

func (s *CSVSource) Fetch(ctx context.Context) ([]model.RawRow, error) {
	rc, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	rows, err := ReadCSV(rc, s.Broker)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Location, err)
	}
	log.Printf("[feed] %s: %d rows from %s", s.SourceName, len(rows), s.Location)
	return rows, nil
}

func (s *CSVSource) open(ctx context.Context) (io.ReadCloser, error) {
	if !strings.HasPrefix(s.Location, "http://") && !strings.HasPrefix(s.Location, "https://") {
		// #nosec G304 -- path comes from the broker catalogue.
		f, err := os.Open(s.Location)
		if err != nil {
			return nil, fmt.Errorf("open csv file: %w", err)
		}
		return f, nil
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", s.Location, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &smartconnect.StatusError{URL: s.Location, Code: resp.StatusCode}
	}
	return resp.Body, nil
}

// header aliases seen in broker contract dumps, including both Dhan scrip
// master layouts (EXCH_ID... and SEM_EXM_EXCH_ID...)
var csvColumns = map[string]string{
	"broker":               "broker",
	"brexchange":           "brexchange",
	"exchange":             "brexchange",
	"exch_seg":             "brexchange",
	"exch_id":              "brexchange",
	"sem_exm_exch_id":      "brexchange",
	"segment":              "segment",
	"sem_segment":          "segment",
	"brsymbol":             "brsymbol",
	"symbol":               "brsymbol",
	"tradingsymbol":        "brsymbol",
	"symbol_name":          "brsymbol",
	"sem_trading_symbol":   "brsymbol",
	"token":                "token",
	"instrument_token":     "token",
	"security_id":          "token",
	"sem_smst_security_id": "token",
	"name":                 "name",
	"display_name":         "name",
	"expiry":               "expiry",
	"sm_expiry_date":       "expiry",
	"sem_expiry_date":      "expiry",
	"strike":               "strike",
	"strike_price":         "strike",
	"sem_strike_price":     "strike",
	"lotsize":              "lotsize",
	"lot_size":             "lotsize",
	"sem_lot_units":        "lotsize",
	"tick_size":            "tick_size",
	"ticksize":             "tick_size",
	"sem_tick_size":        "tick_size",
	"instrumenttype":       "instrumenttype",
	"instrument":           "instrumenttype",
	"sem_instrument_name":  "instrumenttype",
	"instrument_type":      "instrumenttype",
	"option_type":          "option_type",
	"sem_option_type":      "option_type",
}

// ReadCSV decodes a header-led CSV into raw rows. Unknown columns are ignored;
// a file without token and symbol columns is an error.
func ReadCSV(r io.Reader, broker string) ([]model.RawRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if field, ok := csvColumns[key]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = i
			}
		}
	}
	if _, ok := cols["token"]; !ok {
		return nil, errors.New("csv header has no token column")
	}
	if _, ok := cols["brsymbol"]; !ok {
		return nil, errors.New("csv header has no symbol column")
	}

	get := func(rec []string, field string) string {
		i, ok := cols[field]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []model.RawRow
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		row := model.RawRow{
			Broker:         get(rec, "broker"),
			BrokerExchange: get(rec, "brexchange"),
			Segment:        get(rec, "segment"),
			BrokerSymbol:   get(rec, "brsymbol"),
			Token:          get(rec, "token"),
			Name:           get(rec, "name"),
			Expiry:         get(rec, "expiry"),
			Strike:         get(rec, "strike"),
			LotSize:        get(rec, "lotsize"),
			TickSize:       get(rec, "tick_size"),
			TypeHint:       get(rec, "instrumenttype"),
		}
		switch side := strings.ToUpper(get(rec, "option_type")); side {
		case "CE", "PE":
			row.TypeHint = side
		case "":
		default:
			// non-option rows (XX) carry a negative placeholder strike
			if strings.HasPrefix(row.Strike, "-") {
				row.Strike = ""
			}
		}
		if row.Broker == "" {
			row.Broker = broker
		}
		rows = append(rows, row)
	}
	return rows, nil
}
