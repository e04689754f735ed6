package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/marketcalls/openalgo-sub002/internal/ingest"
	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/internal/symbol"
	"github.com/marketcalls/openalgo-sub002/pkg/smartconnect"
)

const scripMaster = `[
 {"token":"2885","symbol":"RELIANCE-EQ","name":"RELIANCE","expiry":"","strike":"-1.000000","lotsize":"1","instrumenttype":"","exch_seg":"NSE","tick_size":"5.000000"},
 {"token":"99926000","symbol":"Nifty 50","name":"NIFTY","expiry":"","strike":"0.000000","lotsize":"1","instrumenttype":"AMXIDX","exch_seg":"NSE","tick_size":"0.000000"},
 {"token":"57130","symbol":"NIFTY29MAY25FUT","name":"NIFTY","expiry":"29MAY2025","strike":"-1.000000","lotsize":"75","instrumenttype":"FUTIDX","exch_seg":"NFO","tick_size":"10.000000"},
 {"token":"57131","symbol":"NIFTY29MAY2524500CE","name":"NIFTY","expiry":"29MAY2025","strike":"2450000.000000","lotsize":"75","instrumenttype":"OPTIDX","exch_seg":"NFO","tick_size":"5.000000"}
]`

func TestAngelRow(t *testing.T) {
	row := AngelRow(smartconnect.Scrip{
		Token: "57131", Symbol: "NIFTY29MAY2524500CE", Name: "NIFTY", Expiry: "29MAY2025",
		Strike: "2450000.000000", LotSize: "75.0", InstrumentType: "OPTIDX", ExchSeg: "NFO", TickSize: "5.000000",
	})
	if row.Strike != "24500" {
		t.Errorf("strike = %q, want 24500", row.Strike)
	}
	if row.TickSize != "0.05" {
		t.Errorf("tick size = %q, want 0.05", row.TickSize)
	}
	if row.LotSize != "75" {
		t.Errorf("lot size = %q", row.LotSize)
	}

	eq := AngelRow(smartconnect.Scrip{Token: "1", Symbol: "X-EQ", Strike: "-1.000000", ExchSeg: "NSE"})
	if eq.Strike != "" {
		t.Errorf("sentinel strike = %q, want blank", eq.Strike)
	}

	neg := AngelRow(smartconnect.Scrip{Token: "2", Symbol: "Y-EQ", Strike: "-500.000000", ExchSeg: "NSE"})
	if neg.Strike != "-5" {
		t.Errorf("negative strike = %q, want -5 passed through", neg.Strike)
	}
}

func TestAngelSource_EndToEndNormalize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(scripMaster))
	}))
	defer srv.Close()

	src := NewAngelSource(srv.URL, smartconnect.Config{})
	rows, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d", len(rows))
	}

	res := ingest.NewNormalizer("angel", symbol.Compact, nil).Normalize(rows)
	if len(res.Valid) != 4 || len(res.Rejected) != 0 {
		t.Fatalf("valid=%d rejected=%+v", len(res.Valid), res.Rejected)
	}
	if idx := res.Valid[1]; idx.CanonicalSymbol != "NIFTY" || idx.CanonicalExchange != model.NSEIndex {
		t.Errorf("index = %s/%s", idx.CanonicalSymbol, idx.CanonicalExchange)
	}
	if fut := res.Valid[2]; !fut.TickSize.Equal(decimal.RequireFromString("0.1")) || fut.Strike.Valid {
		t.Errorf("future tick=%s strike=%v", fut.TickSize, fut.Strike)
	}
	opt := res.Valid[3]
	if opt.CanonicalSymbol != "NIFTY29MAY2524500CE" || opt.CanonicalExchange != model.NFO {
		t.Errorf("option = %s/%s", opt.CanonicalSymbol, opt.CanonicalExchange)
	}
}

func TestReadCSV(t *testing.T) {
	in := "Exchange,Segment,TradingSymbol,Token,Name,Expiry,Strike,Lot_Size,Tick_Size,Instrument_Type,Extra\n" +
		"NSE,FNO,AARTIIND 29MAY25 630 CE,1,AARTIIND,2025-05-29,630,1000,0.05,OPTSTK,x\n" +
		"NSE,,INFY,4,INFOSYS,,,,,,\n"
	rows, err := ReadCSV(strings.NewReader(in), "dhan")
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	want := model.RawRow{
		Broker: "dhan", BrokerExchange: "NSE", Segment: "FNO", BrokerSymbol: "AARTIIND 29MAY25 630 CE",
		Token: "1", Name: "AARTIIND", Expiry: "2025-05-29", Strike: "630", LotSize: "1000",
		TickSize: "0.05", TypeHint: "OPTSTK",
	}
	if rows[0] != want {
		t.Errorf("row = %+v\nwant %+v", rows[0], want)
	}
	if rows[1].BrokerSymbol != "INFY" || rows[1].Segment != "" {
		t.Errorf("row 1 = %+v", rows[1])
	}
}

const dhanDetailed = "EXCH_ID,SEGMENT,SECURITY_ID,ISIN,INSTRUMENT,UNDERLYING_SECURITY_ID,UNDERLYING_SYMBOL,SYMBOL_NAME,DISPLAY_NAME,INSTRUMENT_TYPE,SERIES,LOT_SIZE,SM_EXPIRY_DATE,STRIKE_PRICE,OPTION_TYPE,TICK_SIZE,EXPIRY_FLAG\n" +
	"NSE,E,2885,INE002A01018,EQUITY,,RELIANCE,RELIANCE,Reliance Industries,ES,EQ,1.0,,-0.01000,XX,0.0500,NA\n" +
	"NSE,I,13,NA,INDEX,,NIFTY,NIFTY,Nifty 50,INDEX,X,1.0,,-0.01000,XX,0.0500,NA\n" +
	"NSE,D,35001,NA,FUTIDX,13,NIFTY,NIFTY-May2025-FUT,NIFTY MAY FUT,FUT,NA,75.0,2025-05-29,-0.01000,XX,0.1000,M\n" +
	"NSE,D,35002,NA,OPTIDX,13,NIFTY,NIFTY-May2025-24500-CE,NIFTY 29 MAY 24500 CALL,OP,NA,75.0,2025-05-29,24500.00000,CE,0.0500,M\n"

func TestReadCSV_DhanScripMaster(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(dhanDetailed), "dhan")
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d", len(rows))
	}
	eq := rows[0]
	if eq.BrokerExchange != "NSE" || eq.Segment != "E" || eq.Token != "2885" || eq.BrokerSymbol != "RELIANCE" {
		t.Errorf("equity row = %+v", eq)
	}
	if eq.Strike != "" || eq.TypeHint != "EQUITY" {
		t.Errorf("equity strike=%q type=%q, want blank strike and EQUITY", eq.Strike, eq.TypeHint)
	}
	if opt := rows[3]; opt.TypeHint != "CE" || opt.Strike != "24500.00000" || opt.Expiry != "2025-05-29" {
		t.Errorf("option row = %+v", opt)
	}

	em := ingest.DefaultExchangeMap()
	em.Set("NSE", "E", model.NSE)
	em.Set("NSE", "I", model.NSEIndex)
	em.Set("NSE", "D", model.NFO)
	res := ingest.NewNormalizer("dhan", symbol.Spaced, em).Normalize(rows)
	if len(res.Valid) != 4 || len(res.Rejected) != 0 {
		t.Fatalf("valid=%d rejected=%+v", len(res.Valid), res.Rejected)
	}
	want := []struct {
		sym string
		ex  model.Exchange
	}{
		{"RELIANCE", model.NSE},
		{"NIFTY", model.NSEIndex},
		{"NIFTY29MAY25FUT", model.NFO},
		{"NIFTY29MAY2524500CE", model.NFO},
	}
	for i, w := range want {
		if got := res.Valid[i]; got.CanonicalSymbol != w.sym || got.CanonicalExchange != w.ex {
			t.Errorf("row %d = %s/%s, want %s/%s", i, got.CanonicalSymbol, got.CanonicalExchange, w.sym, w.ex)
		}
	}
}

func TestReadCSV_MissingColumns(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("name,expiry\nA,\n"), "x"); err == nil {
		t.Fatal("expected error for missing token column")
	}
}

func TestCSVSource_FileAndURL(t *testing.T) {
	body := "exchange,symbol,token\nNSE,SBIN,3045\n"

	dir := t.TempDir()
	path := filepath.Join(dir, "contracts.csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	rows, err := (&CSVSource{SourceName: "file", Broker: "b", Location: path}).Fetch(context.Background())
	if err != nil || len(rows) != 1 || rows[0].Token != "3045" {
		t.Fatalf("file source: rows=%+v err=%v", rows, err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()
	rows, err = (&CSVSource{SourceName: "url", Broker: "b", Location: srv.URL}).Fetch(context.Background())
	if err != nil || len(rows) != 1 || rows[0].BrokerSymbol != "SBIN" {
		t.Fatalf("url source: rows=%+v err=%v", rows, err)
	}
}

func fastBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = time.Second
	return b
}

func TestWithRetry_RecoversFromTransientFailures(t *testing.T) {
	var calls atomic.Int32
	src := &FuncSource{SourceName: "flaky", Fn: func(ctx context.Context) ([]model.RawRow, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection reset")
		}
		return []model.RawRow{{Token: "1"}}, nil
	}}

	rows, err := WithRetry(src, fastBackoff).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 || calls.Load() != 3 {
		t.Errorf("rows=%d calls=%d", len(rows), calls.Load())
	}
}

func TestWithRetry_PermanentStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	src := &FuncSource{SourceName: "gone", Fn: func(ctx context.Context) ([]model.RawRow, error) {
		calls.Add(1)
		return nil, &smartconnect.StatusError{Code: http.StatusNotFound}
	}}

	_, err := WithRetry(src, fastBackoff).Fetch(context.Background())
	var se *smartconnect.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestWithRetry_StopsAtDeadline(t *testing.T) {
	src := &StaticSource{SourceName: "down", Err: errors.New("timeout")}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := WithRetry(src, fastBackoff).Fetch(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("retry outlived its deadline: %v", time.Since(start))
	}
}

func TestStaticSource_ReturnsCopy(t *testing.T) {
	src := &StaticSource{SourceName: "s", Rows: []model.RawRow{{Token: "1"}}}
	rows, _ := src.Fetch(context.Background())
	rows[0].Token = "changed"
	again, _ := src.Fetch(context.Background())
	if again[0].Token != "1" {
		t.Error("static source leaked its backing slice")
	}
}
