// Package smartconnect is a minimal Angel One SmartAPI HTTP client covering the
// public instrument (scrip master) download.
//
// Usage example:
//
//	sc := smartconnect.NewSmartConnect(smartconnect.Config{Timeout: time.Minute})
//	scrips, err := sc.ScripMaster(ctx)
//	if err != nil { log.Fatal(err) }
//	fmt.Println("contracts:", len(scrips))
package smartconnect

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ---- Config & client ----

type Config struct {
	ScripMasterURL string        // default: Angel One OpenAPIScripMaster.json
	Timeout        time.Duration // default: 2m, the file is ~40MB
	ProxyURL       string        // optional HTTP proxy URL
	DisableSSL     bool          // if true, InsecureSkipVerify
	Accept         string        // default: application/json
	UserAgent      string
	Debug          bool

	// HTTPClient overrides the transport built from the fields above.
	HTTPClient *http.Client
}

type SmartConnect struct {
	scripMasterURL string
	accept         string
	userAgent      string
	debug          bool
	httpClient     *http.Client
}

const (
	DefaultScripMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"
	defaultUserAgent      = "symreg/1.0"
)

// NewSmartConnect initializes the client.
func NewSmartConnect(cfg Config) *SmartConnect {
	if cfg.ScripMasterURL == "" {
		cfg.ScripMasterURL = DefaultScripMasterURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Accept == "" {
		cfg.Accept = "application/json"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	client := cfg.HTTPClient
	if client == nil {
		tr := &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: cfg.DisableSSL,
			},
		}
		if cfg.ProxyURL != "" {
			if purl, err := url.Parse(cfg.ProxyURL); err == nil {
				tr.Proxy = http.ProxyURL(purl)
			}
		}
		client = &http.Client{Transport: tr, Timeout: cfg.Timeout}
	}

	return &SmartConnect{
		scripMasterURL: cfg.ScripMasterURL,
		accept:         cfg.Accept,
		userAgent:      cfg.UserAgent,
		debug:          cfg.Debug,
		httpClient:     client,
	}
}

// Scrip is one record of the scrip master file. Every field is published as a
// string. Strike and tick size are in paise; non-option contracts carry
// strike "-1.000000".
type Scrip struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
	TickSize       string `json:"tick_size"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Code, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// ---- Helpers ----

func (sc *SmartConnect) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", sc.accept)
	h.Set("User-Agent", sc.userAgent)
	return h
}

func (sc *SmartConnect) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = sc.requestHeaders()

	if sc.debug {
		log.Printf("[smartconnect] request: GET %s", rawURL)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp.Body, nil
}

// ---- API Methods ----

// ScripMaster downloads and decodes the full instrument list.
func (sc *SmartConnect) ScripMaster(ctx context.Context) ([]Scrip, error) {
	start := time.Now()
	body, err := sc.get(ctx, sc.scripMasterURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out []Scrip
	if err := json.NewDecoder(body).DecodeContext(ctx, &out); err != nil {
		return nil, fmt.Errorf("couldn't parse scrip master: %w", err)
	}
	if sc.debug {
		log.Printf("[smartconnect] scrip master: %d records in %s", len(out), time.Since(start).Round(time.Millisecond))
	}
	return out, nil
}
