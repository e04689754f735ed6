// Package api serves registry lookups and operator refreshes over HTTP for
// adapters running in other processes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/marketcalls/openalgo-sub002/internal/metrics"
	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/internal/registry"
)

// MaxBulkKeys caps a single POST /api/v1/tokens request.
const MaxBulkKeys = 5000

// Refresher is the part of registry.Service the HTTP layer drives.
type Refresher interface {
	Refresh(ctx context.Context, brokerID string) (registry.RefreshReport, error)
	Running() bool
	Brokers() []string
	History(n int) []registry.RefreshReport
}

// Handler serves the /api/v1 routes.
type Handler struct {
	lookup    registry.Lookup
	refresher Refresher // nil disables POST /api/v1/refresh
	health    *metrics.HealthStatus
	started   time.Time

	// every broker replaces the same single instrument set, so only the
	// active one may be refreshed over HTTP; empty allows any
	active string
}

// RouterOption customizes a Handler.
type RouterOption func(*Handler)

// WithActiveBroker restricts POST /api/v1/refresh/{broker} to id.
func WithActiveBroker(id string) RouterOption {
	return func(h *Handler) { h.active = strings.ToLower(id) }
}

// NewRouter registers every /api/v1 route on a fresh mux.
func NewRouter(lookup registry.Lookup, refresher Refresher, health *metrics.HealthStatus, opts ...RouterOption) *http.ServeMux {
	mux := http.NewServeMux()
	h := &Handler{lookup: lookup, refresher: refresher, health: health, started: time.Now()}
	for _, o := range opts {
		o(h)
	}
	h.Register(mux)
	return mux
}

// Register adds the /api/v1 routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", h.handleHealth)
	mux.HandleFunc("GET /api/v1/stats", h.handleStats)
	mux.HandleFunc("GET /api/v1/token", h.handleToken)
	mux.HandleFunc("GET /api/v1/symbol", h.handleSymbol)
	mux.HandleFunc("GET /api/v1/broker-symbol", h.handleBrokerSymbol)
	mux.HandleFunc("GET /api/v1/canonical", h.handleCanonical)
	mux.HandleFunc("GET /api/v1/instrument", h.handleInstrument)
	mux.HandleFunc("GET /api/v1/search", h.handleSearch)
	mux.HandleFunc("POST /api/v1/tokens", h.handleBulk)
	mux.HandleFunc("POST /api/v1/refresh/{broker}", h.handleRefresh)
	mux.HandleFunc("GET /api/v1/refresh/history", h.handleHistory)
	mux.HandleFunc("OPTIONS /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.WriteHeader(http.StatusNoContent)
	})
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorOut{Error: msg})
}

// lookupError maps a facade error to a status code. A miss is 404; anything
// else means the store fallback failed.
func lookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	log.Printf("[api] lookup failed: %v", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// params reads required query parameters, writing a 400 when one is missing.
func params(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	q := r.URL.Query()
	out := make([]string, len(names))
	for i, n := range names {
		v := strings.TrimSpace(q.Get(n))
		if v == "" {
			writeError(w, http.StatusBadRequest, "missing query parameter "+n)
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func exchangeParam(s string) model.Exchange {
	return model.Exchange(strings.ToUpper(strings.TrimSpace(s)))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		SetCORS(w)
		h.health.ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime_sec": int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"cache":   h.lookup.Stats(),
		"runtime": collectRuntime(h.started),
	}
	if h.refresher != nil {
		out["refresh_running"] = h.refresher.Running()
		out["brokers"] = h.refresher.Brokers()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "symbol", "exchange")
	if !ok {
		return
	}
	ex := exchangeParam(p[1])
	tok, err := h.lookup.ResolveToken(r.Context(), p[0], ex)
	if err != nil {
		lookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenOut{Symbol: p[0], Exchange: string(ex), Token: tok})
}

func (h *Handler) handleSymbol(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "token", "exchange")
	if !ok {
		return
	}
	sym, err := h.lookup.ResolveSymbol(r.Context(), p[0], p[1])
	if err != nil {
		lookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SymbolOut{Symbol: sym, Token: p[0], Exchange: p[1]})
}

func (h *Handler) handleBrokerSymbol(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "symbol", "exchange")
	if !ok {
		return
	}
	ex := exchangeParam(p[1])
	bs, err := h.lookup.ToBrokerSymbol(r.Context(), p[0], ex)
	if err != nil {
		lookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SymbolOut{Symbol: p[0], BrokerSymbol: bs, Exchange: string(ex)})
}

func (h *Handler) handleCanonical(w http.ResponseWriter, r *http.Request) {
	p, ok := params(w, r, "broker_symbol", "exchange")
	if !ok {
		return
	}
	sym, err := h.lookup.ToCanonicalSymbol(r.Context(), p[0], p[1])
	if err != nil {
		lookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SymbolOut{Symbol: sym, BrokerSymbol: p[0], Exchange: p[1]})
}

// handleInstrument returns the full record by (symbol, exchange) or, when
// token is given, by (token, broker exchange).
func (h *Handler) handleInstrument(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		inst model.Instrument
		err  error
	)
	if tok := strings.TrimSpace(q.Get("token")); tok != "" {
		p, ok := params(w, r, "exchange")
		if !ok {
			return
		}
		inst, err = h.lookup.InstrumentByToken(r.Context(), tok, p[0])
	} else {
		p, ok := params(w, r, "symbol", "exchange")
		if !ok {
			return
		}
		inst, err = h.lookup.Instrument(r.Context(), p[0], exchangeParam(p[1]))
	}
	if err != nil {
		lookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := strings.TrimSpace(q.Get("q"))
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	found, err := h.lookup.Search(r.Context(), prefix, exchangeParam(q.Get("exchange")), limit)
	if err != nil {
		lookupError(w, err)
		return
	}
	if found == nil {
		found = []model.Instrument{}
	}
	writeJSON(w, http.StatusOK, SearchOut{Count: len(found), Results: found})
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkIn
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Symbols) > MaxBulkKeys {
		writeError(w, http.StatusBadRequest, "too many symbols (max "+strconv.Itoa(MaxBulkKeys)+")")
		return
	}

	keys := make([]model.SymbolKey, len(req.Symbols))
	for i, k := range req.Symbols {
		keys[i] = model.SymbolKey{Symbol: strings.TrimSpace(k.Symbol), Exchange: exchangeParam(k.Exchange)}
	}
	tokens, err := h.lookup.ResolveTokensBulk(r.Context(), keys)
	if err != nil {
		lookupError(w, err)
		return
	}

	out := BulkOut{Tokens: make([]TokenOut, 0, len(tokens)), Missing: []BulkKey{}}
	for _, k := range keys {
		if tok, ok := tokens[k]; ok {
			out.Tokens = append(out.Tokens, TokenOut{Symbol: k.Symbol, Exchange: string(k.Exchange), Token: tok})
		} else {
			out.Missing = append(out.Missing, BulkKey{Symbol: k.Symbol, Exchange: string(k.Exchange)})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRefresh runs a refresh synchronously and returns its report. The
// refresh outlives a client disconnect.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, http.StatusNotImplemented, "refresh is not enabled on this instance")
		return
	}
	broker := strings.ToLower(r.PathValue("broker"))
	log.Printf("[api] refresh of %s requested by %s", broker, r.RemoteAddr)

	if h.active != "" && broker != h.active {
		if !slices.Contains(h.refresher.Brokers(), broker) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("%v: %q", model.ErrUnknownBroker, broker))
			return
		}
		writeError(w, http.StatusForbidden,
			fmt.Sprintf("broker %q is not the active broker %q; refreshing it would replace the whole registry", broker, h.active))
		return
	}

	report, err := h.refresher.Refresh(context.WithoutCancel(r.Context()), broker)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, model.ErrUnknownBroker):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrRefreshInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrRefreshAborted), errors.Is(err, model.ErrSourceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, refreshFailure{Error: err.Error(), Report: report})
	default:
		writeJSON(w, http.StatusInternalServerError, refreshFailure{Error: err.Error(), Report: report})
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeJSON(w, http.StatusOK, []registry.RefreshReport{})
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.refresher.History(limit))
}

type refreshFailure struct {
	Error  string                 `json:"error"`
	Report registry.RefreshReport `json:"report"`
}
