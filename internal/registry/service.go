package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/marketcalls/openalgo-sub002/internal/feed"
	"github.com/marketcalls/openalgo-sub002/internal/ingest"
	"github.com/marketcalls/openalgo-sub002/internal/logger"
	"github.com/marketcalls/openalgo-sub002/internal/metrics"
	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/internal/notification"
	"github.com/marketcalls/openalgo-sub002/internal/ringbuf"
)

// MaxReportedRejections caps the rejected rows carried in a report.
const MaxReportedRejections = 100

// BrokerSource is a feed source with its own timeout. Zero uses the
// service default.
type BrokerSource struct {
	feed.Source
	Timeout time.Duration
}

// Broker is one refreshable contract universe.
type Broker struct {
	ID            string
	Normalizer    *ingest.Normalizer
	Sources       []BrokerSource
	MaxRejectRate float64 // zero uses the service default
}

// RefreshReport summarizes one refresh attempt. Aborted attempts return a
// report alongside the error.
type RefreshReport struct {
	RunID         string            `json:"run_id"`
	Broker        string            `json:"broker"`
	Total         int               `json:"total"`
	Inserted      int               `json:"inserted"`
	Rejected      int               `json:"rejected"`
	Duplicates    int               `json:"duplicates"`
	Unmapped      map[string]int    `json:"unmapped,omitempty"`
	FailedSources []string          `json:"failed_sources,omitempty"`
	Rejections    []model.Rejection `json:"rejections,omitempty"`
	Generation    uint64            `json:"cache_generation"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	Duration      time.Duration     `json:"-"`
	DurationMS    int64             `json:"duration_ms"`
}

// Options configures a Service.
type Options struct {
	SourceTimeout  time.Duration // default 2m
	MaxRejectRate  float64       // default ingest.DefaultMaxRejectRate
	MaxConcurrency int           // concurrent source fetches, default 4
	HistorySize    int           // reports kept for History, default 32

	Publisher model.RefreshPublisher // optional
	Notifier  notification.Notifier  // optional
	Metrics   *metrics.Metrics       // optional
	Health    *metrics.HealthStatus  // optional
	Logger    *slog.Logger           // default slog.Default()
	Now       func() time.Time
}

// Service runs refreshes. At most one refresh runs at a time per Service;
// a concurrent trigger is rejected with model.ErrRefreshInProgress.
type Service struct {
	brokers map[string]*Broker
	store   model.InstrumentStore
	facade  *Facade
	loader  ingest.Loader
	opts    Options
	origin  string
	history *ringbuf.Ring[RefreshReport]

	running atomic.Bool
}

// NewService wires a refresh service. The facade must read from store.
func NewService(store model.InstrumentStore, facade *Facade, brokers []*Broker, opts Options) *Service {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 2 * time.Minute
	}
	if opts.MaxRejectRate <= 0 {
		opts.MaxRejectRate = ingest.DefaultMaxRejectRate
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 32
	}
	if opts.Notifier == nil {
		opts.Notifier = notification.NewLogNotifier()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	byID := make(map[string]*Broker, len(brokers))
	for _, b := range brokers {
		byID[b.ID] = b
	}
	return &Service{
		brokers: byID,
		store:   store,
		facade:  facade,
		loader:  ingest.Loader{Store: store},
		opts:    opts,
		origin:  Origin(),
		history: ringbuf.New[RefreshReport](opts.HistorySize),
	}
}

// Origin identifies this process in refresh events.
func Origin() string {
	host, _ := os.Hostname()
	return host + ":" + strconv.Itoa(os.Getpid())
}

// Brokers lists the configured broker ids.
func (s *Service) Brokers() []string {
	ids := make([]string, 0, len(s.brokers))
	for id := range s.brokers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Running reports whether a refresh is in progress.
func (s *Service) Running() bool { return s.running.Load() }

// History returns up to n finished refresh reports, newest first. Rejected
// triggers (unknown broker, already running) are not recorded.
func (s *Service) History(n int) []RefreshReport { return s.history.Recent(n) }

type sourceResult struct {
	name    string
	res     ingest.Result
	err     error
	elapsed time.Duration
}

// Refresh fetches every source of brokerID, normalizes, checks the reject
// rate, replaces the store, rebuilds the cache and announces the new
// generation. The store and cache are untouched unless the batch passes.
func (s *Service) Refresh(ctx context.Context, brokerID string) (RefreshReport, error) {
	b, ok := s.brokers[brokerID]
	if !ok {
		return RefreshReport{Broker: brokerID}, fmt.Errorf("%w: %q", model.ErrUnknownBroker, brokerID)
	}
	if !s.running.CompareAndSwap(false, true) {
		s.outcome("busy")
		return RefreshReport{Broker: brokerID}, model.ErrRefreshInProgress
	}
	defer s.running.Store(false)

	start := s.opts.Now()
	runID := logger.NewRunID()
	ctx = logger.WithRunID(ctx, runID)
	lg := s.opts.Logger.With(logger.LogWithRun(ctx)...).With(slog.String("broker", b.ID))
	report := RefreshReport{RunID: runID, Broker: b.ID, StartedAt: start}
	lg.Info("refresh started", slog.Int("sources", len(b.Sources)))

	results := s.fetchAll(ctx, b)

	var merged ingest.Result
	var failed []error
	for _, r := range results {
		if s.opts.Metrics != nil {
			s.opts.Metrics.SourceFetchDur.WithLabelValues(r.name).Observe(r.elapsed.Seconds())
		}
		if r.err != nil {
			failed = append(failed, r.err)
			report.FailedSources = append(report.FailedSources, r.name)
			if s.opts.Metrics != nil {
				s.opts.Metrics.SourceFailures.WithLabelValues(r.name).Inc()
			}
			lg.Warn("source unavailable", slog.String("source", r.name), slog.Any("error", r.err))
			continue
		}
		lg.Info("source normalized", slog.String("source", r.name),
			slog.Int("rows", r.res.Total), slog.Int("valid", len(r.res.Valid)),
			slog.Int("rejected", len(r.res.Rejected)), slog.Duration("elapsed", r.elapsed))
		merged.Merge(r.res)
	}
	s.fillCounts(&report, merged)

	if len(b.Sources) > 0 && len(failed) == len(b.Sources) {
		err := fmt.Errorf("%w: all %d sources failed: %w", model.ErrSourceUnavailable, len(failed), errors.Join(failed...))
		return s.fail(ctx, lg, &report, "source_unavailable", err)
	}
	if len(failed) > 0 {
		s.alert(ctx, notification.AlertWarning, "refresh source unavailable",
			fmt.Sprintf("%d of %d sources skipped: %v", len(failed), len(b.Sources), report.FailedSources), &report)
	}

	threshold := b.MaxRejectRate
	if threshold <= 0 {
		threshold = s.opts.MaxRejectRate
	}
	if err := ingest.CheckRejectRate(merged.Total, len(merged.Rejected), threshold); err != nil {
		return s.fail(ctx, lg, &report, "aborted", err)
	}

	replaceStart := time.Now()
	lr, err := s.loader.Load(ctx, merged.Valid)
	report.Duplicates = len(lr.Duplicates)
	if s.opts.Metrics != nil {
		s.opts.Metrics.StoreReplaceDur.Observe(time.Since(replaceStart).Seconds())
		for _, d := range lr.Duplicates {
			kind := "token"
			if errors.Is(d, model.ErrDuplicateSymbol) {
				kind = "symbol"
			}
			s.opts.Metrics.DuplicateRows.WithLabelValues(kind).Inc()
		}
	}
	for i, d := range lr.Duplicates {
		if i == 20 {
			lg.Warn("further duplicates omitted", slog.Int("total", len(lr.Duplicates)))
			break
		}
		lg.Warn("duplicate dropped", slog.String("detail", d.Error()))
	}
	if err != nil {
		outcome := "failed"
		if errors.Is(err, model.ErrRefreshAborted) {
			outcome = "aborted"
		}
		return s.fail(ctx, lg, &report, outcome, err)
	}
	report.Inserted = lr.Inserted

	st, err := s.facade.reloadCommitted(ctx, lr.Loaded)
	if err != nil {
		lg.Warn("cache rebuilt from loaded set", slog.Any("error", err))
	}
	report.Generation = st.Generation

	if s.opts.Publisher != nil {
		ev := model.RefreshEvent{
			RunID:      runID,
			Broker:     b.ID,
			Inserted:   report.Inserted,
			Generation: st.Generation,
			Origin:     s.origin,
			At:         s.opts.Now().UTC(),
		}
		if err := s.opts.Publisher.PublishRefresh(ctx, ev); err != nil {
			lg.Warn("refresh event not published", slog.Any("error", err))
			s.alert(ctx, notification.AlertWarning, "refresh event not published", err.Error(), &report)
		}
	}

	s.finish(&report)
	s.history.Push(report)
	s.outcome("success")
	if s.opts.Metrics != nil {
		s.opts.Metrics.LastRefreshEpoch.Set(float64(s.opts.Now().Unix()))
	}
	if s.opts.Health != nil {
		s.opts.Health.SetRefresh(s.opts.Now(), nil)
	}
	lg.Info("refresh complete",
		slog.Int("inserted", report.Inserted), slog.Int("rejected", report.Rejected),
		slog.Int("duplicates", report.Duplicates), slog.Uint64("cache_generation", report.Generation),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// fetchAll fetches and normalizes every source concurrently. Results keep
// source order so that first-wins deduplication is deterministic.
func (s *Service) fetchAll(ctx context.Context, b *Broker) []sourceResult {
	results := make([]sourceResult, len(b.Sources))
	p := pool.New().WithMaxGoroutines(s.opts.MaxConcurrency)
	for i, src := range b.Sources {
		p.Go(func() {
			timeout := src.Timeout
			if timeout <= 0 {
				timeout = s.opts.SourceTimeout
			}
			sctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			started := time.Now()
			rows, err := src.Fetch(sctx)
			r := sourceResult{name: src.Name()}
			if err == nil && sctx.Err() != nil {
				err = sctx.Err()
			}
			if err != nil {
				r.err = &model.SourceError{Source: src.Name(), Err: err}
			} else {
				r.res = b.Normalizer.Normalize(rows)
			}
			r.elapsed = time.Since(started)
			results[i] = r
		})
	}
	p.Wait()
	return results
}

func (s *Service) fillCounts(report *RefreshReport, merged ingest.Result) {
	report.Total = merged.Total
	report.Rejected = len(merged.Rejected)
	report.Unmapped = merged.Unmapped
	n := len(merged.Rejected)
	if n > MaxReportedRejections {
		n = MaxReportedRejections
	}
	report.Rejections = append([]model.Rejection(nil), merged.Rejected[:n]...)

	if s.opts.Metrics == nil {
		return
	}
	for _, r := range merged.Rejected {
		s.opts.Metrics.RejectedRows.WithLabelValues(r.Code).Inc()
	}
	for ex, c := range merged.Unmapped {
		s.opts.Metrics.UnmappedRows.WithLabelValues(ex).Add(float64(c))
	}
}

// fail finalizes an unsuccessful refresh. The previous store contents and
// cache snapshot stay in service.
func (s *Service) fail(ctx context.Context, lg *slog.Logger, report *RefreshReport, outcome string, err error) (RefreshReport, error) {
	report.Generation = s.facade.Stats().Generation
	report.Error = err.Error()
	s.finish(report)
	s.history.Push(*report)
	s.outcome(outcome)
	if s.opts.Health != nil {
		s.opts.Health.SetRefresh(s.opts.Now(), err)
	}
	lg.Error("refresh failed", slog.String("outcome", outcome), slog.Any("error", err),
		slog.Int("rejected", report.Rejected), slog.Int("total", report.Total))
	s.alert(ctx, notification.AlertCritical, "refresh "+outcome, err.Error(), report)
	return *report, err
}

func (s *Service) finish(report *RefreshReport) {
	report.Duration = s.opts.Now().Sub(report.StartedAt)
	report.DurationMS = report.Duration.Milliseconds()
	if s.opts.Metrics != nil {
		s.opts.Metrics.RefreshDur.Observe(report.Duration.Seconds())
	}
}

func (s *Service) outcome(o string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.RefreshTotal.WithLabelValues(o).Inc()
	}
}

func (s *Service) alert(ctx context.Context, level notification.AlertLevel, title, msg string, report *RefreshReport) {
	// alerts must go out even when the refresh context was cancelled
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	err := s.opts.Notifier.Send(actx, notification.Alert{
		Level:   level,
		Title:   title,
		Message: msg,
		Fields:  map[string]string{"broker": report.Broker, "run_id": report.RunID},
	})
	if err != nil {
		s.opts.Logger.Warn("alert delivery failed", slog.String("title", title), slog.Any("error", err))
	}
}
