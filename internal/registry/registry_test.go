package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/marketcalls/openalgo-sub002/config"
	"github.com/marketcalls/openalgo-sub002/internal/cache"
	"github.com/marketcalls/openalgo-sub002/internal/feed"
	"github.com/marketcalls/openalgo-sub002/internal/ingest"
	"github.com/marketcalls/openalgo-sub002/internal/metrics"
	"github.com/marketcalls/openalgo-sub002/internal/model"
	"github.com/marketcalls/openalgo-sub002/internal/notification"
	"github.com/marketcalls/openalgo-sub002/internal/store/memory"
	"github.com/marketcalls/openalgo-sub002/internal/store/storetest"
	"github.com/marketcalls/openalgo-sub002/internal/symbol"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.RefreshEvent
	err    error
}

func (p *recordingPublisher) PublishRefresh(_ context.Context, ev model.RefreshEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (n *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) levels() []notification.AlertLevel {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.AlertLevel, len(n.alerts))
	for i, a := range n.alerts {
		out[i] = a.Level
	}
	return out
}

// angelRows is a small Angel-style feed. bad rows carry a negative strike.
func angelRows(equities, bad int) []model.RawRow {
	rows := []model.RawRow{
		{BrokerExchange: "NSE", BrokerSymbol: "RELIANCE-EQ", Token: "2885", Name: "RELIANCE", LotSize: "1", TickSize: "0.05"},
		{BrokerExchange: "BSE", BrokerSymbol: "RELIANCE", Token: "500325", Name: "RELIANCE", LotSize: "1", TickSize: "0.05"},
		{BrokerExchange: "NSE", BrokerSymbol: "Nifty 50", Token: "99926000", Name: "NIFTY", TypeHint: "AMXIDX"},
		{BrokerExchange: "NFO", BrokerSymbol: "NIFTY29MAY25FUT", Token: "57130", Name: "NIFTY", Expiry: "29MAY2025", LotSize: "75", TickSize: "0.10", TypeHint: "FUTIDX"},
		{BrokerExchange: "NFO", BrokerSymbol: "NIFTY29MAY2524500CE", Token: "57131", Name: "NIFTY", Expiry: "29MAY2025", Strike: "24500", LotSize: "75", TickSize: "0.05", TypeHint: "OPTIDX"},
	}
	for i := 0; i < equities; i++ {
		rows = append(rows, model.RawRow{BrokerExchange: "NSE", BrokerSymbol: fmt.Sprintf("EQ%04d-EQ", i), Token: fmt.Sprintf("%d", 100000+i)})
	}
	for i := 0; i < bad; i++ {
		rows = append(rows, model.RawRow{BrokerExchange: "NSE", BrokerSymbol: fmt.Sprintf("BAD%04d-EQ", i), Token: fmt.Sprintf("%d", 900000+i), Strike: "-1"})
	}
	return rows
}

type fixture struct {
	store    *memory.Store
	cache    *cache.Cache
	facade   *Facade
	svc      *Service
	pub      *recordingPublisher
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	rows     *[]model.RawRow
	rowsMu   *sync.Mutex
}

func newFixture(t *testing.T, extra ...BrokerSource) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		cache:    cache.New(),
		pub:      &recordingPublisher{},
		notifier: &recordingNotifier{},
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		health:   metrics.NewHealthStatus(),
		rowsMu:   &sync.Mutex{},
	}
	rows := angelRows(20, 0)
	f.rows = &rows
	f.facade = NewFacade(f.cache, f.store, WithMetrics(f.metrics), WithHealth(f.health))

	src := &feed.FuncSource{SourceName: "angel-test", Fn: func(ctx context.Context) ([]model.RawRow, error) {
		f.rowsMu.Lock()
		defer f.rowsMu.Unlock()
		return append([]model.RawRow(nil), *f.rows...), nil
	}}
	broker := &Broker{
		ID:         "angel",
		Normalizer: ingest.NewNormalizer("angel", symbol.Compact, nil),
		Sources:    append([]BrokerSource{{Source: src}}, extra...),
	}
	f.svc = NewService(f.store, f.facade, []*Broker{broker}, Options{
		SourceTimeout: time.Second,
		Publisher:     f.pub,
		Notifier:      f.notifier,
		Metrics:       f.metrics,
		Health:        f.health,
	})
	return f
}

func (f *fixture) setRows(rows []model.RawRow) {
	f.rowsMu.Lock()
	*f.rows = rows
	f.rowsMu.Unlock()
}

func TestFacade_ColdStartFallsBackThenServesFromCache(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := store.ReplaceAll(ctx, storetest.Fixtures())
	require.NoError(t, err)

	f := NewFacade(cache.New(), store)

	before := store.Reads()
	tok, err := f.ResolveToken(ctx, "RELIANCE", model.NSE)
	require.NoError(t, err)
	require.Equal(t, "2885", tok)
	require.Greater(t, store.Reads(), before, "cold lookup must hit the store")

	st, err := f.Reload(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.Generation)
	require.Equal(t, 6, st.TotalInstruments)

	warm := store.Reads()
	tok, err = f.ResolveToken(ctx, "RELIANCE", model.NSE)
	require.NoError(t, err)
	require.Equal(t, "2885", tok)
	require.Equal(t, warm, store.Reads(), "warm lookup must not touch the store")
}

func TestFacade_AllOperations(t *testing.T) {
	ctx := context.Background()
	for _, warm := range []bool{false, true} {
		t.Run(fmt.Sprintf("warm=%v", warm), func(t *testing.T) {
			store := memory.New()
			_, err := store.ReplaceAll(ctx, storetest.Fixtures())
			require.NoError(t, err)
			f := NewFacade(cache.New(), store)
			if warm {
				_, err := f.Reload(ctx)
				require.NoError(t, err)
			}

			sym, err := f.ResolveSymbol(ctx, "500325", "BSE")
			require.NoError(t, err)
			require.Equal(t, "RELIANCE", sym)

			bs, err := f.ToBrokerSymbol(ctx, "RELIANCE", model.NSE)
			require.NoError(t, err)
			require.Equal(t, "RELIANCE-EQ", bs)

			cs, err := f.ToCanonicalSymbol(ctx, "Nifty 50", "NSE")
			require.NoError(t, err)
			require.Equal(t, "NIFTY", cs)

			inst, err := f.Instrument(ctx, "NIFTY29MAY2524500CE", model.NFO)
			require.NoError(t, err)
			require.Equal(t, "57131", inst.Token)

			byTok, err := f.InstrumentByToken(ctx, "2885", "NSE")
			require.NoError(t, err)
			require.Equal(t, model.NSE, byTok.CanonicalExchange)

			bulk, err := f.ResolveTokensBulk(ctx, []model.SymbolKey{
				{Symbol: "RELIANCE", Exchange: model.NSE},
				{Symbol: "RELIANCE", Exchange: model.BSE},
				{Symbol: "MISSING", Exchange: model.NSE},
			})
			require.NoError(t, err)
			require.Equal(t, map[model.SymbolKey]string{
				{Symbol: "RELIANCE", Exchange: model.NSE}: "2885",
				{Symbol: "RELIANCE", Exchange: model.BSE}: "500325",
			}, bulk)

			found, err := f.Search(ctx, "nifty29", model.NFO, 10)
			require.NoError(t, err)
			require.Len(t, found, 2)

			_, err = f.ResolveToken(ctx, "UNKNOWN", model.NSE)
			require.ErrorIs(t, err, model.ErrNotFound)
			_, err = f.ResolveSymbol(ctx, "2885", "BSE")
			require.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestRefresh_LoadsStoreAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.svc.Refresh(ctx, "angel")
	require.NoError(t, err)
	require.Equal(t, 25, report.Total)
	require.Equal(t, 25, report.Inserted)
	require.Zero(t, report.Rejected)
	require.Equal(t, uint64(1), report.Generation)
	require.NotEmpty(t, report.RunID)

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 25, count)

	tok, err := f.facade.ResolveToken(ctx, "NIFTY29MAY2524500CE", model.NFO)
	require.NoError(t, err)
	require.Equal(t, "57131", tok)

	require.Len(t, f.pub.events, 1)
	ev := f.pub.events[0]
	require.Equal(t, report.RunID, ev.RunID)
	require.Equal(t, uint64(1), ev.Generation)
	require.Equal(t, Origin(), ev.Origin)

	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshTotal.WithLabelValues("success")))
	require.Equal(t, 25.0, testutil.ToFloat64(f.metrics.Instruments))
	status, _ := f.health.Status()
	require.NotEqual(t, "unhealthy", status)
}

func TestRefresh_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Refresh(ctx, "angel")
	require.NoError(t, err)
	snap1 := f.cache.Snapshot()
	all1, _ := f.store.All(ctx)

	second, err := f.svc.Refresh(ctx, "angel")
	require.NoError(t, err)
	snap2 := f.cache.Snapshot()
	all2, _ := f.store.All(ctx)

	require.Equal(t, first.Inserted, second.Inserted)
	require.Equal(t, f.facade.Stats().TotalInstruments, first.Inserted)
	require.Greater(t, second.Generation, first.Generation)
	require.Equal(t, snap1.Len(), snap2.Len())
	require.Equal(t, symbolsOf(all1), symbolsOf(all2))
	require.Equal(t, snap1.Search("", "", 500), snap2.Search("", "", 500))
}

func symbolsOf(all []model.Instrument) []string {
	out := make([]string, len(all))
	for i, inst := range all {
		out[i] = inst.SymbolKey().String() + "=" + inst.Token
	}
	sort.Strings(out)
	return out
}

func TestRefresh_AbortKeepsPreviousSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, "angel")
	require.NoError(t, err)
	before := f.facade.Stats()
	replaces := f.store.Replaces()

	// 25 good rows, 25 negative strikes: 50% rejected
	f.setRows(angelRows(20, 25))
	report, err := f.svc.Refresh(ctx, "angel")
	require.ErrorIs(t, err, model.ErrRefreshAborted)
	var abort *model.AbortError
	require.ErrorAs(t, err, &abort)
	require.Equal(t, 25, abort.Rejected)
	require.Equal(t, 25, report.Rejected)
	require.Len(t, report.Rejections, 25)
	require.Equal(t, ingest.RejectNegativeStrike, report.Rejections[0].Code)

	after := f.facade.Stats()
	require.Equal(t, before.TotalInstruments, after.TotalInstruments)
	require.Equal(t, before.Generation, after.Generation)
	require.Equal(t, replaces, f.store.Replaces(), "store must not be touched")

	tok, err := f.facade.ResolveToken(ctx, "RELIANCE", model.NSE)
	require.NoError(t, err)
	require.Equal(t, "2885", tok)

	require.Contains(t, f.notifier.levels(), notification.AlertCritical)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshTotal.WithLabelValues("aborted")))
	require.Equal(t, 25.0, testutil.ToFloat64(f.metrics.RejectedRows.WithLabelValues(ingest.RejectNegativeStrike)))
	require.Len(t, f.pub.events, 1, "aborted refresh must not be announced")

	hist := f.svc.History(0)
	require.Len(t, hist, 2)
	require.Equal(t, report.RunID, hist[0].RunID)
	require.NotEmpty(t, hist[0].Error)
	require.Empty(t, hist[1].Error)
}

func TestRefresh_EmptyFeedAborts(t *testing.T) {
	f := newFixture(t)
	f.setRows(nil)
	_, err := f.svc.Refresh(context.Background(), "angel")
	require.ErrorIs(t, err, model.ErrRefreshAborted)
	require.False(t, f.cache.Warm())
}

func TestRefresh_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := BrokerSource{Source: &feed.FuncSource{SourceName: "slow", Fn: func(ctx context.Context) ([]model.RawRow, error) {
		close(entered)
		<-release
		return nil, nil
	}}}
	f := newFixture(t, slow)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Refresh(context.Background(), "angel")
		done <- err
	}()

	<-entered
	require.True(t, f.svc.Running())
	_, err := f.svc.Refresh(context.Background(), "angel")
	require.ErrorIs(t, err, model.ErrRefreshInProgress)

	close(release)
	require.NoError(t, <-done)
	require.False(t, f.svc.Running())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshTotal.WithLabelValues("busy")))
}

func TestRefresh_AllSourcesFail(t *testing.T) {
	f := newFixture(t)
	broker := &Broker{
		ID:         "dead",
		Normalizer: ingest.NewNormalizer("dead", symbol.Canonical, nil),
		Sources: []BrokerSource{
			{Source: &feed.StaticSource{SourceName: "a", Err: errors.New("connection refused")}},
			{Source: &feed.StaticSource{SourceName: "b", Err: errors.New("503")}},
		},
	}
	f.svc.brokers["dead"] = broker

	report, err := f.svc.Refresh(context.Background(), "dead")
	require.ErrorIs(t, err, model.ErrSourceUnavailable)
	require.ElementsMatch(t, []string{"a", "b"}, report.FailedSources)
	require.False(t, f.cache.Warm())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshTotal.WithLabelValues("source_unavailable")))
}

func TestRefresh_TimedOutSourceIsSkipped(t *testing.T) {
	hang := BrokerSource{
		Source: &feed.FuncSource{SourceName: "hang", Fn: func(ctx context.Context) ([]model.RawRow, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		Timeout: 20 * time.Millisecond,
	}
	f := newFixture(t, hang)

	report, err := f.svc.Refresh(context.Background(), "angel")
	require.NoError(t, err)
	require.Equal(t, []string{"hang"}, report.FailedSources)
	require.Equal(t, 25, report.Inserted)
	require.Contains(t, f.notifier.levels(), notification.AlertWarning)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SourceFailures.WithLabelValues("hang")))
}

func TestRefresh_DuplicatesReported(t *testing.T) {
	f := newFixture(t)
	rows := angelRows(0, 0)
	dup := rows[0]
	dup.BrokerSymbol = "RELIANCE-BE"
	f.setRows(append(rows, dup))

	report, err := f.svc.Refresh(context.Background(), "angel")
	require.NoError(t, err)
	require.Equal(t, 1, report.Duplicates)
	require.Equal(t, 5, report.Inserted)

	bs, err := f.facade.ToBrokerSymbol(context.Background(), "RELIANCE", model.NSE)
	require.NoError(t, err)
	require.Equal(t, "RELIANCE-EQ", bs, "first occurrence wins")
}

func TestRefresh_PublishFailureDoesNotFailRefresh(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("redis down")

	_, err := f.svc.Refresh(context.Background(), "angel")
	require.NoError(t, err)
	require.True(t, f.cache.Warm())
	require.Contains(t, f.notifier.levels(), notification.AlertWarning)
}

func TestRefresh_UnknownBroker(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Refresh(context.Background(), "zerodha")
	require.ErrorIs(t, err, model.ErrUnknownBroker)
	require.Empty(t, f.svc.History(0))
}

func TestFacade_ConcurrentReadsDuringRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Refresh(ctx, "angel")
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tok, err := f.facade.ResolveToken(ctx, "RELIANCE", model.NSE)
				if err != nil || tok != "2885" {
					t.Errorf("lookup during refresh: %q %v", tok, err)
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		_, err := f.svc.Refresh(ctx, "angel")
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	require.Equal(t, uint64(11), f.facade.Stats().Generation)
}

type fakeScheduleRefresher struct {
	calls chan string
}

func (r *fakeScheduleRefresher) Refresh(_ context.Context, broker string) (RefreshReport, error) {
	r.calls <- broker
	return RefreshReport{Broker: broker}, nil
}

// gatedStore parks the first All call after reading until release is
// closed, and signals every committed ReplaceAll on replaced.
type gatedStore struct {
	*memory.Store
	once     sync.Once
	entered  chan struct{}
	release  chan struct{}
	replaced chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		Store:    memory.New(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
		replaced: make(chan struct{}, 4),
	}
}

func (g *gatedStore) All(ctx context.Context) ([]model.Instrument, error) {
	first := false
	g.once.Do(func() { first = true })
	all, err := g.Store.All(ctx)
	if first {
		close(g.entered)
		<-g.release
	}
	return all, err
}

func (g *gatedStore) ReplaceAll(ctx context.Context, in []model.Instrument) (int, error) {
	n, err := g.Store.ReplaceAll(ctx, in)
	if err == nil {
		g.replaced <- struct{}{}
	}
	return n, err
}

// failingAllStore fails every All call so rebuilds must use the loaded set.
type failingAllStore struct {
	*memory.Store
}

func (failingAllStore) All(context.Context) ([]model.Instrument, error) {
	return nil, errors.New("read back unavailable")
}

func angelService(store model.InstrumentStore, facade *Facade, rows []model.RawRow) *Service {
	src := &feed.FuncSource{SourceName: "angel-test", Fn: func(context.Context) ([]model.RawRow, error) {
		return append([]model.RawRow(nil), rows...), nil
	}}
	broker := &Broker{
		ID:         "angel",
		Normalizer: ingest.NewNormalizer("angel", symbol.Compact, nil),
		Sources:    []BrokerSource{{Source: src}},
	}
	return NewService(store, facade, []*Broker{broker}, Options{SourceTimeout: time.Second})
}

func TestFacade_SlowReloadDoesNotOverwriteRefresh(t *testing.T) {
	ctx := context.Background()
	store := newGatedStore()
	_, err := store.Store.ReplaceAll(ctx, storetest.Equities(50, "OLD"))
	require.NoError(t, err)

	c := cache.New()
	facade := NewFacade(c, store)
	svc := angelService(store, facade, angelRows(0, 0))

	reloadErr := make(chan error, 1)
	go func() {
		_, err := facade.Reload(ctx)
		reloadErr <- err
	}()
	<-store.entered // holds the 50 old rows

	type outcome struct {
		report RefreshReport
		err    error
	}
	refreshed := make(chan outcome, 1)
	go func() {
		r, err := svc.Refresh(ctx, "angel")
		refreshed <- outcome{r, err}
	}()
	select {
	case <-store.replaced:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh never committed")
	}
	close(store.release)

	require.NoError(t, <-reloadErr)
	out := <-refreshed
	require.NoError(t, out.err)
	require.Equal(t, 5, out.report.Inserted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	st := facade.Stats()
	require.Equal(t, count, st.TotalInstruments)
	require.Equal(t, out.report.Generation, st.Generation)

	tok, err := facade.ResolveToken(ctx, "RELIANCE", model.NSE)
	require.NoError(t, err)
	require.Equal(t, "2885", tok)
	_, err = facade.ResolveToken(ctx, "OLD00000", model.NSE)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestRefresh_ReadBackFailureRebuildsFromLoadedSet(t *testing.T) {
	ctx := context.Background()
	store := failingAllStore{memory.New()}
	facade := NewFacade(cache.New(), store)
	svc := angelService(store, facade, angelRows(3, 0))

	report, err := svc.Refresh(ctx, "angel")
	require.NoError(t, err)
	require.Equal(t, 8, report.Inserted)
	require.Equal(t, 8, facade.Stats().TotalInstruments)
	require.Equal(t, uint64(1), report.Generation)

	tok, err := facade.ResolveToken(ctx, "EQ0002", model.NSE)
	require.NoError(t, err)
	require.Equal(t, "100002", tok)
}

func TestScheduler_NextSkipsWeekendsAndHolidays(t *testing.T) {
	s, err := NewScheduler(nil, "angel", "08:00")
	require.NoError(t, err)

	ist := func(y int, m time.Month, d, h, min int) time.Time {
		return time.Date(y, m, d, h, min, 0, 0, time.FixedZone("IST", 19800))
	}
	// Friday evening -> Monday morning
	require.True(t, s.Next(ist(2026, 10, 16, 18, 0)).Equal(ist(2026, 10, 19, 8, 0)))
	// before the slot on a trading day -> same day
	require.True(t, s.Next(ist(2026, 10, 19, 7, 59)).Equal(ist(2026, 10, 19, 8, 0)))
	// Dussehra closes the 20th and 21st
	require.True(t, s.Next(ist(2026, 10, 19, 8, 0)).Equal(ist(2026, 10, 22, 8, 0)))

	_, err = NewScheduler(nil, "angel", "8am")
	require.Error(t, err)
}

func TestScheduler_RunTriggersRefresh(t *testing.T) {
	r := &fakeScheduleRefresher{calls: make(chan string, 4)}
	s, err := NewScheduler(r, "angel", "08:00")
	require.NoError(t, err)

	fire := make(chan time.Time)
	s.after = func(time.Duration) <-chan time.Time { return fire }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	fire <- time.Now()
	require.Equal(t, "angel", <-r.calls)
	fire <- time.Now()
	require.Equal(t, "angel", <-r.calls)

	cancel()
	<-done
}

type chanEvents struct {
	events []model.RefreshEvent
}

func (c *chanEvents) Subscribe(ctx context.Context, handle func(context.Context, model.RefreshEvent)) error {
	for _, ev := range c.events {
		handle(ctx, ev)
	}
	return nil
}

func TestFollow_ReloadsOnForeignEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := store.ReplaceAll(ctx, storetest.Fixtures())
	require.NoError(t, err)
	f := NewFacade(cache.New(), store)

	src := &chanEvents{events: []model.RefreshEvent{
		{RunID: "mine", Origin: "self:1"},
		{RunID: "theirs", Origin: "other:2"},
	}}
	require.NoError(t, Follow(ctx, src, f, "self:1"))
	require.Equal(t, uint64(1), f.Stats().Generation, "only the foreign event reloads")
	require.Equal(t, 6, f.Stats().TotalInstruments)
}

func TestBuildBrokers(t *testing.T) {
	brokers, err := BuildBrokers([]config.BrokerConfig{
		{ID: "angel", Strategy: "compact", Sources: []config.SourceConfig{{Kind: config.SourceAngel, Name: "angel-scrip-master"}}},
		{
			ID: "dhan", Strategy: "spaced", MaxRejectRate: 0.1,
			Sources:   []config.SourceConfig{{Kind: config.SourceCSV, Name: "dhan-csv", Path: "x.csv", Timeout: time.Minute}},
			Exchanges: []config.ExchangeMapping{{Native: "NSE", Segment: "D", Exchange: "nfo"}},
		},
	}, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, brokers, 2)

	require.Equal(t, "angel-scrip-master", brokers[0].Sources[0].Name())
	require.Equal(t, 2*time.Minute, brokers[0].Sources[0].Timeout)
	require.Equal(t, "compact", brokers[0].Normalizer.Strategy.Name())

	dhan := brokers[1]
	require.Equal(t, "dhan-csv", dhan.Sources[0].Name())
	require.Equal(t, time.Minute, dhan.Sources[0].Timeout)
	ex, ok := dhan.Normalizer.Exchanges.Lookup("NSE", "D")
	require.True(t, ok)
	require.Equal(t, model.NFO, ex)

	_, err = BuildBrokers([]config.BrokerConfig{{ID: "x", Strategy: "klingon"}}, time.Minute)
	require.Error(t, err)
}
