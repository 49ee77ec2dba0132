package pipeline_test

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/galois26/disaster-ingester/internal/config"
	"github.com/galois26/disaster-ingester/internal/loader"
	"github.com/galois26/disaster-ingester/internal/metrics"
	"github.com/galois26/disaster-ingester/internal/model"
	"github.com/galois26/disaster-ingester/internal/openfematest"
	"github.com/galois26/disaster-ingester/internal/pipeline"
	"github.com/galois26/disaster-ingester/internal/source"
	"github.com/galois26/disaster-ingester/internal/store"
)

type harness struct {
	srv     *openfematest.Server
	store   *store.Store
	metrics *metrics.Metrics
	hook    *test.Hook
	run     *pipeline.Pipeline
}

func newHarness(t *testing.T, items []map[string]any, pageSize int, inlineCount bool) *harness {
	t.Helper()
	ctx := context.Background()
	log, hook := test.NewNullLogger()

	srv := openfematest.NewServer(t, items)
	cfg := config.Config{
		Source: config.SourceConfig{
			BaseURL:            srv.BaseURL(),
			LookbackDays:       10,
			PageSize:           pageSize,
			DisableInlineCount: !inlineCount,
		},
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, DSN: ":memory:"},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	st, err := store.Open(cfg.Database, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	m := metrics.New()
	src := source.New(cfg.Source, source.WithLogger(log))
	return &harness{
		srv:     srv,
		store:   st,
		metrics: m,
		hook:    hook,
		run:     pipeline.New(src, loader.New(st, log), st, m, log),
	}
}

func (h *harness) ids(t *testing.T) []string {
	t.Helper()
	rows, err := h.store.List(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.FEMAID)
	}
	return out
}

func TestRunTwoFullPagesThenShortPage(t *testing.T) {
	h := newHarness(t, openfematest.Items(5), 2, false)

	sum, err := h.run.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []int{0, 2, 4}, h.srv.Skips())
	require.Equal(t, 3, sum.Pages)
	require.Equal(t, 5, sum.Records)
	require.Zero(t, sum.Replaced)
	require.NotEmpty(t, sum.RunID)
	require.Equal(t, []string{"id-0000", "id-0001", "id-0002", "id-0003", "id-0004"}, h.ids(t))

	require.Equal(t, 3.0, testutil.ToFloat64(h.metrics.PagesFetched))
	require.Equal(t, 5.0, testutil.ToFloat64(h.metrics.RecordsLoaded))
	require.NotZero(t, testutil.ToFloat64(h.metrics.LastSuccess))

	for _, q := range h.srv.Queries() {
		require.Equal(t, "2", q.Get("$top"))
		require.Contains(t, q.Get("$filter"), "incidentEndDate gt '")
	}

	var committed []any
	for _, e := range h.hook.AllEntries() {
		if e.Message == "page committed" {
			committed = append(committed, e.Data["page"])
		}
	}
	require.Equal(t, []any{0, 1, 2}, committed)
}

func TestRunStoresNormalizedRows(t *testing.T) {
	items := []map[string]any{
		openfematest.Item(1, "Orange (County)"),
		openfematest.Item(2, "Orange Parish"),
	}
	items[1]["state"] = " la "
	items[1]["title"] = "  HURRICANE IDA "
	h := newHarness(t, items, 10, true)

	_, err := h.run.Run(context.Background())
	require.NoError(t, err)

	rows, err := h.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].County)
	require.Equal(t, "Orange", *rows[0].County)
	require.Nil(t, rows[1].County)
	require.Equal(t, "TX", rows[0].State)
	require.Equal(t, "LA", rows[1].State)
	require.Equal(t, "HURRICANE IDA", rows[1].Title)
	require.Equal(t, 4001, rows[0].DisasterNumber)
	require.Equal(t, "2024-05-03", rows[0].IncidentEndDate.Format(time.DateOnly))
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t, openfematest.Items(7), 3, true)
	ctx := context.Background()

	_, err := h.run.Run(ctx)
	require.NoError(t, err)
	first, err := h.store.List(ctx)
	require.NoError(t, err)

	sum, err := h.run.Run(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 7, sum.Cleared)
	second, err := h.store.List(ctx)
	require.NoError(t, err)

	strip := func(rows []model.Disaster) []model.Disaster {
		out := make([]model.Disaster, len(rows))
		for i, r := range rows {
			r.ID = 0
			out[i] = r
		}
		return out
	}
	require.Equal(t, strip(first), strip(second))
}

func TestRunClearsStaleRows(t *testing.T) {
	h := newHarness(t, openfematest.Items(2), 2, true)
	ctx := context.Background()

	_, err := h.store.ReplacePage(ctx, []model.Disaster{{FEMAID: "stale", DisasterNumber: 1}})
	require.NoError(t, err)

	sum, err := h.run.Run(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, sum.Cleared)
	require.Equal(t, []string{"id-0000", "id-0001"}, h.ids(t))
}

func TestRunKeepsOneRowPerIdentifier(t *testing.T) {
	items := openfematest.Items(4)
	dup := openfematest.Item(0, "Later (County)")
	items = append(items, dup)
	h := newHarness(t, items, 2, false)

	sum, err := h.run.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, sum.Records)
	require.EqualValues(t, 1, sum.Replaced)

	rows, err := h.store.FindByFEMAID(context.Background(), "id-0000")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Later", *rows[0].County)
	require.Len(t, h.ids(t), 4)
}

func TestRunAbortsOnMalformedPageKeepingEarlierCommits(t *testing.T) {
	h := newHarness(t, openfematest.Items(5), 2, true)
	h.srv.Override(func(call int, _ url.Values) (int, string, bool) {
		return http.StatusOK, `{"metadata":{"count":5}}`, call == 1
	})

	sum, err := h.run.Run(context.Background())
	require.ErrorIs(t, err, source.ErrMalformedResponse)
	require.Equal(t, 1, sum.Pages)
	require.Equal(t, 2, sum.Records)
	require.Equal(t, []string{"id-0000", "id-0001"}, h.ids(t))
	require.Len(t, h.srv.Queries(), 2)

	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Errors.WithLabelValues(metrics.StageFetch)))
	require.Zero(t, testutil.ToFloat64(h.metrics.LastSuccess))
}

func TestRunAbortsOnTransportFailure(t *testing.T) {
	h := newHarness(t, openfematest.Items(5), 2, true)
	h.srv.Override(func(call int, _ url.Values) (int, string, bool) {
		return http.StatusBadGateway, "upstream timeout", call == 2
	})

	sum, err := h.run.Run(context.Background())
	require.ErrorIs(t, err, source.ErrTransport)
	require.Equal(t, 2, sum.Pages)
	require.Len(t, h.ids(t), 4)
}

type failingClearer struct{ err error }

func (f failingClearer) Clear(context.Context) (int64, error) { return 0, f.err }

type stubFetcher struct{ calls int }

func (s *stubFetcher) Name() string { return "stub" }

func (s *stubFetcher) Pages(context.Context) iter.Seq2[source.Page, error] {
	return func(yield func(source.Page, error) bool) {
		s.calls++
		yield(source.Page{Records: []model.Declaration{{ID: "x"}}, Total: -1}, nil)
	}
}

type failingLoader struct{ err error }

func (f failingLoader) Load(context.Context, source.Page) (store.PageResult, error) {
	return store.PageResult{}, f.err
}

func TestRunAbortsWhenClearFails(t *testing.T) {
	boom := errors.New("permission denied")
	f := &stubFetcher{}
	log, _ := test.NewNullLogger()
	m := metrics.New()

	_, err := pipeline.New(f, failingLoader{}, failingClearer{err: boom}, m, log).Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Zero(t, f.calls)
	require.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(metrics.StageClear)))
}

func TestRunAbortsWhenLoadFails(t *testing.T) {
	boom := errors.New("deadlock detected")
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	m := metrics.New()

	sum, err := pipeline.New(&stubFetcher{}, failingLoader{err: boom}, failingClearer{}, m, log).Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Zero(t, sum.Pages)
	require.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(metrics.StageLoad)))
}
