package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/galois26/disaster-ingester/internal/metrics"
)

func TestObserveRun(t *testing.T) {
	m := metrics.New()
	at := time.Unix(1_700_000_000, 0)

	m.ObserveRun(1500*time.Millisecond, nil, at)
	require.Equal(t, 1.5, testutil.ToFloat64(m.RunDuration))
	require.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.LastSuccess))

	m.ObserveRun(2*time.Second, errors.New("boom"), at.Add(time.Hour))
	require.Equal(t, 2.0, testutil.ToFloat64(m.RunDuration))
	require.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.LastSuccess))
}

func TestRegistryExposesCounters(t *testing.T) {
	m := metrics.New()
	m.PagesFetched.Add(3)
	m.Errors.WithLabelValues(metrics.StageFetch).Inc()

	err := testutil.GatherAndCompare(m.Registry, strings.NewReader(`
# HELP disaster_ingester_pages_fetched_total Pages fetched and committed
# TYPE disaster_ingester_pages_fetched_total counter
disaster_ingester_pages_fetched_total 3
# HELP disaster_ingester_errors_total Run-aborting failures by stage
# TYPE disaster_ingester_errors_total counter
disaster_ingester_errors_total{stage="fetch"} 1
`), "disaster_ingester_pages_fetched_total", "disaster_ingester_errors_total")
	require.NoError(t, err)
}

func TestPush(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := metrics.New()
	m.RecordsLoaded.Add(5)
	require.NoError(t, m.Push(context.Background(), srv.URL, "disaster-ingester", "host-1"))
	require.Equal(t, "/metrics/job/disaster-ingester/instance/host-1", path)
	require.NotEmpty(t, body)
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := metrics.New().Push(context.Background(), srv.URL, "disaster-ingester", "")
	require.Error(t, err)
}
