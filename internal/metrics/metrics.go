package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "disaster_ingester"

// Stage labels for Errors.
const (
	StageClear = "clear"
	StageFetch = "fetch"
	StageLoad  = "load"
)

// Metrics holds the counters of one process on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	PagesFetched    prometheus.Counter
	RecordsLoaded   prometheus.Counter
	RecordsReplaced prometheus.Counter
	RowsCleared     prometheus.Counter
	Errors          *prometheus.CounterVec
	RunDuration     prometheus.Gauge
	LastSuccess     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Pages fetched and committed",
		}),
		RecordsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_loaded_total",
			Help:      "Disaster records written",
		}),
		RecordsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_replaced_total",
			Help:      "Stored records superseded by a record with the same fema_id",
		}),
		RowsCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_cleared_total",
			Help:      "Rows deleted by the full refresh before loading",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Run-aborting failures by stage",
		}, []string{"stage"}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful run",
		}),
	}
	m.Registry.MustRegister(
		m.PagesFetched, m.RecordsLoaded, m.RecordsReplaced, m.RowsCleared,
		m.Errors, m.RunDuration, m.LastSuccess,
	)
	return m
}

// ObserveRun records the outcome of a finished run.
func (m *Metrics) ObserveRun(d time.Duration, err error, at time.Time) {
	m.RunDuration.Set(d.Seconds())
	if err == nil {
		m.LastSuccess.Set(float64(at.Unix()))
	}
}

// Push sends the registry to a Prometheus Pushgateway under job, grouped
// by instance.
func (m *Metrics) Push(ctx context.Context, url, job, instance string) error {
	p := push.New(url, job).Gatherer(m.Registry)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
