// Package metrics records reconciliation outcomes and admin API traffic as
// Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/presbrey/chansync/irc/sjoin"
)

const namespace = "chansync"

// Metrics holds the instruments of one daemon, registered on their own
// registry.
type Metrics struct {
	Registry *prometheus.Registry

	Reconciliations   *prometheus.CounterVec
	Aborted           prometheus.Counter
	Lines             *prometheus.CounterVec
	LinesPerSJOIN     prometheus.Histogram
	MembersJoined     prometheus.Counter
	MembersSkipped    prometheus.Counter
	PrivilegesGranted prometheus.Counter
	PrivilegesRevoked prometheus.Counter
	EntriesPruned     *prometheus.CounterVec
	ChannelsDestroyed prometheus.Counter

	Links          prometheus.Gauge
	Sessions       prometheus.Gauge
	JournalDropped prometheus.Counter

	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
}

// New creates and registers every instrument.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sjoin_total",
			Help:      "SJOIN messages reconciled, by arbitration outcome",
		}, []string{"outcome"}),
		Aborted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sjoin_aborted_total",
			Help:      "SJOIN messages dropped as malformed",
		}),
		Lines: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sjoin_lines_total",
			Help:      "Wire lines emitted while reconciling, by kind",
		}, []string{"kind"}),
		LinesPerSJOIN: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sjoin_lines",
			Help:      "Wire lines emitted per reconciled SJOIN",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		MembersJoined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sjoin_members_joined_total",
			Help:      "Members added to channels by SJOIN",
		}),
		MembersSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sjoin_members_skipped_total",
			Help:      "SJOIN member tokens that were unknown or arrived from the wrong link",
		}),
		PrivilegesGranted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sjoin_members_privileged_total",
			Help:      "SJOIN members that kept at least one privilege",
		}),
		PrivilegesRevoked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sjoin_privileges_stripped_total",
			Help:      "Local privileges removed after losing TS arbitration",
		}),
		EntriesPruned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sjoin_list_entries_pruned_total",
			Help:      "List mode entries removed after losing TS arbitration",
		}, []string{"list"}),
		ChannelsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sjoin_channels_destroyed_total",
			Help:      "Channels created by SJOIN and discarded because they stayed empty",
		}),

		Links: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "links",
			Help:      "Registered server links",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Registered local client sessions",
		}),
		JournalDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_dropped_total",
			Help:      "Journal records dropped because the write queue was full",
		}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Admin API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Admin API requests by path, method and status code",
		}, []string{"path", "method", "code"}),
	}
}

// Observe records one reconciliation.
func (m *Metrics) Observe(r sjoin.Result) {
	if r.Abort != "" {
		m.Aborted.Inc()
	}
	if r.Outcome != "" {
		m.Reconciliations.WithLabelValues(string(r.Outcome)).Inc()
		m.LinesPerSJOIN.Observe(float64(r.Lines.Total()))
	}

	m.Lines.WithLabelValues("mode").Add(float64(r.Lines.Mode))
	m.Lines.WithLabelValues("relay").Add(float64(r.Lines.Relay))
	m.Lines.WithLabelValues("ban").Add(float64(r.Lines.Ban))
	m.Lines.WithLabelValues("strip").Add(float64(r.Lines.Strip))
	m.Lines.WithLabelValues("notice").Add(float64(r.Lines.Notice))

	m.MembersJoined.Add(float64(r.Joined))
	m.MembersSkipped.Add(float64(r.Skipped))
	m.PrivilegesGranted.Add(float64(r.Privileged))
	m.PrivilegesRevoked.Add(float64(r.Stripped))
	for kind, n := range r.Pruned {
		m.EntriesPruned.WithLabelValues(string(rune(kind))).Add(float64(n))
	}
	if r.Destroyed {
		m.ChannelsDestroyed.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns Echo middleware which records request metrics.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			path := c.Path()
			method := c.Request().Method

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			m.RequestDuration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
			return nil
		}
	}
}

// LinksChanged records the number of established links.
func (m *Metrics) LinksChanged(n int) {
	m.Links.Set(float64(n))
}

// SessionsChanged records the number of registered local sessions.
func (m *Metrics) SessionsChanged(n int) {
	m.Sessions.Set(float64(n))
}
