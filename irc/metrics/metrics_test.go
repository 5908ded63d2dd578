package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presbrey/chansync/irc/channel"
	"github.com/presbrey/chansync/irc/metrics"
	"github.com/presbrey/chansync/irc/sjoin"
)

func TestObserve(t *testing.T) {
	m := metrics.New()

	m.Observe(sjoin.Result{
		Outcome:   sjoin.OutcomeLost,
		Joined:    2,
		Skipped:   1,
		Stripped:  3,
		Destroyed: false,
		Pruned:    map[channel.ListKind]int{channel.Bans: 3, channel.InviteExems: 1},
		Lines:     sjoin.Lines{Relay: 1, Ban: 1, Strip: 2},
	})
	m.Observe(sjoin.Result{Abort: "malformed SJOIN: channel name \"x\""})
	m.Observe(sjoin.Result{Outcome: sjoin.OutcomeNew, Destroyed: true})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconciliations.WithLabelValues("lost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconciliations.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Aborted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MembersJoined))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MembersSkipped))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PrivilegesRevoked))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EntriesPruned.WithLabelValues("b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesPruned.WithLabelValues("I")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Lines.WithLabelValues("strip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelsDestroyed))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, mf := range families {
		if mf.GetName() == "chansync_sjoin_lines" {
			samples = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), samples, "one sample per reconciled SJOIN")
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/ping", http.MethodGet, "200")))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "chansync_http_requests_total"))
}

func TestConnectionGauges(t *testing.T) {
	m := metrics.New()
	m.LinksChanged(2)
	m.SessionsChanged(5)
	m.SessionsChanged(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Links))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Sessions))
}
