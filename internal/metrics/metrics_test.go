package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	m := New()
	m.SetCapacity(3)
	m.SetLiveSessions(2)
	m.Admission("admitted")
	m.Admission("admitted")
	m.Admission("at_capacity")
	m.Transition("ready")
	m.Teardown("logout")
	m.Eviction()
	m.MessageSent(true)
	m.MessageSent(false)
	m.ResumeDeferred()

	require.Equal(t, float64(3), testutil.ToFloat64(m.capacity))
	require.Equal(t, float64(2), testutil.ToFloat64(m.liveSessions))
	require.Equal(t, float64(2), testutil.ToFloat64(m.admissions.WithLabelValues("admitted")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.admissions.WithLabelValues("at_capacity")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.messagesSent.WithLabelValues("error")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.evictions))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetLiveSessions(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "sessiongate_live_sessions 4"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SetLiveSessions(1)
	m.Admission("admitted")
	m.Transition("ready")
	m.Teardown("logout")
	m.Eviction()
	m.MessageSent(true)
	m.ResumeDeferred()
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
