package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *prometheus.Registry) {
	t.Helper()
	promReg := prometheus.NewRegistry()
	return newRegistry(promReg), promReg
}

func TestRecordHTTPRequestExposesRequiredSeries(t *testing.T) {
	r, promReg := newTestRegistry(t)

	r.RecordHTTPRequest("GET", "/api/v1/projects", 200, 25*time.Millisecond)
	r.RecordHTTPRequest("GET", "/api/v1/projects", 200, 50*time.Millisecond)
	r.RecordHTTPRequest("POST", "/api/v1/projects", 201, 10*time.Millisecond)

	count := testutil.ToFloat64(r.httpRequests.WithLabelValues("GET", "/api/v1/projects", "200"))
	assert.Equal(t, float64(2), count)

	families, err := promReg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["http_requests_total"])
	assert.True(t, names["http_request_duration_seconds"])
}

func TestBusCountersUseTopicAndReasonLabels(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.RecordIngest("tracker/events/test/hello", "test.hello")
	r.RecordDLQ("tracker/events/bad", "parse_error")
	r.RecordDLQ("tracker/events/bad", "parse_error")

	assert.Equal(t, float64(1),
		testutil.ToFloat64(r.mqttIngest.WithLabelValues("tracker/events/test/hello", "test.hello")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(r.mqttDLQ.WithLabelValues("tracker/events/bad", "parse_error")))
}

func TestActiveSessionsGauge(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.IncActiveSessions()
	r.IncActiveSessions()
	r.DecActiveSessions()

	assert.Equal(t, float64(1), testutil.ToFloat64(r.activeSessions))

	r.SetActiveSessions(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(r.activeSessions))
}

func TestPluginScoreGauge(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.SetPluginSecurityScore("com.example.widget", 85)
	assert.Equal(t, float64(85),
		testutil.ToFloat64(r.pluginSecurityScore.WithLabelValues("com.example.widget")))
}

func TestExpositionContainsHelpText(t *testing.T) {
	r, promReg := newTestRegistry(t)
	r.RecordSinkDrop()

	expected := strings.NewReader(`
# HELP logging_sink_dropped_total Log records dropped because the sink queue was full.
# TYPE logging_sink_dropped_total counter
logging_sink_dropped_total 1
`)
	require.NoError(t, testutil.GatherAndCompare(promReg, expected, "logging_sink_dropped_total"))
}
