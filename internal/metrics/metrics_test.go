package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecorderIsNoop(t *testing.T) {
	var r *metrics.Recorder
	assert.NotPanics(t, func() {
		r.Decision("accepted")
		r.Review("approve", "ok")
		r.BridgeCall(true, time.Second)
		r.RoleGrant("approval", "granted")
		r.DMAttempt("sent")
		r.NotifyFailure("audit")
		r.CardPost("rich")
		r.StatsFetch(false)
	})
}

func TestRecorderCounts(t *testing.T) {
	r := metrics.New()
	r.Decision("accepted")
	r.Decision("accepted")
	r.Decision("rejected")

	expected := `
# HELP sbmasters_promotion_decisions_total Requirement evaluations by outcome.
# TYPE sbmasters_promotion_decisions_total counter
sbmasters_promotion_decisions_total{outcome="accepted"} 2
sbmasters_promotion_decisions_total{outcome="rejected"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "sbmasters_promotion_decisions_total"))
}

func TestRouterServesMetricsAndHealth(t *testing.T) {
	r := metrics.New()
	r.BridgeCall(false, 250*time.Millisecond)

	srv := httptest.NewServer(r.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sbmasters_bridge_dispatch_total{result="error"} 1`)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
