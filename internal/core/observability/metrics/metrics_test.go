package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(operationsApplied.WithLabelValues("set", OutcomeOK))
	ReportOperation("set", OutcomeOK)
	ReportOperation("set", OutcomeOK)
	assert.Equal(t, before+2, testutil.ToFloat64(operationsApplied.WithLabelValues("set", OutcomeOK)))

	before = testutil.ToFloat64(missingEntities.WithLabelValues("delete"))
	ReportMissingEntity("delete")
	assert.Equal(t, before+1, testutil.ToFloat64(missingEntities.WithLabelValues("delete")))
}

func TestReportEvent(t *testing.T) {
	ok := testutil.ToFloat64(busEvents.WithLabelValues("metrics.test", OutcomeOK))
	failed := testutil.ToFloat64(busEvents.WithLabelValues("metrics.test", OutcomeFailed))
	handlers := testutil.ToFloat64(busHandlers.WithLabelValues("metrics.test"))

	ReportEvent("metrics.test", 2, nil)
	ReportEvent("metrics.test", 1, errors.New("boom"))

	assert.Equal(t, ok+1, testutil.ToFloat64(busEvents.WithLabelValues("metrics.test", OutcomeOK)))
	assert.Equal(t, failed+1, testutil.ToFloat64(busEvents.WithLabelValues("metrics.test", OutcomeFailed)))
	assert.Equal(t, handlers+3, testutil.ToFloat64(busHandlers.WithLabelValues("metrics.test")))
}

func TestRegistryGauge(t *testing.T) {
	SetRegistrySize("metrics-test", 3)
	PeerConnected("metrics-test")
	assert.Equal(t, 3.0, testutil.ToFloat64(registryEntities.WithLabelValues("metrics-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(peers.WithLabelValues("metrics-test")))

	ForgetRegistry("metrics-test")
	assert.Equal(t, 0.0, testutil.ToFloat64(registryEntities.WithLabelValues("metrics-test")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	ReportTransaction(true, 3*time.Millisecond)
	ReportDecodeFailure("frame")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "umisync_dispatch_transaction_duration_seconds")
	assert.Contains(t, rec.Body.String(), `umisync_codec_decode_failures_total{stage="frame"}`)
}
