package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/gitsyncd/internal/watch"
)

func TestRecordCycle(t *testing.T) {
	before := testutil.ToFloat64(cyclesTotal.WithLabelValues(ResultConflict))
	RecordCycle(ResultConflict, 250*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(cyclesTotal.WithLabelValues(ResultConflict)))

	RecordCycle(ResultSuccess, time.Second)
	assert.NotZero(t, testutil.ToFloat64(lastSuccess))
}

func TestRecordPushRetryAndCommit(t *testing.T) {
	retries := testutil.ToFloat64(pushRetriesTotal)
	files := testutil.ToFloat64(filesCommitted)

	RecordPushRetry()
	RecordCommit(3)

	assert.Equal(t, retries+1, testutil.ToFloat64(pushRetriesTotal))
	assert.Equal(t, files+3, testutil.ToFloat64(filesCommitted))
}

func TestDetectorObserver(t *testing.T) {
	var obs watch.Observer = DetectorObserver{}

	before := testutil.ToFloat64(detectorEvents.WithLabelValues("debounced"))
	obs.EventFiltered(watch.Debounced)
	assert.Equal(t, before+1, testutil.ToFloat64(detectorEvents.WithLabelValues("debounced")))

	obs.GraphSize(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(dependencyEdges))

	notified := testutil.ToFloat64(affectedNotifications)
	obs.AffectedNotified(2)
	assert.Equal(t, notified+2, testutil.ToFloat64(affectedNotifications))
}

func TestHandler(t *testing.T) {
	SetEngineState(5)
	RecordWebhook("accepted")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gitsyncd_engine_state 5")
	assert.Contains(t, string(body), `gitsyncd_webhook_requests_total{outcome="accepted"}`)
}
