package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moisa13/file-copy/internal/ledger"
	"github.com/moisa13/file-copy/internal/metrics"
	"github.com/moisa13/file-copy/internal/model"
)

func TestRefreshPopulatesGaugesForRequestedBuckets(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := ledger.New()
	l.Add(1, model.EntryCompleted, 3, 300)
	l.Add(1, model.EntryPending, 2, 200)
	l.Add(2, model.EntryError, 1, 50)

	exporter := metrics.New(reg, l)
	exporter.Refresh([]int64{1, 2})

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawBucket1Completed, sawBucket2Error bool
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if fam.GetName() == "file_replicator_entries" && labels["bucket_id"] == "1" && labels["status"] == "completed" {
				sawBucket1Completed = m.GetGauge().GetValue() == 3
			}
			if fam.GetName() == "file_replicator_entries" && labels["bucket_id"] == "2" && labels["status"] == "error" {
				sawBucket2Error = m.GetGauge().GetValue() == 1
			}
		}
	}

	assert.True(t, sawBucket1Completed, "expected bucket 1 completed gauge to read 3")
	assert.True(t, sawBucket2Error, "expected bucket 2 error gauge to read 1")
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := ledger.New()
	l.Add(1, model.EntryCompleted, 1, 10)

	exporter := metrics.New(reg, l)
	exporter.Refresh([]int64{1})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "file_replicator_entries"))
}
