// Package metrics exposes the stats ledger as Prometheus gauges, so an
// operator can scrape per-bucket queue depth and throughput the same way
// they scrape any other long-running service, without the control plane
// itself being in scope.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moisa13/file-copy/internal/ledger"
	"github.com/moisa13/file-copy/internal/model"
)

// Exporter keeps a set of gauges in sync with a Ledger snapshot on
// demand. It holds no background goroutine of its own and is not a
// prometheus.Collector: the gauges change only when Refresh is called, and
// a scrape reports the values set by the last Refresh.
type Exporter struct {
	ledger *ledger.Ledger

	entryCount *prometheus.GaugeVec
	entrySize  *prometheus.GaugeVec
}

// New registers the exporter's gauges against reg (typically
// prometheus.DefaultRegisterer) and returns an Exporter backed by l.
func New(reg prometheus.Registerer, l *ledger.Ledger) *Exporter {
	factory := promauto.With(reg)

	return &Exporter{
		ledger: l,
		entryCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "file_replicator_entries",
			Help: "Number of queue entries by bucket and status.",
		}, []string{"bucket_id", "status"}),
		entrySize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "file_replicator_entry_bytes",
			Help: "Total byte size of queue entries by bucket and status.",
		}, []string{"bucket_id", "status"}),
	}
}

// Refresh pushes the ledger's current snapshot for bucketIDs into the
// gauges. cmd/replicated calls it periodically from its serve loop; it is
// cheap since the ledger itself is already O(1).
func (e *Exporter) Refresh(bucketIDs []int64) {
	for _, id := range bucketIDs {
		stats := e.ledger.Stats(id)
		for _, status := range []model.EntryStatus{
			model.EntryPending, model.EntryInProgress, model.EntryCompleted, model.EntryError, model.EntryConflict,
		} {
			sc := stats[status]
			labels := prometheus.Labels{"bucket_id": strconv.FormatInt(id, 10), "status": string(status)}
			e.entryCount.With(labels).Set(float64(sc.Count))
			e.entrySize.With(labels).Set(float64(sc.TotalSize))
		}
	}
}

// Handler returns the standard promhttp scrape handler, to be mounted at
// /metrics by whatever HTTP server the operator runs.
func Handler() http.Handler {
	return promhttp.Handler()
}
