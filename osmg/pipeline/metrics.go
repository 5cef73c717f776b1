package pipeline

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

const namespace = "osmg"

// Metrics collects per-run counters. Each Controller gets its own registry so
// that runs and tests do not share state.
type Metrics struct {
	Registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	SortedRecords *prometheus.CounterVec
	SortBatches   *prometheus.CounterVec
	Elements      *prometheus.CounterVec
	DroppedEdges  prometheus.Counter
	OutputRecords *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		Registry: reg,
		StageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		StageFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Number of stages that ended with an error",
		}, []string{"stage"}),
		SortedRecords: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sorted_records_total",
			Help:      "Records passed through the external sorter, by ordering",
		}, []string{"order"}),
		SortBatches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sort_batches_total",
			Help:      "Sorted batches produced by the external sorter, by ordering",
		}, []string{"order"}),
		Elements: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elements_total",
			Help:      "OSM elements read, by kind",
		}, []string{"kind"}),
		DroppedEdges: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_edges_total",
			Help:      "Edge endpoints that referenced no surviving node",
		}),
		OutputRecords: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_records",
			Help:      "Records in the published files",
		}, []string{"file"}),
	}
}

func (m *Metrics) observeStage(stage string, elapsed time.Duration, err error) {
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// WriteToTextfile dumps the registry in the node exporter textfile format. The
// file is written next to path and renamed into place.
func (m *Metrics) WriteToTextfile(fs afero.Fs, path string) (err error) {
	mfs, err := m.Registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	tmp, err := afero.TempFile(fs, filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = fs.Remove(tmp.Name())
		}
	}()

	for _, mf := range mfs {
		if _, werr := expfmt.MetricFamilyToText(tmp, mf); werr != nil {
			_ = tmp.Close()
			return fmt.Errorf("failed to write metrics: %w", werr)
		}
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	err = multierr.Combine(fs.Chmod(tmp.Name(), 0o644), fs.Rename(tmp.Name(), path))
	return err
}
