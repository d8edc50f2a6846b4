// Package metrics provides Prometheus metrics for import runs.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pcdimport"

// Import holds the counters one import run updates.
//
// Each instance owns its registry so a batch run can dump exactly its own
// series to a textfile, and tests stay isolated.
type Import struct {
	registry *prometheus.Registry

	// DatasetsCreated counts datasets created on the platform.
	DatasetsCreated prometheus.Counter

	// PointcloudsUploaded counts point-cloud files uploaded.
	PointcloudsUploaded prometheus.Counter

	// RelatedImagesUploaded counts photo-context images uploaded.
	RelatedImagesUploaded prometheus.Counter

	// RelatedImageLinks counts image-to-point-cloud links created.
	RelatedImageLinks prometheus.Counter

	// Objects counts annotated objects.
	// Labels: result (created, reused)
	Objects *prometheus.CounterVec

	// FiguresCreated counts figures bound to point clouds.
	FiguresCreated prometheus.Counter

	// OrphanFramesSkipped counts annotation frames with no point cloud.
	OrphanFramesSkipped prometheus.Counter

	// DatasetDuration tracks how long one dataset takes end to end.
	DatasetDuration prometheus.Histogram

	// Runs counts finished runs.
	// Labels: result (success, error)
	Runs *prometheus.CounterVec
}

// NewImport registers the import metrics on a fresh registry.
func NewImport() *Import {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Import{
		registry: reg,
		DatasetsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "datasets_created_total",
			Help:      "Total number of datasets created",
		}),
		PointcloudsUploaded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "pointclouds_uploaded_total",
			Help:      "Total number of point clouds uploaded",
		}),
		RelatedImagesUploaded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "related_images_uploaded_total",
			Help:      "Total number of related photo context images uploaded",
		}),
		RelatedImageLinks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "related_image_links_total",
			Help:      "Total number of related images linked to point clouds",
		}),
		Objects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "objects_total",
			Help:      "Total number of annotated objects by result",
		}, []string{"result"}),
		FiguresCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "figures_created_total",
			Help:      "Total number of figures created",
		}),
		OrphanFramesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "orphan_frames_skipped_total",
			Help:      "Total number of annotation frames skipped because no point cloud maps to them",
		}),
		DatasetDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "dataset_duration_seconds",
			Help:      "Duration of a single dataset import in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Total number of import runs by result",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (m *Import) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun counts a finished run.
func (m *Import) RecordRun(err error) {
	if err != nil {
		m.Runs.WithLabelValues("error").Inc()
		return
	}
	m.Runs.WithLabelValues("success").Inc()
}

// WriteTextfile writes every series to path in the Prometheus text format,
// atomically, for the node_exporter textfile collector.
func (m *Import) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
