// Package interfaces defines the pluggable backends the export pipeline
// reports to.
package interfaces

import "time"

// MetricsExporter receives operational metrics from an export run.
type MetricsExporter interface {
	// Counter increments a counter metric.
	Counter(name string, value int64, tags map[string]string)

	// Gauge sets a gauge metric to the specified value.
	Gauge(name string, value float64, tags map[string]string)

	// Histogram records a value in a histogram.
	Histogram(name string, value float64, tags map[string]string)

	// Timer records a duration.
	Timer(name string, duration time.Duration, tags map[string]string)

	// Flush sends any buffered metrics to the backend.
	Flush() error

	// Close releases resources.
	Close() error
}

// Metric names emitted by the export pipeline.
const (
	// Catalog stream
	MetricCatalogRows     = "starpack.catalog.rows"
	MetricCatalogBlocks   = "starpack.catalog.blocks"
	MetricCatalogDuration = "starpack.catalog.duration"

	// Reducer
	MetricRecordsKept          = "starpack.reduce.kept"
	MetricRecordsNoDetection   = "starpack.reduce.no_detection"
	MetricRecordsUninformative = "starpack.reduce.uninformative"

	// Pixels and containers
	MetricPixelsWritten    = "starpack.pixels.written"
	MetricPixelsSkipped    = "starpack.pixels.skipped"
	MetricPixelStars       = "starpack.pixels.mean_stars"
	MetricContainersClosed = "starpack.containers.closed"
	MetricUploadDuration   = "starpack.upload.duration"

	// Whole run
	MetricExportDuration = "starpack.export.duration"
)

// Tag names.
const (
	TagScheme = "scheme"
	TagNSide  = "nside"
	TagFile   = "file"
	TagStatus = "status"
)
