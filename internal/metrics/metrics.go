package metrics

import (
	"bytes"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	packageBuildFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packctl_package_build_failed",
			Help: "Number of times a package has failed to build",
		},
		[]string{"package", "error_type"},
	)

	packageBuildCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packctl_package_build_count",
			Help: "Total number of times a package has been built",
		},
	)

	packageBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "packctl_package_build_duration_seconds",
			Help:    "Package build duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 1.5, 2, 5, 10, 30, 60},
		},
		[]string{"package"},
	)
)

func PackageBuildSucceeded(pkg string, start time.Time) {
	packageBuildCount.Inc()
	packageBuildDuration.WithLabelValues(pkg).Observe(time.Since(start).Seconds())
}

func PackageBuildFailed(pkg, errorType string) {
	packageBuildCount.Inc()
	packageBuildFailed.WithLabelValues(pkg, errorType).Inc()
}

// Gather renders the packctl metric families in the Prometheus text
// exposition format. The CLI is a one-shot process, so the run summary is
// logged on completion rather than served on a scrape endpoint.
func Gather() (string, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "packctl_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
