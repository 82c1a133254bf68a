package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "navigator"

var (
	registry = prometheus.NewRegistry()

	sidecarUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sidecar",
		Name:      "up",
		Help:      "Whether the backend process is running (1=running, 0=not running).",
	})

	sidecarReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sidecar",
		Name:      "ready",
		Help:      "Readiness of the backend as reported by the probe (1=ready, 0=not ready).",
	})

	sidecarSpawns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sidecar",
		Name:      "spawns_total",
		Help:      "Total number of backend processes spawned.",
	})

	sidecarRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sidecar",
		Name:      "restarts_total",
		Help:      "Total number of restarts initiated by the restart policy.",
	})

	outputLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sidecar",
		Name:      "output_lines_total",
		Help:      "Lines drained from the backend's output streams.",
	}, []string{"stream"})

	outputDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sidecar",
		Name:      "output_dropped_total",
		Help:      "Drained output lines dropped because the log pipeline was full.",
	})

	probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_latency_seconds",
		Help:      "Latency of readiness probe executions in seconds.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata for the running shell binary.",
	}, []string{"mode", "go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(
		sidecarUp,
		sidecarReady,
		sidecarSpawns,
		sidecarRestarts,
		outputLines,
		outputDropped,
		probeLatency,
		buildInfo,
	)
}

// Registry returns the Prometheus registry containing all shell metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetSidecarUp records whether a backend process is currently alive.
func SetSidecarUp(up bool) {
	sidecarUp.Set(boolValue(up))
}

// SetSidecarReady records the latest probe verdict.
func SetSidecarReady(ready bool) {
	sidecarReady.Set(boolValue(ready))
}

// IncrementSpawns counts a successful spawn.
func IncrementSpawns() {
	sidecarSpawns.Inc()
}

// IncrementRestarts counts a restart scheduled by the restart policy.
func IncrementRestarts() {
	sidecarRestarts.Inc()
}

// AddOutputLines counts drained lines for a stream.
func AddOutputLines(stream string, n int) {
	if n <= 0 {
		return
	}
	if stream == "" {
		stream = "unknown"
	}
	outputLines.WithLabelValues(stream).Add(float64(n))
}

// AddOutputDropped counts lines the log pipeline could not keep up with.
func AddOutputDropped(n int) {
	if n <= 0 {
		return
	}
	outputDropped.Add(float64(n))
}

// ObserveProbeLatency records the latency of a readiness probe.
func ObserveProbeLatency(d time.Duration) {
	probeLatency.Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo(mode string) {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"mode":         mode,
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
