package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AreTaj/Migraine-Navigator/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRegistryExposesMetrics(t *testing.T) {
	metrics.EmitBuildInfo("release")
	metrics.SetSidecarUp(true)
	metrics.SetSidecarReady(true)
	metrics.AddOutputLines("stdout", 3)
	metrics.AddOutputLines("stderr", 0)

	body := scrape(t)
	for _, line := range []string{
		"navigator_sidecar_up 1",
		"navigator_sidecar_ready 1",
		`navigator_sidecar_output_lines_total{stream="stdout"}`,
		"navigator_build_info{",
		`mode="release"`,
		"go_version=",
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected %q in body:\n%s", line, body)
		}
	}
	if strings.Contains(body, `stream="stderr"`) {
		t.Fatalf("zero additions should not create a series:\n%s", body)
	}

	metrics.SetSidecarUp(false)
	if body := scrape(t); !strings.Contains(body, "navigator_sidecar_up 0") {
		t.Fatalf("expected sidecar_up to drop to 0:\n%s", body)
	}
}
