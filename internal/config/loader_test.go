package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFile)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "sidecar:\n  args: [\"--quiet\"]\n")

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if doc.Sidecar.Name != DefaultSidecarName {
		t.Fatalf("expected default sidecar name, got %q", doc.Sidecar.Name)
	}
	if doc.Sidecar.Port != DefaultSidecarPort {
		t.Fatalf("expected default port, got %q", doc.Sidecar.Port)
	}
	if doc.Sidecar.ShutdownGrace.Duration != DefaultShutdownGrace {
		t.Fatalf("expected default shutdown grace, got %s", doc.Sidecar.ShutdownGrace.Duration)
	}
	if doc.Sidecar.Restart == nil || doc.Sidecar.Restart.Policy != RestartNever {
		t.Fatalf("expected restart policy to default to never, got %+v", doc.Sidecar.Restart)
	}
	if !doc.Sidecar.StaleCleanup() {
		t.Fatalf("expected stale cleanup to default to enabled")
	}
	if doc.Sidecar.Health != nil {
		t.Fatalf("expected no health probe unless configured")
	}
	if doc.API.Enabled || doc.API.Addr != DefaultAPIAddr {
		t.Fatalf("unexpected api defaults: %+v", doc.API)
	}
	if len(doc.Sidecar.Args) != 1 || doc.Sidecar.Args[0] != "--quiet" {
		t.Fatalf("expected args to survive decoding, got %v", doc.Sidecar.Args)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
sidecar:
  path: bin/api
  searchDirs: [binaries]
  workdir: data
logging:
  directory: logs
`)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	checks := map[string]string{
		"path":      doc.Sidecar.Path,
		"searchDir": doc.Sidecar.SearchDirs[0],
		"workdir":   doc.Sidecar.Workdir,
		"logs":      doc.Logging.Directory,
	}
	want := map[string]string{
		"path":      filepath.Join(dir, "bin", "api"),
		"searchDir": filepath.Join(dir, "binaries"),
		"workdir":   filepath.Join(dir, "data"),
		"logs":      filepath.Join(dir, "logs"),
	}
	for key, got := range checks {
		if got != want[key] {
			t.Fatalf("%s: expected %q, got %q", key, want[key], got)
		}
	}
}

func TestLoadHealthDefaultsTargetSidecarPort(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
sidecar:
  port: 9100
  health:
    interval: 250ms
`)

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	health := doc.Sidecar.Health
	if health == nil || health.HTTP == nil {
		t.Fatalf("expected http probe default, got %+v", health)
	}
	if health.HTTP.URL != "http://127.0.0.1:9100/" {
		t.Fatalf("unexpected probe url %q", health.HTTP.URL)
	}
	if health.Interval.Duration != 250*time.Millisecond {
		t.Fatalf("expected explicit interval to be kept, got %s", health.Interval.Duration)
	}
	if health.FailureThreshold != 90 || health.SuccessThreshold != 1 {
		t.Fatalf("unexpected thresholds: %+v", health)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "sidecar:\n  binary: api\n")

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected schema validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "sidecar") {
		t.Fatalf("expected error to point at sidecar, got %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")

	doc, err := LoadOrDefault(missing, false)
	if err != nil {
		t.Fatalf("expected implicit missing config to fall back to defaults, got %v", err)
	}
	if doc.Sidecar.Name != DefaultSidecarName {
		t.Fatalf("expected defaults, got %+v", doc.Sidecar)
	}

	_, err = LoadOrDefault(missing, true)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected explicit missing config to fail with ErrNotExist, got %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("NAVIGATOR_SIDECAR_PATH", "/opt/navigator/api")
	t.Setenv("NAVIGATOR_LOG_DIR", "/var/log/navigator")
	t.Setenv("NAVIGATOR_LOG_LEVEL", "DEBUG")
	t.Setenv("NAVIGATOR_ENABLE_API", "true")
	t.Setenv("NAVIGATOR_API_ADDR", "127.0.0.1:9999")

	doc := Default()
	if err := doc.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv returned error: %v", err)
	}
	if doc.Sidecar.Path != "/opt/navigator/api" {
		t.Fatalf("unexpected sidecar path %q", doc.Sidecar.Path)
	}
	if doc.Logging.Directory != "/var/log/navigator" || doc.Logging.Level != "debug" {
		t.Fatalf("unexpected logging %+v", doc.Logging)
	}
	if !doc.API.Enabled || doc.API.Addr != "127.0.0.1:9999" {
		t.Fatalf("unexpected api %+v", doc.API)
	}
}

func TestApplyEnvRejectsInvalidBool(t *testing.T) {
	t.Setenv("NAVIGATOR_ENABLE_API", "sometimes")
	if err := Default().ApplyEnv(); err == nil {
		t.Fatalf("expected invalid NAVIGATOR_ENABLE_API to fail")
	}
}

func TestMarshalRoundTripsThroughParse(t *testing.T) {
	doc := Default()
	doc.Sidecar.Args = []string{"--port", "8000"}
	data, err := doc.Marshal()
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse of marshalled config failed: %v\n%s", err, data)
	}
	if parsed.Sidecar.KillTimeout.Duration != DefaultKillTimeout {
		t.Fatalf("expected kill timeout to survive, got %s", parsed.Sidecar.KillTimeout.Duration)
	}
}
