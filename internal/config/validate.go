package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/docker/go-connections/nat"
)

// Validate checks the defaulted document for semantic errors the schema
// cannot express.
func (s *Shell) Validate() error {
	sc := s.Sidecar
	if strings.TrimSpace(sc.Name) == "" {
		return fmt.Errorf("%s: is required", fieldPath("sidecar", "name"))
	}
	if strings.ContainsAny(sc.Name, `/\`) {
		return fmt.Errorf("%s: must be a bare executable name", fieldPath("sidecar", "name"))
	}
	port, err := nat.ParsePort(sc.Port)
	if err != nil {
		return fmt.Errorf("%s: invalid port %q: %w", fieldPath("sidecar", "port"), sc.Port, err)
	}
	if port <= 0 {
		return fmt.Errorf("%s: must be between 1 and 65535", fieldPath("sidecar", "port"))
	}
	if sc.ShutdownGrace.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("sidecar", "shutdownGrace"))
	}
	if sc.KillTimeout.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("sidecar", "killTimeout"))
	}
	for key := range sc.Env {
		if key == "" || strings.Contains(key, "=") {
			return fmt.Errorf("%s: invalid variable name %q", fieldPath("sidecar", "env"), key)
		}
	}
	if err := validateRestart(sc.Restart); err != nil {
		return err
	}
	if err := validateProbe(sc.Health); err != nil {
		return err
	}

	if s.Logging.MaxFileSize < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("logging", "maxFileSize"))
	}
	if s.Logging.MaxFiles < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("logging", "maxFiles"))
	}
	if _, err := ParseLevel(s.Logging.Level); err != nil {
		return fmt.Errorf("%s: %w", fieldPath("logging", "level"), err)
	}
	if _, _, err := net.SplitHostPort(s.API.Addr); err != nil {
		return fmt.Errorf("%s: %w", fieldPath("api", "addr"), err)
	}
	return nil
}

func validateRestart(rp *RestartPolicy) error {
	if rp == nil {
		return nil
	}
	switch rp.Policy {
	case RestartNever, RestartOnFailure, RestartAlways:
	default:
		return fmt.Errorf("%s: unsupported policy %q", fieldPath("sidecar", "restart", "policy"), rp.Policy)
	}
	if rp.MaxRetries < -1 {
		return fmt.Errorf("%s: must be -1 (unlimited) or greater", fieldPath("sidecar", "restart", "maxRetries"))
	}
	if b := rp.Backoff; b != nil {
		if b.Min.Duration < 0 || b.Max.Duration < 0 {
			return fmt.Errorf("%s: durations must be non-negative", fieldPath("sidecar", "restart", "backoff"))
		}
		if b.Max.Duration > 0 && b.Max.Duration < b.Min.Duration {
			return fmt.Errorf("%s: must be >= min", fieldPath("sidecar", "restart", "backoff", "max"))
		}
		if b.Factor != 0 && b.Factor < 1 {
			return fmt.Errorf("%s: must be >= 1", fieldPath("sidecar", "restart", "backoff", "factor"))
		}
	}
	return nil
}

func validateProbe(p *ProbeSpec) error {
	if p == nil {
		return nil
	}
	if p.HTTP != nil {
		u, err := url.Parse(p.HTTP.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: must be an absolute URL", fieldPath("sidecar", "health", "http", "url"))
		}
		for _, code := range p.HTTP.ExpectStatus {
			if code < 100 || code > 599 {
				return fmt.Errorf("%s: invalid status %d", fieldPath("sidecar", "health", "http", "expectStatus"), code)
			}
		}
	}
	if p.TCP != nil {
		if _, _, err := net.SplitHostPort(p.TCP.Address); err != nil {
			return fmt.Errorf("%s: %w", fieldPath("sidecar", "health", "tcp", "address"), err)
		}
	}
	if p.Interval.Duration < 0 || p.Timeout.Duration < 0 || p.GracePeriod.Duration < 0 {
		return fmt.Errorf("%s: durations must be non-negative", fieldPath("sidecar", "health"))
	}
	return nil
}

// ParseLevel maps a logging.level value onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown level %q", level)
	}
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}
