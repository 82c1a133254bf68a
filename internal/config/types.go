package config

import (
	"fmt"
	"time"
)

const (
	DefaultSidecarName   = "migraine-navigator-api"
	DefaultSidecarPort   = "8000"
	DefaultAPIAddr       = "127.0.0.1:7664"
	DefaultShutdownGrace = 3 * time.Second
	DefaultKillTimeout   = 2 * time.Second
	DefaultLogLevel      = "info"
	DefaultLogFileSize   = 10 << 20
	DefaultLogFiles      = 3

	appDirName = "migraine-navigator"
)

// Restart policy names accepted by sidecar.restart.policy.
const (
	RestartNever     = "never"
	RestartOnFailure = "on-failure"
	RestartAlways    = "always"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Shell mirrors the navigator.yaml document structure.
type Shell struct {
	Sidecar SidecarSpec `yaml:"sidecar"`
	Logging LoggingSpec `yaml:"logging"`
	API     APISpec     `yaml:"api"`
}

// SidecarSpec describes the bundled backend executable and how it is owned.
type SidecarSpec struct {
	Name          string            `yaml:"name"`
	Path          string            `yaml:"path,omitempty"`
	SearchDirs    []string          `yaml:"searchDirs,omitempty"`
	Args          []string          `yaml:"args,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	Workdir       string            `yaml:"workdir,omitempty"`
	Port          string            `yaml:"port"`
	CleanupStale  *bool             `yaml:"cleanupStale,omitempty"`
	ShutdownGrace Duration          `yaml:"shutdownGrace"`
	KillTimeout   Duration          `yaml:"killTimeout"`
	Restart       *RestartPolicy    `yaml:"restart,omitempty"`
	Health        *ProbeSpec        `yaml:"health,omitempty"`
}

// StaleCleanup reports whether leftover backends from earlier runs should be
// terminated before spawning.
func (s *SidecarSpec) StaleCleanup() bool {
	return s.CleanupStale == nil || *s.CleanupStale
}

// RestartPolicy defines what happens after the backend exits on its own.
type RestartPolicy struct {
	Policy     string       `yaml:"policy"`
	MaxRetries int          `yaml:"maxRetries"`
	Backoff    *BackoffSpec `yaml:"backoff,omitempty"`
}

// BackoffSpec describes exponential backoff configuration.
type BackoffSpec struct {
	Min    Duration `yaml:"min"`
	Max    Duration `yaml:"max"`
	Factor float64  `yaml:"factor"`
}

// ProbeSpec configures the readiness probe run against the backend.
type ProbeSpec struct {
	GracePeriod      Duration       `yaml:"gracePeriod"`
	Interval         Duration       `yaml:"interval"`
	Timeout          Duration       `yaml:"timeout"`
	FailureThreshold int            `yaml:"failureThreshold"`
	SuccessThreshold int            `yaml:"successThreshold"`
	HTTP             *HTTPProbeSpec `yaml:"http,omitempty"`
	TCP              *TCPProbeSpec  `yaml:"tcp,omitempty"`
}

// HTTPProbeSpec defines an HTTP probe.
type HTTPProbeSpec struct {
	URL          string `yaml:"url"`
	ExpectStatus []int  `yaml:"expectStatus,omitempty"`
}

// TCPProbeSpec defines a TCP probe.
type TCPProbeSpec struct {
	Address string `yaml:"address"`
}

// LoggingSpec configures where drained backend output is persisted.
type LoggingSpec struct {
	Directory   string   `yaml:"directory"`
	Level       string   `yaml:"level"`
	// MaxFileSize is rounded up to whole megabytes when rotating.
	MaxFileSize ByteSize `yaml:"maxFileSize"`
	// MaxFiles is the number of rotated files kept beside the active one.
	MaxFiles    int      `yaml:"maxFiles"`
}

// APISpec configures the local control API.
type APISpec struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no manifest is present.
func Default() *Shell {
	doc := &Shell{}
	doc.ApplyDefaults()
	return doc
}

// ApplyDefaults fills unset fields with their defaults.
func (s *Shell) ApplyDefaults() {
	sc := &s.Sidecar
	if sc.Name == "" {
		sc.Name = DefaultSidecarName
	}
	if sc.Port == "" {
		sc.Port = DefaultSidecarPort
	}
	if !sc.ShutdownGrace.IsSet() {
		sc.ShutdownGrace = Duration{Duration: DefaultShutdownGrace}
	}
	if !sc.KillTimeout.IsSet() {
		sc.KillTimeout = Duration{Duration: DefaultKillTimeout}
	}
	if sc.Restart == nil {
		sc.Restart = &RestartPolicy{Policy: RestartNever}
	}
	sc.Restart.applyDefaults()
	if sc.Health != nil {
		sc.Health.applyDefaults(sc.Port)
	}

	if s.Logging.Level == "" {
		s.Logging.Level = DefaultLogLevel
	}
	if s.Logging.MaxFileSize == 0 {
		s.Logging.MaxFileSize = DefaultLogFileSize
	}
	if s.Logging.MaxFiles == 0 {
		s.Logging.MaxFiles = DefaultLogFiles
	}
	if s.API.Addr == "" {
		s.API.Addr = DefaultAPIAddr
	}
}

func (r *RestartPolicy) applyDefaults() {
	if r.Policy == "" {
		r.Policy = RestartNever
	}
	if r.Backoff == nil {
		r.Backoff = &BackoffSpec{}
	}
	if !r.Backoff.Min.IsSet() {
		r.Backoff.Min = Duration{Duration: time.Second}
	}
	if !r.Backoff.Max.IsSet() {
		r.Backoff.Max = Duration{Duration: 30 * time.Second}
	}
	if r.Backoff.Factor == 0 {
		r.Backoff.Factor = 2
	}
}

func (p *ProbeSpec) applyDefaults(port string) {
	if p.HTTP == nil && p.TCP == nil {
		p.HTTP = &HTTPProbeSpec{URL: "http://127.0.0.1:" + port + "/"}
	}
	if !p.Interval.IsSet() {
		p.Interval = Duration{Duration: 500 * time.Millisecond}
	}
	if !p.Timeout.IsSet() {
		p.Timeout = Duration{Duration: time.Second}
	}
	if p.SuccessThreshold <= 0 {
		p.SuccessThreshold = 1
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 90
	}
}

// Clone creates a deep copy of the probe configuration.
func (p *ProbeSpec) Clone() *ProbeSpec {
	if p == nil {
		return nil
	}
	cp := *p
	if p.HTTP != nil {
		cp.HTTP = &HTTPProbeSpec{
			URL:          p.HTTP.URL,
			ExpectStatus: append([]int(nil), p.HTTP.ExpectStatus...),
		}
	}
	if p.TCP != nil {
		cp.TCP = &TCPProbeSpec{Address: p.TCP.Address}
	}
	return &cp
}

// Clone creates a deep copy of the restart policy.
func (r *RestartPolicy) Clone() *RestartPolicy {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Backoff != nil {
		backoff := *r.Backoff
		cp.Backoff = &backoff
	}
	return &cp
}
