package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the manifest name looked up when no path is supplied.
const DefaultFile = "navigator.yaml"

// Load reads a shell manifest from the provided path.
func Load(path string) (*Shell, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	baseDir := filepath.Dir(absPath)
	if doc.Sidecar.Path != "" {
		doc.Sidecar.Path = resolvePath(baseDir, doc.Sidecar.Path)
	}
	if doc.Sidecar.Workdir != "" {
		doc.Sidecar.Workdir = resolvePath(baseDir, doc.Sidecar.Workdir)
	}
	for i, dir := range doc.Sidecar.SearchDirs {
		doc.Sidecar.SearchDirs[i] = resolvePath(baseDir, dir)
	}
	if doc.Logging.Directory != "" {
		doc.Logging.Directory = resolvePath(baseDir, doc.Logging.Directory)
	}
	return doc, nil
}

// LoadOrDefault loads the manifest at path. A missing file at the implicit
// default location is not an error: the built-in defaults apply instead.
func LoadOrDefault(path string, explicit bool) (*Shell, error) {
	if path == "" {
		path = DefaultFile
	}
	doc, err := Load(path)
	if err == nil {
		return doc, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return nil, err
}

// Parse decodes, schema-checks, defaults and validates a manifest.
func Parse(data []byte) (*Shell, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, err
	}

	var doc Shell
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
	}

	for k, v := range doc.Sidecar.Env {
		doc.Sidecar.Env[k] = os.ExpandEnv(v)
	}
	doc.Sidecar.Path = os.ExpandEnv(doc.Sidecar.Path)
	doc.Logging.Directory = os.ExpandEnv(doc.Logging.Directory)

	doc.ApplyDefaults()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ApplyEnv overlays NAVIGATOR_* environment overrides onto the document.
func (s *Shell) ApplyEnv() error {
	if value := os.Getenv("NAVIGATOR_SIDECAR_PATH"); value != "" {
		s.Sidecar.Path = value
	}
	if value := os.Getenv("NAVIGATOR_LOG_DIR"); value != "" {
		s.Logging.Directory = value
	}
	if value := os.Getenv("NAVIGATOR_LOG_LEVEL"); value != "" {
		s.Logging.Level = strings.ToLower(value)
	}
	if value := strings.TrimSpace(os.Getenv("NAVIGATOR_ENABLE_API")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("NAVIGATOR_ENABLE_API: %w", err)
		}
		s.API.Enabled = enabled
	}
	if value := os.Getenv("NAVIGATOR_API_ADDR"); value != "" {
		s.API.Addr = value
	}
	return s.Validate()
}

// LogDir returns the directory backend output is persisted to.
func (s *Shell) LogDir() (string, error) {
	if s.Logging.Directory != "" {
		return s.Logging.Directory, nil
	}
	base, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "logs"), nil
}

// DataDir returns the per-user directory holding shell state.
func DataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir, err = os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("resolve data directory: %w", err)
		}
	}
	return filepath.Join(dir, appDirName), nil
}

// Marshal renders the document as YAML.
func (s *Shell) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(base, path))
}
