package sidecar

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/AreTaj/Migraine-Navigator/internal/config"
)

var targetTriples = map[string]string{
	"linux/amd64":   "x86_64-unknown-linux-gnu",
	"linux/arm64":   "aarch64-unknown-linux-gnu",
	"darwin/amd64":  "x86_64-apple-darwin",
	"darwin/arm64":  "aarch64-apple-darwin",
	"windows/amd64": "x86_64-pc-windows-msvc",
	"windows/arm64": "aarch64-pc-windows-msvc",
	"windows/386":   "i686-pc-windows-msvc",
}

// TargetTriple returns the packaging suffix used for sidecar binaries built
// for the given platform.
func TargetTriple(goos, goarch string) (string, error) {
	triple, ok := targetTriples[goos+"/"+goarch]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return triple, nil
}

// Resolver locates the sidecar executable the packager placed next to the
// shell binary.
type Resolver struct {
	Name       string
	Path       string
	SearchDirs []string
	GOOS       string
	GOARCH     string

	executable func() (string, error)
}

// NewResolver builds a resolver for the running platform.
func NewResolver(spec config.SidecarSpec) *Resolver {
	return &Resolver{
		Name:       spec.Name,
		Path:       spec.Path,
		SearchDirs: append([]string(nil), spec.SearchDirs...),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		executable: os.Executable,
	}
}

// Resolve returns the first candidate that exists and is executable.
func (r *Resolver) Resolve() (string, error) {
	if r.Path != "" {
		if err := checkExecutable(r.Path, r.GOOS); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", &NotFoundError{Name: r.Name, SearchedPaths: []string{r.Path}}
			}
			return "", err
		}
		return r.Path, nil
	}

	candidates, err := r.Candidates()
	if err != nil {
		return "", err
	}
	for _, candidate := range candidates {
		err := checkExecutable(candidate, r.GOOS)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", &NotFoundError{Name: r.Name, SearchedPaths: candidates}
}

// Candidates lists the paths Resolve probes, in order. For each search
// directory the triple-suffixed development layout is tried before the bare
// name used inside installed bundles.
func (r *Resolver) Candidates() ([]string, error) {
	triple, err := TargetTriple(r.GOOS, r.GOARCH)
	if err != nil {
		return nil, err
	}
	ext := ""
	if r.GOOS == "windows" {
		ext = ".exe"
	}

	dirs := append([]string(nil), r.SearchDirs...)
	if len(dirs) == 0 {
		exe, err := r.executablePath()
		if err != nil {
			return nil, fmt.Errorf("locate shell executable: %w", err)
		}
		exeDir := filepath.Dir(exe)
		dirs = append(dirs, exeDir)
		if r.GOOS == "darwin" {
			dirs = append(dirs, filepath.Join(exeDir, "..", "Resources"))
		}
	}

	candidates := make([]string, 0, len(dirs)*2)
	for _, dir := range dirs {
		candidates = append(candidates,
			filepath.Join(dir, r.Name+"-"+triple+ext),
			filepath.Join(dir, r.Name+ext),
		)
	}
	return candidates, nil
}

func (r *Resolver) executablePath() (string, error) {
	exe := r.executable
	if exe == nil {
		exe = os.Executable
	}
	path, err := exe()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path, nil
}

func checkExecutable(path, goos string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return &NotExecutableError{Path: path}
	}
	if goos != "windows" && info.Mode().Perm()&0o111 == 0 {
		return &NotExecutableError{Path: path}
	}
	return nil
}
