package sidecar

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetTriple(t *testing.T) {
	cases := map[string]string{
		"linux/amd64":   "x86_64-unknown-linux-gnu",
		"darwin/arm64":  "aarch64-apple-darwin",
		"windows/amd64": "x86_64-pc-windows-msvc",
	}
	for platform, want := range cases {
		goos, goarch, _ := strings.Cut(platform, "/")
		got, err := TargetTriple(goos, goarch)
		require.NoError(t, err, platform)
		assert.Equal(t, want, got, platform)
	}

	_, err := TargetTriple("plan9", "386")
	require.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestCandidatesOrder(t *testing.T) {
	r := &Resolver{
		Name:       "migraine-navigator-api",
		SearchDirs: []string{"/opt/a", "/opt/b"},
		GOOS:       "linux",
		GOARCH:     "amd64",
	}
	got, err := r.Candidates()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("/opt/a", "migraine-navigator-api-x86_64-unknown-linux-gnu"),
		filepath.Join("/opt/a", "migraine-navigator-api"),
		filepath.Join("/opt/b", "migraine-navigator-api-x86_64-unknown-linux-gnu"),
		filepath.Join("/opt/b", "migraine-navigator-api"),
	}, got)
}

func TestCandidatesDefaultsToExecutableDir(t *testing.T) {
	exeDir := filepath.Join(string(filepath.Separator), "Applications", "Navigator.app", "Contents", "MacOS")
	r := &Resolver{
		Name:       "api",
		GOOS:       "darwin",
		GOARCH:     "arm64",
		executable: func() (string, error) { return filepath.Join(exeDir, "navigator"), nil },
	}
	got, err := r.Candidates()
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, filepath.Join(exeDir, "api-aarch64-apple-darwin"), got[0])
	assert.Equal(t, filepath.Join(exeDir, "..", "Resources", "api"), got[3])
}

func TestCandidatesWindowsExtension(t *testing.T) {
	r := &Resolver{Name: "api", SearchDirs: []string{"dir"}, GOOS: "windows", GOARCH: "amd64"}
	got, err := r.Candidates()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("dir", "api-x86_64-pc-windows-msvc.exe"),
		filepath.Join("dir", "api.exe"),
	}, got)
}

func TestResolvePrefersTripleName(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("execute bits are not meaningful on windows")
	}
	dir := t.TempDir()
	triple, err := TargetTriple(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		t.Skipf("no target triple for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	bare := filepath.Join(dir, "api")
	suffixed := filepath.Join(dir, "api-"+triple)
	require.NoError(t, os.WriteFile(bare, nil, 0o755))

	r := &Resolver{Name: "api", SearchDirs: []string{dir}, GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
	got, err := r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, bare, got)

	require.NoError(t, os.WriteFile(suffixed, nil, 0o755))
	got, err = r.Resolve()
	require.NoError(t, err)
	assert.Equal(t, suffixed, got)
}

func TestResolveRejectsNonExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("execute bits are not meaningful on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "api")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	r := &Resolver{Name: "api", SearchDirs: []string{dir}, GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
	_, err := r.Resolve()
	var notExec *NotExecutableError
	require.ErrorAs(t, err, &notExec)
	assert.Equal(t, path, notExec.Path)

	dirCandidate := filepath.Join(t.TempDir(), "api")
	require.NoError(t, os.Mkdir(dirCandidate, 0o755))
	r.SearchDirs = []string{filepath.Dir(dirCandidate)}
	_, err = r.Resolve()
	require.ErrorAs(t, err, &notExec)
}

func TestResolveExplicitPathMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	r := &Resolver{Name: "api", Path: missing, GOOS: runtime.GOOS, GOARCH: runtime.GOARCH}
	_, err := r.Resolve()
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{missing}, notFound.SearchedPaths)
}
