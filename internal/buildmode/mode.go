// Package buildmode exposes the run mode the binary was compiled for.
//
// Development builds expect the backend to be started by hand, so the shell
// never spawns it. Release builds (compiled with -tags release) own the
// backend for the lifetime of the application. The mode is fixed at compile
// time and has no runtime switch.
package buildmode

// Mode is the deployment profile selected at build time.
type Mode int

const (
	// Development leaves the backend to the developer.
	Development Mode = iota
	// Release spawns and supervises the bundled backend.
	Release
)

// Current is the mode this binary was built with.
const Current = current

func (m Mode) String() string {
	switch m {
	case Development:
		return "development"
	case Release:
		return "release"
	default:
		return "unknown"
	}
}

// Spawns reports whether the shell owns the backend process in this mode.
func (m Mode) Spawns() bool {
	return m == Release
}
