// Package sidecar owns the bundled backend process for the lifetime of the
// desktop shell.
//
// A Supervisor resolves the platform specific backend executable, spawns it
// with its standard input held open, and drains its stdout and stderr until
// the streams end. The child's standard input doubles as a liveness channel:
// the backend exits on its own once the pipe is closed, so the Child handle is
// only released by the goroutine that runs the drain loop, after the loop has
// finished or the shell is shutting down.
//
// On Unix the backend runs in its own process group and termination signals
// are delivered to the whole group. On Windows only the direct child is
// interrupted and killed; grandchildren started by the backend may outlive it.
package sidecar
