package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/AreTaj/Migraine-Navigator/internal/cliutil"
	"github.com/AreTaj/Migraine-Navigator/internal/config"
)

const shellLogName = "shell.log"

// newLogger returns a text logger when w is a terminal and a JSON logger
// otherwise.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if isTerminal(w) {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

// openShellLog creates a JSON logger writing to shell.log next to the
// sidecar log, for use while the window owns the terminal.
func openShellLog(doc *config.Shell, level slog.Level) (*slog.Logger, func() error, error) {
	dir, err := doc.LogDir()
	if err != nil {
		return nil, nil, err
	}
	file, err := cliutil.OpenLogFile(filepath.Join(dir, shellLogName), int64(doc.Logging.MaxFileSize), doc.Logging.MaxFiles)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
	return logger, file.Close, nil
}

// isTerminal reports whether stream is an *os.File attached to a terminal.
func isTerminal(stream any) bool {
	file, ok := stream.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

// supportsInteractiveOutput reports whether the command writes to a terminal
// able to host the window.
func supportsInteractiveOutput(cmd *cobra.Command) bool {
	return isTerminal(cmd.OutOrStdout()) && isTerminal(cmd.InOrStdin())
}
