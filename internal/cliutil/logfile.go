package cliutil

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const megabyte = 1024 * 1024

// OpenLogFile returns a size-rotated log writer for path. maxBytes is rounded
// up to whole megabytes; maxBackups rotated files are kept next to path,
// with 0 keeping all of them. The file is created immediately so an
// unwritable directory is reported here rather than on the first line.
func OpenLogFile(path string, maxBytes int64, maxBackups int) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	logger := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    megabytes(maxBytes),
		MaxBackups: maxBackups,
		LocalTime:  true,
	}
	if _, err := logger.Write(nil); err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return logger, nil
}

// megabytes converts a byte limit to lumberjack's unit. Zero keeps
// lumberjack's default.
func megabytes(n int64) int {
	if n <= 0 {
		return 0
	}
	return int((n + megabyte - 1) / megabyte)
}
