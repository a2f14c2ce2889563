package logger

import "gopkg.in/natefinch/lumberjack.v2"

// newRotatingWriter wraps lumberjack so file output rotates by size without
// the engine needing to manage log files itself. Zero values fall back to
// lumberjack's own defaults.
func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
}
