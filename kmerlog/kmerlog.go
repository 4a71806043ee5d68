// Package kmerlog is a thin structured-logging wrapper used by build to
// report phase starts and warnings; filter accepts one but does not log.
package kmerlog

import (
	"os"

	"github.com/charmbracelet/log"
)

// Logger is a *log.Logger with the fields build attaches by convention:
// k, volume, phase (and partition on the over-budget warning).
type Logger struct {
	*log.Logger
}

// New returns a Logger writing to os.Stderr at the given level.
func New(level log.Level) *Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	return &Logger{Logger: l}
}

// WithVolume returns a derived Logger tagged with k and volume index.
func (l *Logger) WithVolume(k int, volumeIndex uint16) *Logger {
	return &Logger{Logger: l.Logger.With("k", k, "volume", volumeIndex)}
}

// WithPhase returns a derived Logger tagged with the current build phase.
func (l *Logger) WithPhase(phase string) *Logger {
	return &Logger{Logger: l.Logger.With("phase", phase)}
}

// WithPartition returns a derived Logger tagged with a partition index.
func (l *Logger) WithPartition(partition int) *Logger {
	return &Logger{Logger: l.Logger.With("partition", partition)}
}

// Nop returns a Logger that discards everything, for tests that don't
// want build/filter progress output.
func Nop() *Logger {
	l := log.New(nopWriter{})
	l.SetLevel(log.FatalLevel + 1)
	return &Logger{Logger: l}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
