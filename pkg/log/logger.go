package log

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the optional rotating log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// New creates a logrus.Logger writing to stderr and, when opts.Path is set, to a rotating file.
// An unknown level keeps Info and is reported through the returned logger.
func New(levelStr string, opts FileOptions) (*logrus.Logger, io.Closer) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	var closer io.Closer = nopCloser{}
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			log.Warnf("Cannot create log directory for '%s': %v. Logging to stderr only.", opts.Path, err)
		} else {
			file := &lumberjack.Logger{
				Filename:   opts.Path,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   opts.Compress,
			}
			log.SetOutput(io.MultiWriter(os.Stderr, file))
			closer = file
		}
	}

	if levelStr != "" {
		level, err := logrus.ParseLevel(levelStr)
		if err != nil {
			log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
		} else {
			log.SetLevel(level)
		}
	}
	return log, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
