package logging

import (
	"io"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the standard logrus logger. It returns the rotating file writer, if any,
// so the caller can close it on shutdown.
func Setup(config Config) io.Closer {
	return configure(logger.StandardLogger(), config, os.Stdout)
}

func configure(l *logger.Logger, config Config, stdout io.Writer) io.Closer {
	level, err := logger.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		level = logger.DebugLevel // fallback seguro
	}
	l.SetLevel(level)

	if strings.EqualFold(config.Format, "json") {
		l.SetFormatter(&logger.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logger.TextFormatter{FullTimestamp: true})
	}

	if config.File == "" {
		l.SetOutput(stdout)
		return nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAgeDays,
		Compress:   config.Compress,
	}
	l.SetOutput(io.MultiWriter(stdout, file))
	return file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
