// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mossy-p/call-signaling/config"
)

// New returns a logger configured for cfg. Production logs are JSON; other
// environments use the prefixed text formatter. When cfg.Log.File is set
// every entry is also written to that file.
func New(cfg *config.Config, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	logger := logrus.New()
	logger.Out = out
	logger.Level = level
	if cfg.IsProduction() {
		logger.Formatter = &logrus.JSONFormatter{}
	} else {
		logger.Formatter = &prefixed.TextFormatter{FullTimestamp: true}
	}

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		_ = f.Close()
		logger.Hooks.Add(lfshook.NewHook(cfg.Log.File, &logrus.JSONFormatter{}))
	}
	return logger, nil
}

// Component returns an entry tagged with the component prefix.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("prefix", name)
}

// Discard returns a logger that writes nowhere, for tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}
