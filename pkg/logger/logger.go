// Package logger builds the logger used by the command line tool.
package logger

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLevel is the level used if none is configured.
const DefaultLevel = "info"

// New builds logger writing human-readable records to stderr at level and above.
// Stack traces are attached to fatal records only.
func New(level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(lvl)
	c.Encoding = "console"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := c.Build(
		zap.AddStacktrace(zap.NewAtomicLevelAt(zap.FatalLevel)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build zap logger")
	}
	return log, nil
}

// ParseLevel parses the name of the level. Empty name means DefaultLevel.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		level = DefaultLevel
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid log level %q", level)
	}
	return lvl, nil
}
