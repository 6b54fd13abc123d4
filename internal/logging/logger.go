// Package logging builds the zap logger used across patternbank. Output can
// tee to an OpenTelemetry log provider so records reach the same collector
// as traces and metrics.
package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/workflowlabs/patternbank/internal/config"
)

const otelScopeName = "patternbank"

// New creates a logger from the logging configuration. otelProvider may be
// nil, in which case only stdout output is produced.
func New(cfg config.LoggingConfig, otelProvider log.LoggerProvider) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(os.Stderr), level),
	}

	if otelProvider != nil {
		cores = append(cores, otelzap.NewCore(otelScopeName,
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	return zap.New(core, zap.AddCaller()), nil
}

// parseLevel maps the config level names onto zap levels.
func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level: %q", level)
}

// newEncoder returns a JSON encoder for machine consumption or a console
// encoder for interactive use.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}
