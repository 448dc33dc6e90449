package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
)

func TestNewLogger(t *testing.T) {
	cfg := &config.LoggerConfig{
		Level: config.LogLevelInfo,
	}
	logger := NewLogger(cfg)
	require.NotNil(t, logger)
}

func TestLogLevel_Silent(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.LoggerConfig{
		Level: config.LogLevelSilent,
	}
	logger := NewLoggerWithWriter(cfg, &buf)

	logger.Error("error message")
	logger.Warn("warn message")
	logger.Info("info message")
	logger.Debug("debug message")
	logger.Verbose("verbose message")

	// Silent level should not log anything
	require.Empty(t, buf.String())
}

func TestLogLevel_Error(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.LoggerConfig{
		Level: config.LogLevelError,
	}
	logger := NewLoggerWithWriter(cfg, &buf)

	logger.Error("error message")
	logger.Warn("warn message")
	logger.Info("info message")
	logger.Debug("debug message")
	logger.Verbose("verbose message")

	output := buf.String()
	require.Contains(t, output, "error message")
	require.NotContains(t, output, "warn message")
	require.NotContains(t, output, "info message")
	require.NotContains(t, output, "debug message")
	require.NotContains(t, output, "verbose message")
}

func TestLogLevel_Info(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.LoggerConfig{
		Level: config.LogLevelInfo,
	}
	logger := NewLoggerWithWriter(cfg, &buf)

	logger.Error("error message")
	logger.Warn("warn message")
	logger.Info("info message")
	logger.Debug("debug message")
	logger.Verbose("verbose message")

	output := buf.String()
	require.Contains(t, output, "error message")
	require.Contains(t, output, "warn message")
	require.Contains(t, output, "info message")
	require.NotContains(t, output, "debug message")
	require.NotContains(t, output, "verbose message")
}

func TestLogLevel_Verbose(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.LoggerConfig{
		Level: config.LogLevelVerbose,
	}
	logger := NewLoggerWithWriter(cfg, &buf)

	logger.Error("error message")
	logger.Debug("debug message")
	logger.Verbose("verbose message")

	output := buf.String()
	require.Contains(t, output, "error message")
	require.Contains(t, output, "debug message")
	require.Contains(t, output, "verbose message")
}

func TestFormatArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&config.LoggerConfig{Level: config.LogLevelInfo}, &buf)

	logger.Info("processed %d subjects in batch %d", 5, 2)
	require.Contains(t, buf.String(), "processed 5 subjects in batch 2")
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&config.LoggerConfig{Level: config.LogLevelInfo}, &buf)

	logger.With("subject", "100_V1_MR").Info("staging")
	output := buf.String()
	require.Contains(t, output, "subject=100_V1_MR")
	require.Contains(t, output, "staging")

	// The parent logger is not mutated.
	buf.Reset()
	logger.Info("plain")
	require.NotContains(t, buf.String(), "subject=")
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	logger.Error("ignored")
	require.Equal(t, logger, logger.With("k", "v"))
}
