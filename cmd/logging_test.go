package cmd

import (
	"testing"

	"github.com/upak-space/upak-auth/config"

	"github.com/sirupsen/logrus"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	level := logrus.GetLevel()
	formatter := logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetLevel(level)
		logrus.SetFormatter(formatter)
	})
}

func TestConfigureLoggingUsesJSONInProduction(t *testing.T) {
	restoreLogger(t)

	cfg := &config.Config{Env: config.EnvProduction, Log: config.LogConfig{Level: "warn"}}
	if err := configureLogging(cfg); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if logrus.GetLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn level, got %v", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSON formatter, got %T", logrus.StandardLogger().Formatter)
	}
}

func TestConfigureLoggingFormatOverride(t *testing.T) {
	restoreLogger(t)

	cfg := &config.Config{Env: config.EnvProduction, Log: config.LogConfig{Level: "debug", Format: "text"}}
	if err := configureLogging(cfg); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected text formatter, got %T", logrus.StandardLogger().Formatter)
	}
}

func TestConfigureLoggingRejectsInvalidValues(t *testing.T) {
	restoreLogger(t)

	if err := configureLogging(&config.Config{Log: config.LogConfig{Level: "loud"}}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := configureLogging(&config.Config{Log: config.LogConfig{Level: "info", Format: "xml"}}); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}
