package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"firestige.xyz/afring/internal/config"
)

func TestParseLevelValid(t *testing.T) {
	tests := []struct {
		input    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"DEBUG", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if err != nil {
				t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestParseLevelInvalid(t *testing.T) {
	for _, input := range []string{"invalid", "trace", "fatal", ""} {
		t.Run(input, func(t *testing.T) {
			if _, err := parseLevel(input); err == nil {
				t.Errorf("parseLevel(%q) should return error, got nil", input)
			}
		})
	}
}

func TestInitStdoutOnly(t *testing.T) {
	if err := Init(config.LogConfig{Level: "info", Format: "json"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if GetLogger() == nil {
		t.Fatal("Expected logger to be set, got nil")
	}
	if GetLogger().IsDebugEnabled() {
		t.Error("Debug should be disabled at info level")
	}
}

func TestInitWithFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 3,
					MaxAgeDays: 7,
				},
			},
		},
	}

	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	GetLogger().WithField("key", "value").Infof("test message")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Log file was not created at %s: %v", logPath, err)
	}
	if !strings.Contains(string(data), "test message") || !strings.Contains(string(data), "key=value") {
		t.Errorf("Unexpected log file content: %s", data)
	}
}

func TestInitWithInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
		want string
	}{
		{"level", config.LogConfig{Level: "invalid", Format: "json"}, "invalid log level"},
		{"format", config.LogConfig{Level: "info", Format: "xml"}, "unsupported log format"},
		{"file path", config.LogConfig{
			Level:   "info",
			Format:  "json",
			Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}},
		}, "path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Init(tt.cfg)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error about %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestJSONFormatWithFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogrus(config.LogConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogrus failed: %v", err)
	}
	logger := &logrusLogger{entry: logrus.NewEntry(l)}

	logger.WithFields(map[string]interface{}{"block": 3, "iface": "eth0"}).
		WithError(errors.New("boom")).
		Warnf("walk failed")

	output := buf.String()
	for _, want := range []string{`"msg":"walk failed"`, `"block":3`, `"iface":"eth0"`, `"error":"boom"`, `"level":"warning"`} {
		if !strings.Contains(output, want) {
			t.Errorf("JSON output %s should contain %s", output, want)
		}
	}
}

func TestWithFieldDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogrus(config.LogConfig{Level: "info", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("newLogrus failed: %v", err)
	}
	base := &logrusLogger{entry: logrus.NewEntry(l)}

	base.WithField("scoped", "yes").Infof("first")
	buf.Reset()
	base.Infof("second")

	if strings.Contains(buf.String(), "scoped") {
		t.Errorf("Field leaked into parent logger: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogrus(config.LogConfig{Level: "warn", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("newLogrus failed: %v", err)
	}
	logger := &logrusLogger{entry: logrus.NewEntry(l)}

	logger.Debugf("debug message")
	logger.Infof("info message")
	logger.Errorf("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("Messages below warn should be filtered: %s", output)
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be present")
	}
}
