package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/wonny/marketdata/pkg/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		wantLevel zerolog.Level
	}{
		{"debug json", &config.Config{Env: "development", LogLevel: "debug", LogFormat: "json"}, zerolog.DebugLevel},
		{"warn console", &config.Config{Env: "production", LogLevel: "warn", LogFormat: "console"}, zerolog.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if New(tt.cfg) == nil {
				t.Fatal("Expected logger to be created")
			}
			if zerolog.GlobalLevel() != tt.wantLevel {
				t.Errorf("Expected global level %v, got %v", tt.wantLevel, zerolog.GlobalLevel())
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"DEBUG", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLogLevel(tt.input); got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestModuleAndNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log := NewWithWriter(&buf, "debug").Module("router")
	log.WithFields(map[string]interface{}{
		"symbol":   "SPY",
		"provider": "yahoo",
	}).Info("Cache hit")

	entry := decodeLine(t, &buf)
	if entry["module"] != "router" {
		t.Errorf("Expected module=router, got %v", entry["module"])
	}
	if entry["symbol"] != "SPY" || entry["provider"] != "yahoo" {
		t.Errorf("Expected symbol and provider fields, got %v", entry)
	}
	if entry["message"] != "Cache hit" || entry["level"] != "info" {
		t.Errorf("Unexpected message or level: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected a timestamp")
	}
}

func TestModuleDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	parent := NewWithWriter(&buf, "info")
	_ = parent.Module("yahoo")
	parent.Info("Market data layer ready")

	if strings.Contains(buf.String(), "module") {
		t.Errorf("Expected parent logger without module field, got %s", buf.String())
	}
}

func TestNewWithWriterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log := NewWithWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered at warn level, got %s", buf.String())
	}
	if log.Enabled(zerolog.InfoLevel) {
		t.Error("Expected info to be disabled at warn level")
	}

	log.Warnf("Provider %s failed, trying next", "alphavantage")
	if !strings.Contains(buf.String(), "alphavantage failed") {
		t.Errorf("Expected formatted warn message, got %s", buf.String())
	}
}

func TestWithDurationAndError(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log := NewWithWriter(&buf, "debug")
	log.WithDuration("elapsed", 1500*time.Millisecond).
		WithError(errors.New("HTTP 503")).
		Error("Fetch failed")

	entry := decodeLine(t, &buf)
	if entry["elapsed"] != float64(1500) {
		t.Errorf("Expected elapsed=1500 (ms), got %v", entry["elapsed"])
	}
	if entry["error"] != "HTTP 503" {
		t.Errorf("Expected error field, got %v", entry["error"])
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	log.WithError(errors.New("ignored")).Error("nothing happens")
	log.Module("cache").Debugf("%d entries", 3)

	if log.Enabled(zerolog.ErrorLevel) {
		t.Error("Expected nop logger to be disabled")
	}
}
