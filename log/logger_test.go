package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/openhrv/types"
)

func TestLogger_ContextFields(t *testing.T) {
	meta := &types.SessionMeta{SessionID: "sess-1", Address: "aa:bb:cc:dd:ee:ff", Transport: "ble"}
	var buf bytes.Buffer
	logger := newLoggerWithWriter(meta, &buf, zapcore.DebugLevel)

	logger.Info("connected", map[string]any{"attempt": 1})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", buf.String(), err)
	}

	if entry["message"] != "connected" {
		t.Errorf("message = %v, want connected", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["session_id"] != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", entry["session_id"])
	}
	if entry["address"] != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("address = %v", entry["address"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestLogger_OmitsUnknownAddress(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithWriter(&types.SessionMeta{SessionID: "s"}, &buf, zapcore.DebugLevel)

	logger.Debug("x", nil)

	if strings.Contains(buf.String(), `"address"`) {
		t.Errorf("address field should be omitted: %s", buf.String())
	}
}

func TestLogger_WithLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerWithWriter(&types.SessionMeta{SessionID: "s"}, &buf, zapcore.DebugLevel).
		WithLevel(zapcore.WarnLevel)

	logger.Info("dropped", nil)
	logger.Warn("kept", nil)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info entry should be filtered: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn entry missing: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Error("ignored", map[string]any{"k": "v"})
	logger.Sugar().Infof("ignored %d", 1)
}
