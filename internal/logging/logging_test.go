package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", line, err)
	}
	return entry
}

func TestLogVerdict(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogVerdict(7, "abc123", "bedtime", "bedtime")

	entry := decodeLine(t, &buf)
	if entry["message"] != "Access decision" {
		t.Errorf("Expected access decision message, got %v", entry["message"])
	}
	if entry["kid_id"] != float64(7) {
		t.Errorf("Expected kid_id 7, got %v", entry["kid_id"])
	}
	if entry["verdict"] != "bedtime" {
		t.Errorf("Expected verdict bedtime, got %v", entry["verdict"])
	}
}

func TestLogAccrualClampedIsInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	// Unclamped accruals are debug and filtered at info level
	logger.LogAccrual(1, 2, "2024-03-04", 60, 60)
	if buf.Len() != 0 {
		t.Fatalf("Expected no output for unclamped accrual, got %s", buf.String())
	}

	logger.LogAccrual(1, 2, "2024-03-04", 60, 15)
	entry := decodeLine(t, &buf)
	if entry["applied_seconds"] != float64(15) {
		t.Errorf("Expected applied_seconds 15, got %v", entry["applied_seconds"])
	}
	if entry["level"] != "info" {
		t.Errorf("Expected info level, got %v", entry["level"])
	}
}

func TestLogRequestTransition(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug").WithComponent("approval")

	logger.LogRequestTransition(11, 3, "video", "pending", "approved")

	entry := decodeLine(t, &buf)
	if entry["component"] != "approval" {
		t.Errorf("Expected component approval, got %v", entry["component"])
	}
	if entry["to"] != "approved" {
		t.Errorf("Expected to=approved, got %v", entry["to"])
	}
}

func TestLogHTTPRequestServerErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogHTTPRequest("GET", "/api/playback/access", "127.0.0.1", 503, 10*time.Millisecond)

	entry := decodeLine(t, &buf)
	if entry["level"] != "error" {
		t.Errorf("Expected error level for 5xx, got %v", entry["level"])
	}
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info").
		WithRequestID("req-123").
		WithKidID(9).
		WithVideoID("vid").
		WithError(errors.New("boom"))

	logger.Info("hello")

	entry := decodeLine(t, &buf)
	if entry["request_id"] != "req-123" {
		t.Errorf("Expected request_id, got %v", entry["request_id"])
	}
	if entry["kid_id"] != float64(9) {
		t.Errorf("Expected kid_id 9, got %v", entry["kid_id"])
	}
	if entry["error"] != "boom" {
		t.Errorf("Expected error boom, got %v", entry["error"])
	}
}

func TestNop(t *testing.T) {
	// Must not panic
	Nop().WithKidID(1).Info("discarded")
}
