package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func testContext() SessionContext {
	return SessionContext{
		SessionID:   "11111111-2222-3333-4444-555555555555",
		Product:     "TestP",
		Application: "TestA",
	}
}

func TestLoggerIncludesSessionContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(testContext()).WithOutput(&buf)

	logger.Info("hello", map[string]any{"k": "v"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["session_id"] != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("session_id = %v", entry["session_id"])
	}
	if entry["product"] != "TestP" {
		t.Errorf("product = %v", entry["product"])
	}
	if entry["application"] != "TestA" {
		t.Errorf("application = %v", entry["application"])
	}
	if entry["message"] != "hello" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLoggerOmitsEmptyApplication(t *testing.T) {
	var buf bytes.Buffer
	sc := testContext()
	sc.Application = ""
	logger := NewLogger(sc).WithOutput(&buf)

	logger.Warn("w", nil)

	if strings.Contains(buf.String(), "application") {
		t.Errorf("empty application should be omitted: %q", buf.String())
	}
}

func TestSugaredLoggerKeyedMethods(t *testing.T) {
	var buf bytes.Buffer
	sugar := NewLogger(testContext()).WithOutput(&buf).Sugar()

	sugar.Warnw("degraded", "path", "/tmp/x.glf", "dropped", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["path"] != "/tmp/x.glf" {
		t.Errorf("path = %v", entry["path"])
	}
	if entry["dropped"] != float64(3) {
		t.Errorf("dropped = %v", entry["dropped"])
	}
}
