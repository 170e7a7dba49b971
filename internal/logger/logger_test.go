package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func reset() {
	SetVerbose(false)
	SetJSON(false)
	SetOutput(os.Stderr)
}

func TestSetVerbose(t *testing.T) {
	defer reset()

	SetVerbose(false)
	if IsVerbose() {
		t.Error("expected verbose to be false initially")
	}

	SetVerbose(true)
	if !IsVerbose() {
		t.Error("expected verbose to be true after SetVerbose(true)")
	}
}

func TestDebug_WhenVerbose(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)

	Debug("test message %s", "arg")

	if !strings.Contains(buf.String(), "test message arg") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestDebug_WhenNotVerbose(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(false)

	Debug("test message")
	Info("info message")
	Section("hidden")

	if buf.Len() > 0 {
		t.Errorf("expected no output when verbose is disabled, got %q", buf.String())
	}
}

func TestWarn_AlwaysWritten(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)

	Warn("publisher failed: %s", "boom")
	Error("commit failed")

	out := buf.String()
	if !strings.Contains(out, "publisher failed: boom") || !strings.Contains(out, "commit failed") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSection(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)

	Section("Publish")

	if !strings.Contains(buf.String(), "=== Publish ===") {
		t.Errorf("unexpected section output: %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)
	SetJSON(true)

	With("changeSet", "cs-1").Info("published")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "published" || record["changeSet"] != "cs-1" {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestConcurrentAccess(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			SetVerbose(true)
			Debug("concurrent %d", i)
			IsVerbose()
			SetVerbose(false)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestWith_CarriesKeyvals(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)
	SetJSON(true)

	With("method", "GET", "status", 200).Debug("http request")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if record["method"] != "GET" || record["status"] != float64(200) {
		t.Errorf("missing keyvals in %v", record)
	}
}
