package logx

import (
	"bytes"
	"strings"
	"testing"
)

// setupTestLogger redirects all loggers into a buffer.
func setupTestLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })
	return &buf
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger(t)

	logger := NewLogger("engine")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, "[engine]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
}

func TestWithProjectPrefix(t *testing.T) {
	buf := setupTestLogger(t)

	logger := NewLogger("engine").WithProject("my-project")
	logger.Warn("conditions not met")

	if !strings.Contains(buf.String(), "WARN: my-project conditions not met") {
		t.Errorf("Expected project prefix, got: %s", buf.String())
	}
}

func TestProgress(t *testing.T) {
	buf := setupTestLogger(t)

	NewLogger("engine").Progress(2, 5, "update-deps", "completed in %d cycles", 3)

	if !strings.Contains(buf.String(), "[2/5] update-deps: completed in 3 cycles") {
		t.Errorf("Unexpected progress line: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger(t)
	SetVerbose(true)
	SetDebugDomains([]string{"claude"})
	t.Cleanup(func() {
		SetVerbose(false)
		SetDebugDomains(nil)
	})

	NewLogger("engine").Debug("hidden")
	NewLogger("claude").Debug("visible")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("Debug for filtered component should be suppressed: %s", output)
	}
	if !strings.Contains(output, "visible") {
		t.Errorf("Debug for enabled component missing: %s", output)
	}
}

func TestDebugDisabled(t *testing.T) {
	buf := setupTestLogger(t)
	SetVerbose(false)

	NewLogger("engine").Debug("nothing")

	if buf.Len() != 0 {
		t.Errorf("Expected no output, got: %s", buf.String())
	}
}
