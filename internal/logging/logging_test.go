package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("audio")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("connected", "server", "http://localhost:3001")

	out := buf.String()
	if strings.Contains(out, `msg="INFO connected`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, "msg=connected") {
		t.Fatalf("expected plain connected message, got: %s", out)
	}
	if !strings.Contains(out, "component=audio") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "server=http://localhost:3001") {
		t.Fatalf("expected server field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("audio")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestSwitchableHandlerRetainsGroupsAndAttrsAcrossInit(t *testing.T) {
	logger := L("segment").With(slog.String("subsystem", "runner"))

	var buf bytes.Buffer
	Init("json", "debug", &buf)

	logger.Info("segment started", slog.String(KeySessionID, "sess-1"), slog.String(KeySegmentID, "seg-1"))

	out := buf.String()
	if !strings.Contains(out, `"subsystem":"runner"`) {
		t.Fatalf("expected subsystem attr carried from pre-init logger, got: %s", out)
	}
	if !strings.Contains(out, `"sessionId":"sess-1"`) {
		t.Fatalf("expected sessionId field, got: %s", out)
	}
	if !strings.Contains(out, `"segmentId":"seg-1"`) {
		t.Fatalf("expected segmentId field, got: %s", out)
	}
}

func TestWithSessionAttachesCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger := WithSession(L("finalize"), "sess-2", "seg-3")
	logger.Info("segment finalized")

	out := buf.String()
	if !strings.Contains(out, "sessionId=sess-2") {
		t.Fatalf("expected sessionId field, got: %s", out)
	}
	if !strings.Contains(out, "segmentId=seg-3") {
		t.Fatalf("expected segmentId field, got: %s", out)
	}
}
