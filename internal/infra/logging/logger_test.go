package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// setupTestLogger configures a logger with a custom writer for tests
func setupTestLogger(output *bytes.Buffer, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	SetLoggerForTest(zerolog.New(output).With().Timestamp().Logger().Level(lvl))
}

func TestInfoLogging(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "info")

	Info("conversion finished", "size", 42, "ok", true)

	out := buf.String()
	if !strings.Contains(out, "conversion finished") {
		t.Error("Expected log message not found in output")
	}
	if !strings.Contains(out, `"size":42`) || !strings.Contains(out, `"ok":true`) {
		t.Error("Expected key-value pairs not found in output")
	}
}

func TestWarnLogging(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "warn")

	Warn("scratch cleanup failed", "code", 99)

	if !strings.Contains(buf.String(), "scratch cleanup failed") || !strings.Contains(buf.String(), `"code":99`) {
		t.Error("Warn log output missing expected content")
	}
}

func TestErrorLogging_StringifiesErrors(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "error")

	Error("render failed", "error", errors.New("exit status 1"))

	if !strings.Contains(buf.String(), `"error":"exit status 1"`) {
		t.Errorf("expected error value rendered as string, got %s", buf.String())
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "info")

	Debug("hidden")

	if buf.Len() != 0 {
		t.Errorf("expected no debug output, got %s", buf.String())
	}
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "warn")

	SetLogLevel("info")
	Info("should be visible")

	if !strings.Contains(buf.String(), "should be visible") {
		t.Error("Expected info log after SetLogLevel not found")
	}
}

func TestOddKeyValuePairsIgnored(t *testing.T) {
	var buf bytes.Buffer
	setupTestLogger(&buf, "info")

	Info("dangling", "key")
	Info("non-string key", 7, "v")

	if !strings.Contains(buf.String(), "dangling") || strings.Contains(buf.String(), `"key"`) {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestInitLogger_WritesRotatedFileWithInfoFallback(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "pdf2image.log")
	InitLogger(logFile, 1, 1, 1, false, "invalid")
	t.Cleanup(func() { SetLoggerForTest(zerolog.New(os.Stdout)) })

	Debug("not written")
	Info("written to file", "backend", "fitz")
	SetLogLevel("error")
	Warn("suppressed after level change")
	Error("still written", "error", errors.New("boom"))

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"message":"written to file"`) || !strings.Contains(out, `"backend":"fitz"`) {
		t.Errorf("expected info entry in log file, got %s", out)
	}
	if !strings.Contains(out, `"error":"boom"`) {
		t.Errorf("expected error entry in log file, got %s", out)
	}
	if strings.Contains(out, "not written") {
		t.Errorf("invalid level should fall back to info, debug leaked: %s", out)
	}
	if strings.Contains(out, "suppressed after level change") {
		t.Errorf("SetLogLevel did not raise the level: %s", out)
	}
}
