package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "escrowd.log")
	logger, closer := SetupWithOptions("escrowd", "test", Options{Level: "debug", Output: &buf, File: path})
	defer closer.Close()

	logger.Debug("offer settled", slog.Uint64("offer", 7))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	for key, want := range map[string]any{"severity": "DEBUG", "message": "offer settled", "service": "escrowd", "env": "test"} {
		if line[key] != want {
			t.Fatalf("%s = %v, want %v", key, line[key], want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARN") != slog.LevelWarn || ParseLevel("") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("secret", "hunter2").Value.String(); got != RedactedValue {
		t.Fatalf("secret should be masked, got %q", got)
	}
	if got := MaskField("offer", "12").Value.String(); got != "12" {
		t.Fatalf("offer should be allowlisted, got %q", got)
	}
	if got := MaskBearer("Bearer abc.def"); got != "Bearer "+RedactedValue {
		t.Fatalf("unexpected bearer mask %q", got)
	}
}
