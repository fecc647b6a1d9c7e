package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Debug("hidden")
	logger.Info("deposit", MaskField("jwt_secret", "s3cr3t"), MaskField("component", "vault"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "deposit" || line["severity"] != "INFO" {
		t.Fatalf("unexpected core keys: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp missing: %v", line)
	}
	if line["jwt_secret"] != RedactedValue {
		t.Fatalf("secret not redacted: %v", line["jwt_secret"])
	}
	if line["component"] != "vault" {
		t.Fatalf("allowlisted key redacted: %v", line["component"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestMaskDSN(t *testing.T) {
	if got := MaskDSN("postgres://user:pw@db:5432/audit"); got != "postgres://"+RedactedValue {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskDSN("audit.db"); got != RedactedValue {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskDSN(" "); got != "" {
		t.Fatalf("empty dsn should stay empty, got %q", got)
	}
}
