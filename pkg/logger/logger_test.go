package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestFromContextAddsRequestFields(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "json")

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithIdentity(ctx, "user_42")
	FromContext(ctx).Info("post created")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	if line["request_id"] != "req-1" {
		t.Errorf("request_id = %v", line["request_id"])
	}
	if line["identity"] != "user_42" {
		t.Errorf("identity = %v", line["identity"])
	}
	if RequestID(ctx) != "req-1" {
		t.Errorf("RequestID = %q", RequestID(ctx))
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
