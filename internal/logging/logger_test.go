package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func resetLogging(t *testing.T) {
	t.Helper()
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetLogging(t)

	var buf bytes.Buffer
	Initialize(Config{
		Level:          "info",
		Format:         "text",
		Writer:         &buf,
		DisableJournal: true,
		Modules: map[string]string{
			"supervisor": "debug",
			"ffmpeg":     "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"supervisor", true, true, true},
		{"ffmpeg", false, false, true},
		{"scheduler", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			ctx := context.Background()

			if got := handler.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := handler.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := handler.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("Warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestWriterReceivesModuleAttribute(t *testing.T) {
	resetLogging(t)

	var buf bytes.Buffer
	Initialize(Config{Level: "debug", Format: "text", Writer: &buf, DisableJournal: true})

	GetLogger("worker").Debug("retrying item", "attempt", 2)

	out := buf.String()
	if !strings.Contains(out, "module=worker") {
		t.Errorf("module attribute missing: %s", out)
	}
	if !strings.Contains(out, "attempt=2") {
		t.Errorf("attempt attribute missing: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	resetLogging(t)

	var buf bytes.Buffer
	Initialize(Config{Level: "info", Format: "json", Writer: &buf, DisableJournal: true})

	GetLogger("store").Info("state saved")

	if !strings.Contains(buf.String(), `"module":"store"`) {
		t.Errorf("expected JSON output, got %s", buf.String())
	}
}

func TestFanoutRespectsHandlerLevels(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(newFanout(debugHandler, infoHandler)).With("run_id", "r1")
	logger.Debug("debug only message")
	logger.Info("both handlers")

	out := buf.String()
	if count := strings.Count(out, "debug only message"); count != 1 {
		t.Errorf("expected 1 debug message, got %d: %s", count, out)
	}
	if count := strings.Count(out, "both handlers"); count != 2 {
		t.Errorf("expected 2 info messages, got %d: %s", count, out)
	}
	if count := strings.Count(out, "run_id=r1"); count != 3 {
		t.Errorf("attrs should reach every handler, got %d: %s", count, out)
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetLogging(t)

	before := GetLogger("scheduler")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger created before Initialize should default to info")
	}

	var buf bytes.Buffer
	Initialize(Config{
		Level:          "info",
		Writer:         &buf,
		DisableJournal: true,
		Modules:        map[string]string{"scheduler": "debug"},
	})

	// The early logger shares the module LevelVar, so the override applies to it too.
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("early logger should observe the module override after Initialize")
	}
}

func TestAddAttrToFieldsSkipsSecrets(t *testing.T) {
	fields := map[string]string{}
	addAttrToFields(fields, slog.String("stream_key", "abcd-efgh"), nil)
	addAttrToFields(fields, slog.Int("pid", 42), []string{"worker"})

	if _, ok := fields["STREAM_KEY"]; ok {
		t.Error("stream_key must not be forwarded to the journal")
	}
	if fields["WORKER_PID"] != "42" {
		t.Errorf("WORKER_PID = %q, want 42", fields["WORKER_PID"])
	}
}
