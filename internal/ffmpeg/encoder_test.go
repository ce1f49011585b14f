package ffmpeg

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFFmpeg writes an executable script that ignores its arguments.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

type collected struct {
	mu    sync.Mutex
	lines []string
}

func (c *collected) HandleLine(source, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, source+":"+line)
}

func newTestEncoder(binary string, out *collected) *Encoder {
	e := NewEncoder(Params{
		Binary:    binary,
		InputURL:  "https://storage.example.com/b/a.mp4",
		OutputURL: "rtmp://host/app/key",
		CopyCodec: true,
	}, testLogger(), out)
	e.gracefulTimeout = 200 * time.Millisecond
	return e
}

func TestEncoderSuccess(t *testing.T) {
	out := &collected{}
	bin := fakeFFmpeg(t, `echo "frame=  10 fps= 25 size=  12kB time=00:00:01.00" >&2; exit 0`)
	e := newTestEncoder(bin, out)

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if state, _ := e.Tracker().State(); state != StateStreaming {
		t.Errorf("tracker state = %s, want streaming", state)
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.lines) != 1 || out.lines[0][:7] != "stderr:" {
		t.Errorf("forwarded lines = %v", out.lines)
	}
}

func TestEncoderFailureCarriesDetail(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "Connection to tcp://host:1935 failed: Connection refused" >&2; exit 1`)
	e := newTestEncoder(bin, nil)

	err := e.Run(context.Background())
	var encErr *EncoderError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncoderError, got %v", err)
	}
	if encErr.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", encErr.ExitCode)
	}
	if encErr.Detail != "Connection refused" {
		t.Errorf("detail = %q", encErr.Detail)
	}
}

func TestEncoderCarriageReturnStatsReachStreaming(t *testing.T) {
	out := &collected{}
	bin := fakeFFmpeg(t, `for i in 1 2 3 4 5; do printf '[info] frame=  %d fps= 25 q=-1.0 size=  12kB time=00:00:01.00 bitrate= 100.0kbits/s speed=1x\r' $i >&2; sleep 0.05; done; exec sleep 5`)
	e := newTestEncoder(bin, out)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background()) }()

	forwarded := func() int {
		out.mu.Lock()
		defer out.mu.Unlock()
		return len(out.lines)
	}
	deadline := time.Now().Add(2 * time.Second)
	for forwarded() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := forwarded(); n != 5 {
		t.Errorf("forwarded %d lines, want one per stats update", n)
	}
	if state, _ := e.Tracker().State(); state != StateStreaming {
		t.Errorf("tracker state = %s while encoder runs, want streaming", state)
	}

	e.Stop()
	if err := <-errCh; !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestEncoderFailureAfterLongStatsRun(t *testing.T) {
	// Well over a megabyte of \r-terminated stats before the failure line.
	bin := fakeFFmpeg(t, `yes '[info] frame=  100 fps= 25 q=-1.0 size=    1024kB time=00:00:04.00 bitrate= 100.0kbits/s speed=1x' | head -n 20000 | tr '\n' '\r' >&2
echo "[tcp @ 0x1] Connection to tcp://host:1935 failed: Connection refused" >&2
exit 1`)
	e := newTestEncoder(bin, nil)

	err := e.Run(context.Background())
	var encErr *EncoderError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncoderError, got %v", err)
	}
	if encErr.ExitCode != 1 || encErr.Detail != "Connection refused" {
		t.Errorf("unexpected error %+v", encErr)
	}
	if state, _ := e.Tracker().State(); state != StateFailed {
		t.Errorf("tracker state = %s, want failed", state)
	}
}

func TestEncoderFailureFallsBackToLastLine(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "something odd happened" >&2; exit 8`)
	e := newTestEncoder(bin, nil)

	err := e.Run(context.Background())
	var encErr *EncoderError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncoderError, got %v", err)
	}
	if encErr.ExitCode != 8 || encErr.Detail != "something odd happened" {
		t.Errorf("unexpected error %+v", encErr)
	}
}

func TestEncoderContextCancel(t *testing.T) {
	bin := fakeFFmpeg(t, `while :; do sleep 0.05; done`)
	e := newTestEncoder(bin, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := e.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancel took %v", elapsed)
	}
}

func TestEncoderStop(t *testing.T) {
	bin := fakeFFmpeg(t, `trap 'exit 255' TERM; while :; do sleep 0.05; done`)
	e := newTestEncoder(bin, nil)

	// No-op before running.
	e.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background()) }()
	time.Sleep(150 * time.Millisecond)
	e.Stop()
	e.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestEncoderMissingBinary(t *testing.T) {
	e := newTestEncoder("/nonexistent/ffmpeg", nil)
	err := e.Run(context.Background())
	var encErr *EncoderError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncoderError, got %v", err)
	}
}
