package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relaynats "github.com/smazurov/relaycast/internal/nats"
	"github.com/smazurov/relaycast/internal/streams"
	"github.com/smazurov/relaycast/internal/supervisor"
)

func fakeWorker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relaycast")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	return New(Config{
		StateDir: t.TempDir(),
		Supervisor: supervisor.Options{
			Executable:     fakeWorker(t, `echo "[ENCODER:ERR] frame=  10 fps= 25 q=28.0 size=  64kB time=00:00:01.00 bitrate=512.0kbits/s speed=1.0x"; exec sleep 30`),
			StreamKey:      "sk-secret",
			HealthInterval: time.Hour,
			StopTimeout:    2 * time.Second,
		},
		TickInterval:    time.Hour,
		ReloadDebounce:  20 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	})
}

func runDaemon(t *testing.T, d *Daemon) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestConfigReloadStartsAlwaysOnWorker(t *testing.T) {
	d := newTestDaemon(t)
	cancel, done := runDaemon(t, d)

	// Give the watcher time to start before writing the config.
	time.Sleep(100 * time.Millisecond)

	cfg := streams.DefaultRunConfig()
	cfg.MediaKey = "a.mp4"
	cfg.AlwaysOn = true
	require.NoError(t, d.Store().SaveConfig(&cfg))

	require.Eventually(t, func() bool {
		state, err := d.Store().LoadState()
		return err == nil && state.Status == streams.StatusStreaming
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, d.Supervisor().Running())

	report, ok := d.Health()
	require.True(t, ok)
	health := report.(HealthReport)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, streams.StatusStreaming, health.Worker)
	assert.True(t, health.Running)
	require.NotNil(t, health.Encoder)
	assert.InDelta(t, 25.0, health.Encoder.FPS, 0.001)

	cancel()
	waitDone(t, done)

	state, err := d.Store().LoadState()
	require.NoError(t, err)
	assert.Equal(t, streams.StatusStopped, state.Status)
	assert.Nil(t, state.WorkerPID)
	assert.False(t, d.Supervisor().Running())
}

func TestRunResetsOrphanedState(t *testing.T) {
	d := newTestDaemon(t)

	pid := 1 << 30
	require.NoError(t, d.Store().SaveState(&streams.RunState{Status: streams.StatusStreaming, WorkerPID: &pid}))

	cancel, done := runDaemon(t, d)
	require.Eventually(t, func() bool {
		state, err := d.Store().LoadState()
		return err == nil && state.Status == streams.StatusStopped && state.WorkerPID == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	waitDone(t, done)
}

func TestHealthWithoutState(t *testing.T) {
	d := newTestDaemon(t)

	report, ok := d.Health()
	require.True(t, ok)
	health := report.(HealthReport)
	assert.Equal(t, streams.StatusStopped, health.Worker)
	assert.False(t, health.Running)
	assert.Zero(t, health.UptimeSeconds)
}

func TestRunWithMetricsServer(t *testing.T) {
	d := New(Config{
		StateDir:        t.TempDir(),
		MetricsAddr:     "127.0.0.1:0",
		TickInterval:    time.Hour,
		ShutdownTimeout: 2 * time.Second,
	})
	cancel, done := runDaemon(t, d)
	time.Sleep(50 * time.Millisecond)
	cancel()
	waitDone(t, done)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartWorkerWithoutMedia(t *testing.T) {
	d := newTestDaemon(t)
	require.ErrorIs(t, d.StartWorker(), streams.ErrNoMedia)
	require.ErrorIs(t, d.StopWorker(), supervisor.ErrNotRunning)
}

func TestControlOverEmbeddedNats(t *testing.T) {
	port := freePort(t)
	d := New(Config{
		StateDir: t.TempDir(),
		Supervisor: supervisor.Options{
			Executable:     fakeWorker(t, `exec sleep 30`),
			StreamKey:      "sk-secret",
			HealthInterval: time.Hour,
			StopTimeout:    2 * time.Second,
		},
		TickInterval:    time.Hour,
		ShutdownTimeout: 2 * time.Second,
		NatsPort:        port,
	})

	cfg := streams.DefaultRunConfig()
	cfg.MediaKey = "a.mp4"
	require.NoError(t, d.Store().SaveConfig(&cfg))

	cancel, done := runDaemon(t, d)
	url := fmt.Sprintf("nats://127.0.0.1:%d", port)

	var reply relaynats.ControlReply
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		var err error
		reply, err = relaynats.Request(ctx, url, relaynats.ActionStart, "test")
		return err == nil
	}, 10*time.Second, 100*time.Millisecond)
	require.True(t, reply.OK, reply.Error)
	assert.Equal(t, "starting", reply.Status)
	assert.NotZero(t, reply.PID)
	assert.True(t, d.Supervisor().Running())

	ctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	reply, err := relaynats.Request(ctx, url, relaynats.ActionStop, "")
	require.NoError(t, err)
	assert.True(t, reply.OK, reply.Error)
	assert.Equal(t, "stopped", reply.Status)

	cancel()
	waitDone(t, done)
}
