package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazurov/relaycast/internal/streams"
	"github.com/smazurov/relaycast/internal/streams/store"
	"github.com/smazurov/relaycast/internal/worker"
)

func clearStorageEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"ENDPOINT", "BUCKET", "ACCESS_KEY_ID", "SECRET_ACCESS_KEY"} {
		t.Setenv("STORAGE_"+name, "")
	}
}

func workerOpts() *WorkerOptions {
	return &WorkerOptions{
		Config:     "",
		Media:      "a.mp4",
		RtmpURL:    "rtmp://a.rtmp.youtube.com/live2",
		OnError:    "skip",
		MaxRetries: 3,
		Ffmpeg:     "ffmpeg",
		StreamKey:  "abcd-efgh",
	}
}

func TestRunWorkerExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*WorkerOptions)
	}{
		{"missing stream key", func(o *WorkerOptions) { o.StreamKey = "" }},
		{"empty media", func(o *WorkerOptions) { o.Media = "" }},
		{"malformed playlist", func(o *WorkerOptions) { o.Media = `["a.mp4",` }},
		{"bad policy", func(o *WorkerOptions) { o.OnError = "retry" }},
		{"bad rtmp url", func(o *WorkerOptions) { o.RtmpURL = "http://example.com/live" }},
		{"storage not configured", func(*WorkerOptions) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearStorageEnv(t)
			opts := workerOpts()
			tt.modify(opts)

			var stdout, stderr bytes.Buffer
			code := RunWorker(context.Background(), opts, &stdout, &stderr)

			assert.Equal(t, worker.ExitFailure, code)
			assert.Empty(t, stdout.String(), "nothing may reach the protocol stream before a run")
			assert.NotContains(t, stderr.String(), "abcd-efgh")
		})
	}
}

func TestWorkerCommandHasNoKeyFlag(t *testing.T) {
	c := CreateWorkerCmd()

	assert.Nil(t, c.Flags().Lookup("stream-key"))
	for _, name := range []string{"media", "rtmp-url", "loop", "loop-delay", "playlist-delay", "on-error", "max-retries", "ffmpeg"} {
		assert.NotNil(t, c.Flags().Lookup(name), name)
	}

	delay, err := c.Flags().GetDuration("loop-delay")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, delay)
}

func TestIsPlaylistArg(t *testing.T) {
	assert.True(t, isPlaylistArg(`["a.mp4"]`))
	assert.True(t, isPlaylistArg(`  ["a.mp4"]`))
	assert.False(t, isPlaylistArg("a.mp4"))
	assert.False(t, isPlaylistArg(""))
}

func parseConfigFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("set", pflag.ContinueOnError)
	addConfigFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestConfigSetAndShow(t *testing.T) {
	st := store.NewFile(t.TempDir())

	var out bytes.Buffer
	err := setConfig(&out, st, parseConfigFlags(t, "--playlist", "a.mp4,b.mkv", "--always-on", "--loop", "--playlist-delay", "2"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "always_on = true")

	cfg, err := st.LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, []string{"a.mp4", "b.mkv"}, cfg.Playlist)
	assert.Empty(t, cfg.MediaKey)
	assert.True(t, cfg.Loop)
	assert.True(t, cfg.AlwaysOn)
	assert.Equal(t, 2, cfg.PlaylistDelaySeconds)
	assert.Equal(t, "rtmp://a.rtmp.youtube.com/live2", cfg.RTMPURL, "defaults fill unset fields")

	// A single key replaces the playlist.
	out.Reset()
	require.NoError(t, setConfig(&out, st, parseConfigFlags(t, "--media", "c.mp4")))
	cfg, err = st.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "c.mp4", cfg.MediaKey)
	assert.Empty(t, cfg.Playlist)
	assert.True(t, cfg.AlwaysOn, "untouched fields are kept")

	out.Reset()
	require.NoError(t, showConfig(&out, st))
	assert.Contains(t, out.String(), "media_key")
	assert.Contains(t, out.String(), "c.mp4")
}

func TestConfigSetRejectsInvalid(t *testing.T) {
	st := store.NewFile(t.TempDir())

	err := setConfig(&bytes.Buffer{}, st, parseConfigFlags(t, "--on-error", "retry"))
	require.ErrorIs(t, err, streams.ErrInvalidConfig)

	err = setConfig(&bytes.Buffer{}, st, parseConfigFlags(t, "--duration-hours", "30"))
	require.ErrorIs(t, err, streams.ErrInvalidConfig)

	cfg, err := st.LoadConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg, "invalid changes are not saved")
}

func TestConfigSetNeedsAField(t *testing.T) {
	err := setConfig(&bytes.Buffer{}, store.NewFile(t.TempDir()), parseConfigFlags(t))
	require.ErrorIs(t, err, errNothingToSet)
}

func TestPrintStatus(t *testing.T) {
	st := store.NewFile(t.TempDir())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	started := now.Add(-90 * time.Second)
	pid := 4242

	require.NoError(t, st.SaveState(&streams.RunState{
		Status:    streams.StatusStreaming,
		RunID:     "run-1",
		WorkerPID: &pid,
		StartedAt: &started,
	}))

	var out bytes.Buffer
	require.NoError(t, printStatus(&out, st, now, "active"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "streaming", got["status"])
	assert.Equal(t, "run-1", got["run_id"])
	assert.EqualValues(t, 90, got["uptime_seconds"])
	assert.EqualValues(t, 4242, got["worker_pid"])
	assert.Equal(t, "active", got["service"])
}

func TestPrintStatusWithoutState(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printStatus(&out, store.NewFile(t.TempDir()), time.Now(), ""))

	assert.True(t, strings.Contains(out.String(), `"status": "stopped"`), out.String())
	assert.Contains(t, out.String(), `"uptime_seconds": 0`)
	assert.NotContains(t, out.String(), `"service"`)
}

func TestUnitStateSkipsEmptyUnit(t *testing.T) {
	assert.Empty(t, unitState(context.Background(), ""))
}
