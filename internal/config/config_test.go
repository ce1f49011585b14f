package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

// testOptions mirrors the shape of the controller and worker options.
type testOptions struct {
	Config string `help:"Config file path"`

	StateDir    string        `toml:"state.dir" env:"STATE_DIR"`
	AlwaysOn    bool          `toml:"stream.always_on" env:"ALWAYS_ON"`
	MaxRetries  int           `toml:"worker.max_retries" env:"MAX_RETRIES"`
	Hours       float64       `toml:"schedule.duration_hours" env:"DURATION_HOURS"`
	LoopDelay   time.Duration `toml:"worker.loop_delay" env:"LOOP_DELAY"`
	Modules     []string      `toml:"logging.modules" env:"MODULES"`
	MetricsAddr string        `toml:"metrics.addr" env:"METRICS_ADDR"`
	Unrelated   string
}

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relaycast.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeTOML(t, `
[state]
dir = "/var/lib/relaycast"

[stream]
always_on = true

[worker]
max_retries = 5
loop_delay = "7s"

[schedule]
duration_hours = 2.5

[logging]
modules = ["supervisor", "worker"]
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.StateDir != "/var/lib/relaycast" {
		t.Errorf("StateDir = %q", opts.StateDir)
	}
	if !opts.AlwaysOn {
		t.Error("AlwaysOn should be true")
	}
	if opts.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", opts.MaxRetries)
	}
	if opts.LoopDelay != 7*time.Second {
		t.Errorf("LoopDelay = %v, want 7s", opts.LoopDelay)
	}
	if opts.Hours != 2.5 {
		t.Errorf("Hours = %v, want 2.5", opts.Hours)
	}
	if !reflect.DeepEqual(opts.Modules, []string{"supervisor", "worker"}) {
		t.Errorf("Modules = %v", opts.Modules)
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("RELAYCAST_STATE_DIR", "/tmp/state")
	t.Setenv("RELAYCAST_ALWAYS_ON", "true")
	t.Setenv("RELAYCAST_MAX_RETRIES", "9")
	t.Setenv("RELAYCAST_DURATION_HOURS", "0.5")
	t.Setenv("RELAYCAST_LOOP_DELAY", "250ms")
	t.Setenv("RELAYCAST_MODULES", "a, b ,c")

	opts := &testOptions{}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := testOptions{
		StateDir:   "/tmp/state",
		AlwaysOn:   true,
		MaxRetries: 9,
		Hours:      0.5,
		LoopDelay:  250 * time.Millisecond,
		Modules:    []string{"a", "b", "c"},
	}
	if !reflect.DeepEqual(*opts, want) {
		t.Errorf("got %+v\nwant %+v", *opts, want)
	}
}

func TestLoadConfigEnvOverridesToml(t *testing.T) {
	path := writeTOML(t, `
[worker]
max_retries = 5

[metrics]
addr = ":9100"
`)
	t.Setenv("RELAYCAST_MAX_RETRIES", "1")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.MaxRetries != 1 {
		t.Errorf("MaxRetries = %d, want env value 1", opts.MaxRetries)
	}
	if opts.MetricsAddr != ":9100" {
		t.Errorf("MetricsAddr = %q, want TOML value", opts.MetricsAddr)
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	path := writeTOML(t, "[worker]\nmax_retries = 5\n")
	t.Setenv("RELAYCAST_MAX_RETRIES", "7")

	opts := &testOptions{Config: path}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&opts.MaxRetries, "max-retries", 3, "")
	if err := cmd.Flags().Parse([]string{"--max-retries", "2"}); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want CLI value 2", opts.MaxRetries)
	}
}

func TestLoadEnvCustomPrefix(t *testing.T) {
	type storageEnv struct {
		Bucket string `env:"BUCKET"`
		UseSSL bool   `env:"USE_SSL"`
		Region string `env:"REGION"`
	}

	t.Setenv("STORAGE_BUCKET", "media")
	t.Setenv("STORAGE_USE_SSL", "false")
	t.Setenv("RELAYCAST_REGION", "ignored")

	cfg := &storageEnv{UseSSL: true, Region: "auto"}
	LoadEnv(cfg, "STORAGE_")

	if cfg.Bucket != "media" || cfg.UseSSL || cfg.Region != "auto" {
		t.Errorf("unexpected result %+v", cfg)
	}
}

func TestLookup(t *testing.T) {
	data := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{
				"value": "nested_value",
			},
			"simple": "simple_value",
		},
		"root": "root_value",
	}

	tests := []struct {
		path     string
		expected any
	}{
		{"root", "root_value"},
		{"level1.simple", "simple_value"},
		{"level1.level2.value", "nested_value"},
		{"nonexistent", nil},
		{"level1.nonexistent", nil},
		{"root.deeper", nil},
	}

	for _, test := range tests {
		result := lookup(data, test.path)
		if result != test.expected {
			t.Errorf("lookup(%q) = %v, expected %v", test.path, result, test.expected)
		}
	}
}

func TestAssignStringIgnoresBadInput(t *testing.T) {
	type target struct {
		IntField   int
		BoolField  bool
		FloatField float64
		Delay      time.Duration
	}

	s := &target{IntField: 4, BoolField: true, FloatField: 1.5, Delay: time.Second}
	v := reflect.ValueOf(s).Elem()

	assignString(v.FieldByName("IntField"), "four")
	assignString(v.FieldByName("BoolField"), "maybe")
	assignString(v.FieldByName("FloatField"), "x")
	assignString(v.FieldByName("Delay"), "soon")

	if s.IntField != 4 || !s.BoolField || s.FloatField != 1.5 || s.Delay != time.Second {
		t.Errorf("bad input changed values: %+v", s)
	}
}

func TestFlagName(t *testing.T) {
	tests := map[string]string{
		"Port":          "port",
		"LoggingLevel":  "logging-level",
		"StateDir":      "state-dir",
		"FfmpegPath":    "ffmpeg-path",
		"MetricsAddr":   "metrics-addr",
		"WorkerRetries": "worker-retries",
	}
	for in, want := range tests {
		if got := flagName(in); got != want {
			t.Errorf("flagName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadConfigQuotedValues(t *testing.T) {
	path := writeTOML(t, `
[worker]
max_retries = "4"
loop_delay = 3

[schedule]
duration_hours = 2
`)

	opts := &testOptions{Config: path, LoopDelay: time.Second}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if opts.MaxRetries != 4 {
		t.Errorf("MaxRetries = %d, want quoted value 4", opts.MaxRetries)
	}
	if opts.LoopDelay != time.Second {
		t.Errorf("LoopDelay = %v, a bare number must not change a duration", opts.LoopDelay)
	}
	if opts.Hours != 2 {
		t.Errorf("Hours = %v, want integer 2 as float", opts.Hours)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "missing.toml")}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for missing file: %v", err)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := writeTOML(t, "[worker\nbroken")
	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err == nil {
		t.Fatal("LoadConfig should fail for invalid TOML")
	}
}

func TestLoadLoggingModuleLevels(t *testing.T) {
	path := writeTOML(t, `
[logging]
level = "warn"
format = "json"
supervisor = "debug"
encoder = "error"
buffer = 512
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("level/format = %q/%q", cfg.Level, cfg.Format)
	}
	want := map[string]string{"supervisor": "debug", "encoder": "error"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("Modules = %v, want %v", cfg.Modules, want)
	}

	defaults := LoadLoggingConfig("")
	if defaults.Level != "info" || defaults.Format != "text" {
		t.Errorf("defaults = %+v", defaults)
	}
}
