package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/renameio/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/relaycast/internal/streams"
)

// File names inside the state directory.
const (
	ConfigFileName = "stream.toml"
	StateFileName  = "state.json"
)

// configFile is the on-disk layout of stream.toml.
type configFile struct {
	Version int                `toml:"version"`
	Stream  *streams.RunConfig `toml:"stream"`
}

// FileStore implements streams.Store with one TOML file for the configuration
// and one JSON file for the run state. Both are replaced atomically.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates a store rooted at dir. The directory is created on first write.
func NewFile(dir string) *FileStore {
	if dir == "" {
		dir = "."
	}
	return &FileStore{dir: dir}
}

// Dir returns the state directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// ConfigPath returns the path of stream.toml.
func (s *FileStore) ConfigPath() string {
	return filepath.Join(s.dir, ConfigFileName)
}

// StatePath returns the path of state.json.
func (s *FileStore) StatePath() string {
	return filepath.Join(s.dir, StateFileName)
}

// LoadConfig reads stream.toml. A missing file yields (nil, nil).
func (s *FileStore) LoadConfig() (*streams.RunConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream config: %w", err)
	}

	var file configFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse stream config: %w", err)
	}
	if file.Stream == nil {
		return nil, nil
	}

	file.Stream.Normalize()
	return file.Stream, nil
}

// SaveConfig writes stream.toml.
func (s *FileStore) SaveConfig(cfg *streams.RunConfig) error {
	if cfg == nil {
		return errors.New("nil stream config")
	}

	data, err := toml.Marshal(configFile{Version: 1, Stream: cfg})
	if err != nil {
		return fmt.Errorf("failed to marshal stream config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(s.ConfigPath(), data)
}

// LoadState reads state.json. A missing file yields a stopped record.
func (s *FileStore) LoadState() (*streams.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.StatePath())
	if errors.Is(err, fs.ErrNotExist) {
		return streams.NewRunState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	state := streams.NewRunState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	if state.Status == "" {
		state.Status = streams.StatusStopped
	}
	return state, nil
}

// SaveState writes state.json.
func (s *FileStore) SaveState(state *streams.RunState) error {
	if state == nil {
		return errors.New("nil run state")
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(s.StatePath(), data)
}

func (s *FileStore) write(path string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

var _ streams.Store = (*FileStore)(nil)
