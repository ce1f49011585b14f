package streams

// Store is the durable key-value store behind the supervisor.
// Writes are atomic: a reader never observes a partially written record.
type Store interface {
	// LoadConfig returns the saved configuration, or nil when none exists.
	LoadConfig() (*RunConfig, error)

	// SaveConfig persists the configuration.
	SaveConfig(cfg *RunConfig) error

	// LoadState returns the saved run state, or a stopped default when none exists.
	LoadState() (*RunState, error)

	// SaveState persists the run state.
	SaveState(state *RunState) error
}
