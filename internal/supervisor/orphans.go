package supervisor

import (
	"errors"
	"path/filepath"
	"syscall"
	"time"

	"github.com/smazurov/relaycast/internal/events"
	"github.com/smazurov/relaycast/internal/streams"
)

// inspector answers process-table questions for orphan handling.
type inspector interface {
	// CmdLine returns the argv of pid, or an error when it is gone.
	CmdLine(pid int) ([]string, error)

	// GroupMembers returns live processes in process group pgid.
	GroupMembers(pgid int) []int

	// Alive reports whether pid exists and is not a zombie.
	Alive(pid int) bool
}

// matchesWorker reports whether argv looks like "<executable> worker ...".
func matchesWorker(argv []string, executable string) bool {
	if len(argv) < 2 || argv[1] != WorkerCommand {
		return false
	}
	return filepath.Base(argv[0]) == filepath.Base(executable)
}

// CleanupOrphans terminates a worker left running by a previous controller
// and resets the persisted state to Stopped. Failures are logged only.
func (s *Supervisor) CleanupOrphans() {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.store.LoadState()
	if err != nil {
		s.logger.Warn("Failed to load run state for orphan cleanup", "error", err)
		return
	}
	if state.WorkerPID == nil && !state.Status.Active() {
		return
	}

	if state.WorkerPID != nil {
		s.cleanupOrphan(*state.WorkerPID)
	}

	oldStatus := state.Status
	now := s.now()
	state.Status = streams.StatusStopped
	state.WorkerPID = nil
	if state.ExitedAt == nil {
		state.ExitedAt = &now
	}
	if err := s.store.SaveState(state); err != nil {
		s.logger.Error("Failed to reset run state", "error", err)
		return
	}
	if oldStatus != state.Status {
		s.publishStatus(&run{id: state.RunID}, oldStatus, state)
	}
}

func (s *Supervisor) cleanupOrphan(pid int) {
	ev := events.OrphanCleanupEvent{PID: pid}
	defer func() {
		ev.Timestamp = s.now()
		s.bus.Publish(ev)
	}()

	argv, err := s.inspector.CmdLine(pid)
	if err != nil {
		s.logger.Info("Previous worker is gone", "pid", pid)
		return
	}

	if !matchesWorker(argv, s.executable()) {
		s.logger.Warn("Process is not a worker, leaving it alone", "pid", pid)
		return
	}

	ev.Matched = true
	s.logger.Warn("Terminating orphaned worker", "pid", pid)
	ev.Terminated = s.terminateGroup(pid, s.opts.OrphanGrace)
	if !ev.Terminated {
		s.logger.Error("Failed to terminate orphaned worker", "pid", pid)
	}
}

// terminateGroup sends SIGTERM to pid's process group, waits up to grace
// and then sends SIGKILL. It reports whether pid is gone afterwards.
func (s *Supervisor) terminateGroup(pid int, grace time.Duration) bool {
	if err := signalGroup(pid, syscall.SIGTERM); err != nil {
		s.logger.Warn("Failed to signal worker group", "pid", pid, "error", err)
	}
	if s.waitGone(pid, grace) {
		return true
	}

	s.logger.Warn("Grace period expired, killing worker group", "pid", pid, "grace", grace)
	if err := signalGroup(pid, syscall.SIGKILL); err != nil {
		s.logger.Warn("Failed to kill worker group", "pid", pid, "error", err)
	}
	return s.waitGone(pid, time.Second)
}

func (s *Supervisor) waitGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !s.inspector.Alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// killLeftovers kills encoder processes still in the worker's process group
// after the worker itself has exited.
func (s *Supervisor) killLeftovers(r *run) {
	if r.pid <= 0 {
		return
	}
	for _, pid := range s.inspector.GroupMembers(r.pid) {
		r.logger.Warn("Killing leftover encoder process", "pid", pid)
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			r.logger.Warn("Failed to kill leftover process", "pid", pid, "error", err)
		}
	}
}

// signalGroup signals the group led by pid, falling back to pid alone when
// it does not lead a group.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
