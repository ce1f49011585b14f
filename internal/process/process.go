package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/relaycast/internal/logging"
)

// ExitKilled is reported when the process had to be force-killed.
const ExitKilled = 137

// Default shutdown bounds.
const (
	DefaultGracefulTimeout = 10 * time.Second
	DefaultKillTimeout     = 5 * time.Second
)

// maxLineSize bounds a single output line; longer lines end scanning for that stream.
const maxLineSize = 1024 * 1024

var (
	// ErrAlreadyStarted is returned by Start on a second call.
	ErrAlreadyStarted = errors.New("process already started")

	// ErrEmptyCommand is returned by Start when no argv was given.
	ErrEmptyCommand = errors.New("empty command")
)

// Output stream names passed to OutputHandler.
const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"
)

// OutputHandler receives output lines from the subprocess.
// HandleLine is called concurrently for the two streams.
type OutputHandler interface {
	HandleLine(source, line string)
}

// OutputFunc adapts a function to OutputHandler.
type OutputFunc func(source, line string)

// HandleLine calls f.
func (f OutputFunc) HandleLine(source, line string) { f(source, line) }

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (slog.Level, string)

// Process manages the lifecycle of one subprocess.
type Process struct {
	name          string
	args          []string
	env           []string
	logger        logging.Logger
	processLogger *slog.Logger
	logParser     LogParser
	outputHandler OutputHandler

	processGroup    bool
	killWithParent  bool
	stopSignal      syscall.Signal
	gracefulTimeout time.Duration // timeout for graceful shutdown before force kill
	killTimeout     time.Duration // timeout after SIGKILL before giving up

	mu       sync.Mutex
	cmd      *exec.Cmd
	started  bool
	stopping bool
	done     chan struct{}
	exitCode int
	// abandoned is set when the process outlived the post-kill timeout.
	abandoned bool

	stopOnce sync.Once
}

// NewProcess creates a process for argv. Nothing runs until Start.
func NewProcess(name string, args []string, logger logging.Logger) *Process {
	return NewProcessWithOutput(name, args, logger, nil)
}

// NewProcessWithOutput creates a process whose stdout/stderr lines go to handler.
func NewProcessWithOutput(name string, args []string, logger logging.Logger, handler OutputHandler) *Process {
	return &Process{
		name:            name,
		args:            args,
		logger:          logger,
		outputHandler:   handler,
		stopSignal:      syscall.SIGTERM,
		gracefulTimeout: DefaultGracefulTimeout,
		killTimeout:     DefaultKillTimeout,
		done:            make(chan struct{}),
	}
}

// SetEnv adds KEY=VALUE entries on top of the inherited environment.
// Values never appear on the command line.
func (p *Process) SetEnv(env []string) {
	p.env = env
}

// SetProcessGroup makes the child the leader of a new process group.
// Stop then signals the whole group.
func (p *Process) SetProcessGroup(enabled bool) {
	p.processGroup = enabled
}

// SetKillWithParent asks the kernel to SIGKILL the child when the
// spawning thread dies. Linux only; ignored elsewhere.
func (p *Process) SetKillWithParent(enabled bool) {
	p.killWithParent = enabled
}

// SetStopSignal overrides the graceful stop signal.
func (p *Process) SetStopSignal(sig syscall.Signal) {
	p.stopSignal = sig
}

// SetTimeouts overrides the graceful and post-kill timeouts.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	if graceful > 0 {
		p.gracefulTimeout = graceful
	}
	if kill > 0 {
		p.killTimeout = kill
	}
}

// SetLogParser logs every output line to logger at the level the parser extracts.
func (p *Process) SetLogParser(logger *slog.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// Args returns the argv.
func (p *Process) Args() []string {
	return p.args
}

// Start spawns the subprocess. It may be called once.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if len(p.args) == 0 {
		return ErrEmptyCommand
	}

	cmd := exec.Command(p.args[0], p.args[1:]...)
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}
	attr := &syscall.SysProcAttr{Setpgid: p.processGroup}
	if p.killWithParent {
		setParentDeathSignal(attr)
	}
	cmd.SysProcAttr = attr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.name, err)
	}

	p.cmd = cmd
	p.started = true
	p.logger.Debug("Process started", "name", p.name, "pid", cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.streamOutput(stdout, SourceStdout)
	}()
	go func() {
		defer readers.Done()
		p.streamOutput(stderr, SourceStderr)
	}()

	// Readers drain before Wait so the last lines are never lost.
	go func() {
		readers.Wait()
		waitErr := cmd.Wait()
		code := exitCodeFromError(waitErr)
		if waitErr != nil && code == 1 {
			var exitErr *exec.ExitError
			if !errors.As(waitErr, &exitErr) {
				p.logger.Error("Process wait failed", "name", p.name, "error", waitErr)
			}
		}

		p.mu.Lock()
		p.exitCode = code
		p.mu.Unlock()
		close(p.done)
	}()

	return nil
}

// Pid returns the process id, or 0 before Start.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code. Only meaningful after Done is closed.
// A process terminated by signal N reports 128+N.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// StopRequested reports whether Stop has been called.
func (p *Process) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// Wait blocks until the process exits and returns its exit code.
// It returns 0 immediately when the process was never started.
func (p *Process) Wait() int {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return 0
	}
	<-p.done
	return p.ExitCode()
}

// Stop sends the stop signal, waits up to the graceful timeout, then
// force-kills. It returns ExitKilled without waiting further when the
// process is still not reaped after the kill timeout. Safe to call
// repeatedly and before Start.
func (p *Process) Stop() int {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return 0
	}
	p.stopping = true
	p.mu.Unlock()

	p.stopOnce.Do(func() {
		if p.Exited() {
			return
		}
		p.logger.Debug("Stopping process", "name", p.name, "pid", p.Pid(), "signal", p.stopSignal.String())
		if err := p.signal(p.stopSignal); err != nil {
			p.logger.Warn("Failed to send stop signal", "name", p.name, "error", err)
		}
		if !p.waitForExit() {
			p.mu.Lock()
			p.abandoned = true
			p.mu.Unlock()
		}
	})

	p.mu.Lock()
	abandoned := p.abandoned
	p.mu.Unlock()
	if abandoned && !p.Exited() {
		return ExitKilled
	}
	return p.Wait()
}

// signal delivers sig to the process, or to its group when it leads one.
func (p *Process) signal(sig syscall.Signal) error {
	pid := p.Pid()
	if pid <= 0 {
		return nil
	}
	target := pid
	if p.processGroup {
		target = -pid
	}
	if err := syscall.Kill(target, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// waitForExit waits for the process with the graceful timeout, force-killing
// if needed. It reports false when the process is still not done after the
// kill timeout.
func (p *Process) waitForExit() bool {
	timer := time.NewTimer(p.gracefulTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "name", p.name, "timeout", p.gracefulTimeout)
	if err := p.signal(syscall.SIGKILL); err != nil {
		p.logger.Error("Failed to kill process", "name", p.name, "error", err)
	}

	select {
	case <-p.done:
		return true
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "name", p.name)
		return false
	}
}

// exitCodeFromError extracts the exit code from a Wait error.
// Returns 0 for nil, 128+signal for signaled exits, the code for other
// ExitErrors, or 1 for anything else.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}

// streamOutput scans one output stream until EOF.
func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(scanLines())

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		if p.processLogger != nil {
			level, msg := slog.LevelInfo, line
			if p.logParser != nil {
				level, msg = p.logParser(line)
			}
			p.processLogger.Log(context.Background(), level, msg, "source", source)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "name", p.name, "source", source, "error", err)
		// Keep the pipe drained so the child never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, reader)
	}
}
