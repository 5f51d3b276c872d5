// Package process supervises long-running external commands with a fixed
// restart backoff, line-based output hooks and cooperative shutdown. Both
// the transcoder and the tunnel binary run under the same supervisor.
package process

import (
	"bufio"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/wildnest/camgate/internal/errors"
	"github.com/wildnest/camgate/internal/logging"
)

// State is the lifecycle phase of a supervised process.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Crashed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Crashed:
		return "crashed"
	default:
		return "unknown"
	}
}

const (
	// DefaultRestartBackoff is the minimum spacing between consecutive
	// start attempts. Restarts are unbounded in count but never faster.
	DefaultRestartBackoff = 5 * time.Second

	// DefaultGracefulTimeout bounds the wait after SIGTERM before the
	// process is killed. Long enough for output files to finalize.
	DefaultGracefulTimeout = 10 * time.Second
)

// Config describes the command to supervise and its hooks. Hooks are called
// from the supervisor goroutine and must not block.
type Config struct {
	Name string
	Path string
	Args []string
	Dir  string

	RestartBackoff  time.Duration
	GracefulTimeout time.Duration

	// OnStdoutLine/OnStderrLine receive each output line as it arrives.
	OnStdoutLine func(line string)
	OnStderrLine func(line string)

	// OnStart fires at every spawn attempt, OnExit at every unexpected
	// exit with the process error.
	OnStart func()
	OnExit  func(err error)
}

// Supervised runs one external command and restarts it on unexpected exit.
// A deliberate Stop is final: the supervisor loop ends and no restart is
// scheduled.
type Supervised struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	stopping bool
	stopCh   chan struct{}
	loopDone chan struct{}
	procDone chan struct{}
}

// New builds a supervisor for the command described by cfg.
func New(cfg Config) *Supervised {
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = DefaultRestartBackoff
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	return &Supervised{
		cfg:    cfg,
		logger: logging.ForService("process").With("process", cfg.Name),
	}
}

// State returns the current lifecycle phase.
func (s *Supervised) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the running process id, or 0.
func (s *Supervised) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// Start launches the supervisor loop. Calling Start on an already started
// supervisor is an error.
func (s *Supervised) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped || s.loopDone != nil {
		return errors.Newf("process %s already started", s.cfg.Name).
			Component("process").
			Category(errors.CategoryState).
			Context("operation", "start").
			Build()
	}
	s.stopping = false
	s.state = Starting
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.supervise()
	return nil
}

// Stop terminates the process cooperatively: SIGTERM first, kill after the
// graceful timeout. The supervisor loop ends without a restart.
func (s *Supervised) Stop() {
	s.mu.Lock()
	if s.loopDone == nil || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	cmd := s.cmd
	procDone := s.procDone
	loopDone := s.loopDone
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Debug("terminate signal failed", "error", err, "operation", "stop")
		}
		if procDone != nil {
			select {
			case <-procDone:
			case <-time.After(s.cfg.GracefulTimeout):
				s.logger.Warn("process did not exit after terminate signal, killing",
					"operation", "stop")
				_ = cmd.Process.Kill()
			}
		}
	}

	<-loopDone

	s.mu.Lock()
	s.state = Stopped
	s.loopDone = nil
	s.cmd = nil
	s.mu.Unlock()
}

// supervise is the restart loop. Each iteration waits out the backoff
// relative to the previous attempt, spawns, and waits for exit.
func (s *Supervised) supervise() {
	defer close(s.loopDone)

	var lastAttempt time.Time
	for {
		if s.isStopping() {
			return
		}

		if !lastAttempt.IsZero() {
			wait := s.cfg.RestartBackoff - time.Since(lastAttempt)
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-s.stopCh:
					return
				}
			}
			if s.isStopping() {
				return
			}
		}
		lastAttempt = time.Now()

		err := s.runOnce()
		if s.isStopping() {
			return
		}

		s.setState(Crashed)
		if s.cfg.OnExit != nil {
			s.cfg.OnExit(err)
		}
		s.logger.Warn("process exited unexpectedly, restart scheduled",
			"error", err,
			"backoff", s.cfg.RestartBackoff.String(),
			"operation", "supervise")
	}
}

// runOnce spawns the command, wires the output hooks and waits for exit.
func (s *Supervised) runOnce() error {
	cmd := exec.Command(s.cfg.Path, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return spawnError(s.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return spawnError(s.cfg.Name, err)
	}

	if s.cfg.OnStart != nil {
		s.cfg.OnStart()
	}

	if err := cmd.Start(); err != nil {
		return spawnError(s.cfg.Name, err)
	}

	procDone := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.procDone = procDone
	s.state = Running
	s.mu.Unlock()

	s.logger.Info("process started",
		"pid", cmd.Process.Pid,
		"path", s.cfg.Path,
		"operation", "run")

	var lines sync.WaitGroup
	lines.Add(2)
	go func() {
		defer lines.Done()
		scanLines(stdout, s.cfg.OnStdoutLine)
	}()
	go func() {
		defer lines.Done()
		scanLines(stderr, s.cfg.OnStderrLine)
	}()

	lines.Wait()
	waitErr := cmd.Wait()
	close(procDone)

	if waitErr != nil {
		return errors.New(waitErr).
			Component("process").
			Category(errors.CategoryProcessCrash).
			Context("operation", "wait").
			Context("process", s.cfg.Name).
			Build()
	}
	return nil
}

func (s *Supervised) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Supervised) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func scanLines(r io.Reader, hook func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if hook != nil {
			hook(scanner.Text())
		}
	}
}

func spawnError(name string, err error) error {
	return errors.New(err).
		Component("process").
		Category(errors.CategoryProcessSpawn).
		Context("operation", "spawn").
		Context("process", name).
		Build()
}
