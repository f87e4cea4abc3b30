// Package devserver runs an agent's HTTP server locally with hot reload,
// either directly on the host (CodeZip) or inside a container built from
// the agent's Dockerfile. It owns exactly one child process per Server
// instance, classifies the process output into log events, and filters
// Python tracebacks down to the developer's own frames.
package devserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"agentdev/pkg/logx"
	"agentdev/pkg/metrics"
)

// State is the lifecycle phase of a Server instance.
type State string

const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateRunning   State = "running"
	StateExited    State = "exited"
	StateKilled    State = "killed"
)

const (
	// killGracePeriod is how long Kill waits after SIGTERM before
	// escalating to SIGKILL.
	killGracePeriod = 2 * time.Second

	// stderrTailSize bounds the rolling stderr buffer kept for crash
	// diagnostics.
	stderrTailSize = 20

	tracebackHeader = "Traceback (most recent call last):"
)

// internalPathFragments mark traceback frames that belong to the runtime
// or framework rather than the developer's code. Frames matching any of
// these are suppressed from emitted tracebacks.
var internalPathFragments = []string{
	"site-packages",
	"<frozen",
	"/multiprocessing/",
	"/asyncio/",
	"/concurrent/",
	"/importlib/",
}

// ErrPrepareFailed is returned by Start when the variant's preparation
// step aborts. Details have already been logged and the exit callback has
// fired with code 1.
var ErrPrepareFailed = errors.New("dev server preparation failed")

// variant is the strategy implemented by the CodeZip and Container run
// modes. Prepare performs mode-specific setup and must not spawn the
// long-running process itself; SpawnConfig returns the exact command to
// launch it. Shutdown runs extra cleanup before the base termination
// logic (the container variant stops its container there).
type variant interface {
	Prepare(ctx context.Context) bool
	SpawnConfig() SpawnConfig
	Shutdown()
}

// Server manages a single local agent process. Instances are single-use:
// construct a new Server for every run.
type Server struct {
	cfg     Config
	opts    Options
	logger  *logx.Logger
	variant variant

	cmd    *exec.Cmd
	done   chan struct{}
	killed atomic.Bool

	killOnce sync.Once
	exitOnce sync.Once

	stateMu sync.Mutex
	state   State

	// stderr diagnostics. Instance-local so concurrent Server instances
	// never interfere.
	outMu      sync.Mutex
	stderrTail []string
	capturing  bool
	traceback  []string

	watcher *restartHintWatcher
}

// New builds a Server for the agent, selecting the run variant from the
// configured build type.
func New(cfg Config, opts Options) *Server {
	s := &Server{
		cfg:    cfg,
		opts:   opts,
		logger: logx.NewLogger("dev:" + cfg.AgentName),
		state:  StateIdle,
		done:   make(chan struct{}),
	}
	switch cfg.BuildType {
	case BuildTypeContainer:
		s.variant = newContainerVariant(s)
	default:
		s.variant = newCodeZipVariant(s)
	}
	return s
}

// State returns the current lifecycle phase.
func (s *Server) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Server) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Start prepares the variant and spawns the agent process. A preparation
// failure fires the exit callback with code 1 and returns
// ErrPrepareFailed without spawning anything. A spawn failure (missing
// executable, permission denied) is reported the same way.
func (s *Server) Start(ctx context.Context) error {
	s.setState(StatePreparing)

	if !s.variant.Prepare(ctx) {
		s.setState(StateExited)
		s.exit(1, metrics.OutcomeCrashed)
		return ErrPrepareFailed
	}

	sc := s.variant.SpawnConfig()
	cmd := exec.Command(sc.Command, sc.Args...)
	cmd.Dir = sc.Dir
	cmd.Env = append(os.Environ(), sc.Env...)

	// stdin stays disconnected; the agent server must not read from it.
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.spawnFailure(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.spawnFailure(err)
	}

	s.logger.Debug("spawning: %s %s (dir=%s)", sc.Command, strings.Join(sc.Args, " "), sc.Dir)
	if err := cmd.Start(); err != nil {
		return s.spawnFailure(err)
	}

	s.cmd = cmd
	s.setState(StateRunning)
	metrics.ServerStarts.Inc()

	s.watcher = newRestartHintWatcher(s)
	s.watcher.start()

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.scanLines(stdout, s.routeStdout)
	}()
	go func() {
		defer readers.Done()
		s.scanLines(stderr, s.routeStderr)
	}()

	go func() {
		// Drain both pipes before Wait so no trailing output is lost.
		readers.Wait()
		waitErr := cmd.Wait()
		close(s.done)
		s.finish(waitErr)
	}()

	return nil
}

func (s *Server) spawnFailure(err error) error {
	s.emit(logx.LevelError, fmt.Sprintf("failed to start agent process: %v", err))
	s.setState(StateExited)
	s.exit(1, metrics.OutcomeCrashed)
	return fmt.Errorf("spawn agent process: %w", err)
}

// Kill tears the agent process down. It is idempotent: a second call is a
// no-op. SIGTERM is sent first; if the process has not exited within the
// grace period a SIGKILL follows.
func (s *Server) Kill() {
	s.killOnce.Do(func() {
		s.killed.Store(true)
		s.variant.Shutdown()
		s.terminate()
	})
}

func (s *Server) terminate() {
	cmd := s.cmd
	if cmd == nil || cmd.Process == nil {
		return
	}

	select {
	case <-s.done:
		return
	default:
	}

	s.logger.Debug("sending SIGTERM to pid %d", cmd.Process.Pid)
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-s.done:
	case <-time.After(killGracePeriod):
		s.logger.Warn("process did not exit within %s, sending SIGKILL", killGracePeriod)
		_ = cmd.Process.Kill()
		select {
		case <-s.done:
		case <-time.After(killGracePeriod):
			s.logger.Error("process did not exit after SIGKILL")
		}
	}
}

// Done is closed once the agent process has exited.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) finish(waitErr error) {
	if s.watcher != nil {
		s.watcher.stop()
	}

	code := 0
	signaled := false
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
			signaled = code < 0
		} else {
			code = 1
		}
	}

	if s.killed.Load() {
		s.setState(StateKilled)
		s.exit(code, metrics.OutcomeKilled)
		return
	}

	s.setState(StateExited)
	outcome := metrics.OutcomeClean
	if code != 0 {
		outcome = metrics.OutcomeCrashed
		// A captured traceback already cleared the tail; whatever is
		// left is crash context the developer has not seen yet.
		if !signaled {
			s.flushStderrTail()
		}
	}
	s.exit(code, outcome)
}

func (s *Server) exit(code int, outcome string) {
	s.exitOnce.Do(func() {
		metrics.ServerExits.WithLabelValues(outcome).Inc()
		if s.opts.OnExit != nil {
			s.opts.OnExit(code)
		}
	})
}

func (s *Server) scanLines(r io.Reader, route func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		route(scanner.Text())
	}
}

func (s *Server) emit(level logx.Level, message string) {
	metrics.LogLines.WithLabelValues(string(level)).Inc()
	if s.opts.OnLog != nil {
		s.opts.OnLog(level, message)
		return
	}
	s.logger.Log(level, "%s", message)
}

// routeStdout forwards non-blank stdout lines as info events.
func (s *Server) routeStdout(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	s.emit(logx.LevelInfo, line)
}

// routeStderr classifies stderr lines, maintains the rolling crash
// buffer, and drives traceback capture.
func (s *Server) routeStderr(line string) {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	if s.capturing {
		s.traceback = append(s.traceback, line)
		if !isTracebackBody(line) {
			// The unindented exception line closes the block.
			s.emitTracebackLocked()
			s.capturing = false
		}
		return
	}

	if strings.HasPrefix(line, tracebackHeader) {
		s.capturing = true
		s.traceback = nil
		return
	}

	s.stderrTail = append(s.stderrTail, line)
	if len(s.stderrTail) > stderrTailSize {
		s.stderrTail = s.stderrTail[len(s.stderrTail)-stderrTailSize:]
	}
	s.emit(classifyStderr(line), line)
}

func classifyStderr(line string) logx.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "warning"):
		return logx.LevelWarn
	case strings.Contains(lower, "error"):
		return logx.LevelError
	default:
		return logx.LevelInfo
	}
}

// isTracebackBody reports whether the line continues a traceback block:
// an indented continuation or a File frame line.
func isTracebackBody(line string) bool {
	if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
		return true
	}
	return isFrameLine(line)
}

func isFrameLine(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), `File "`)
}

func isInternalFrame(line string) bool {
	for _, frag := range internalPathFragments {
		if strings.Contains(line, frag) {
			return true
		}
	}
	return false
}

// emitTracebackLocked emits the captured traceback with framework frames
// removed: each kept File line, its source continuation if present, then
// the final exception line. The rolling stderr buffer is cleared so the
// same lines are not re-emitted on process exit. Caller holds outMu.
func (s *Server) emitTracebackLocked() {
	lines := s.traceback
	s.traceback = nil
	if len(lines) == 0 {
		return
	}

	exception := lines[len(lines)-1]
	frames := lines[:len(lines)-1]

	for i := 0; i < len(frames); i++ {
		if !isFrameLine(frames[i]) {
			continue
		}
		keep := !isInternalFrame(frames[i])
		if keep {
			s.emit(logx.LevelError, frames[i])
		}
		// Attach the source-line continuation to its frame.
		if i+1 < len(frames) && !isFrameLine(frames[i+1]) {
			if keep {
				s.emit(logx.LevelError, frames[i+1])
			}
			i++
		}
	}
	s.emit(logx.LevelError, exception)

	s.stderrTail = nil
}

// flushStderrTail emits every buffered stderr line as an error. Called on
// crash exit so the developer gets context even for failures that were
// not structured as tracebacks.
func (s *Server) flushStderrTail() {
	s.outMu.Lock()
	tail := s.stderrTail
	s.stderrTail = nil
	s.outMu.Unlock()

	for _, line := range tail {
		s.emit(logx.LevelError, line)
	}
}
