package devserver

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	"agentdev/pkg/logx"
)

// runStreaming executes a preparation command (venv setup, image build)
// and forwards every output line through the log callback at system
// level, so the developer sees build progress as it happens. Returns the
// command error; a non-nil error includes non-zero exits.
func (s *Server) runStreaming(ctx context.Context, dir string, stdin io.Reader, command string, args ...string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	cmd.Stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	s.logger.Debug("running: %s %s", command, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return err
	}

	forward := func(r io.Reader) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := scanner.Text(); strings.TrimSpace(line) != "" {
				s.emit(logx.LevelSystem, line)
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forward(stdout)
	}()
	go func() {
		defer wg.Done()
		forward(stderr)
	}()
	wg.Wait()

	return cmd.Wait()
}

// runQuiet executes a command discarding its output. Used for cleanup
// steps whose failure is expected and ignorable (removing a container
// that does not exist).
func runQuiet(ctx context.Context, dir, command string, args ...string) error {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// runCapture executes a command and returns its trimmed combined output.
func runCapture(ctx context.Context, dir, command string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
