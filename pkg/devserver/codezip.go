package devserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"agentdev/pkg/logx"
)

const (
	venvDir = ".venv"

	// reloadServerPackage is the minimal package that provides the
	// hot-reload HTTP server executable. Installed as a fallback when the
	// agent's own dependency file cannot be installed.
	reloadServerPackage = "uvicorn"
)

// codezipVariant runs the agent directly on the host: a uvicorn process
// out of the project's virtual environment for Python agents, a watch
// runner for Node-style entrypoints.
type codezipVariant struct {
	s *Server
}

func newCodeZipVariant(s *Server) *codezipVariant {
	return &codezipVariant{s: s}
}

// Prepare ensures the Python virtual environment exists with the reload
// server installed. Non-Python agents need no setup. Repeated runs take
// the fast path: an existing venv with the uvicorn executable is reused
// as-is.
func (v *codezipVariant) Prepare(ctx context.Context) bool {
	cfg := v.s.cfg
	if !cfg.IsPython() {
		return true
	}

	uvicornBin := filepath.Join(cfg.Dir, venvDir, "bin", reloadServerPackage)
	if _, err := os.Stat(uvicornBin); err == nil {
		v.s.logger.Debug("reusing existing virtual environment at %s", filepath.Join(cfg.Dir, venvDir))
		return true
	}

	v.s.emit(logx.LevelInfo, "Creating virtual environment...")
	if err := v.s.runStreaming(ctx, cfg.Dir, nil, "python3", "-m", "venv", venvDir); err != nil {
		v.s.emit(logx.LevelError, fmt.Sprintf("failed to create virtual environment: %v", err))
		return false
	}

	pip := filepath.Join(cfg.Dir, venvDir, "bin", "pip")
	requirements := filepath.Join(cfg.Dir, "requirements.txt")

	if _, err := os.Stat(requirements); err == nil {
		v.s.emit(logx.LevelInfo, "Installing dependencies from requirements.txt...")
		if err := v.s.runStreaming(ctx, cfg.Dir, nil, pip, "install", "-r", "requirements.txt"); err == nil {
			return true
		}
		v.s.emit(logx.LevelWarn, "dependency install failed, falling back to installing "+reloadServerPackage+" only")
	}

	if err := v.s.runStreaming(ctx, cfg.Dir, nil, pip, "install", reloadServerPackage); err != nil {
		v.s.emit(logx.LevelError, fmt.Sprintf("failed to install %s into the virtual environment: %v", reloadServerPackage, err))
		return false
	}
	return true
}

// SpawnConfig launches the reload server from the venv for Python agents,
// or a watch-mode runner for Node entrypoints.
func (v *codezipVariant) SpawnConfig() SpawnConfig {
	cfg := v.s.cfg
	opts := v.s.opts

	env := make([]string, 0, len(opts.Env)+1)
	for k, val := range opts.Env {
		env = append(env, k+"="+val)
	}

	if cfg.IsPython() {
		return SpawnConfig{
			Command: filepath.Join(cfg.Dir, venvDir, "bin", reloadServerPackage),
			Args: []string{
				moduleTarget(cfg.Entrypoint),
				"--host", "127.0.0.1",
				"--port", fmt.Sprintf("%d", opts.Port),
				"--reload",
			},
			Dir: cfg.Dir,
			Env: env,
		}
	}

	return SpawnConfig{
		Command: "npx",
		Args:    []string{"tsx", "watch", cfg.Entrypoint},
		Dir:     cfg.Dir,
		Env:     append(env, fmt.Sprintf("PORT=%d", opts.Port)),
	}
}

// Shutdown has no extra cleanup: the base termination logic covers the
// host process.
func (v *codezipVariant) Shutdown() {}
