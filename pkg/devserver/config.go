package devserver

import (
	"path/filepath"
	"strings"

	"agentdev/pkg/logx"
)

// BuildType selects how the agent is run locally.
type BuildType string

const (
	// BuildTypeCodeZip runs the agent directly on the host through an
	// interpreter (the production artifact is a zipped code bundle).
	BuildTypeCodeZip BuildType = "codezip"

	// BuildTypeContainer runs the agent inside a container image built
	// from the agent's own Dockerfile.
	BuildTypeContainer BuildType = "container"
)

// Config describes the agent to run. It is constructed once per Start and
// consumed read-only by the server and its variant.
type Config struct {
	// AgentName identifies the agent; container and image names are
	// derived from it.
	AgentName string

	// Entrypoint is the agent's entry module, relative to Dir. Either a
	// file path ("src/main.py") or an explicit "module:callable" target.
	Entrypoint string

	// Dir is the agent's project directory.
	Dir string

	// BuildType selects the CodeZip or Container variant.
	BuildType BuildType
}

// IsPython reports whether the entrypoint is a Python target. An explicit
// "module:callable" form is always Python; otherwise the .py suffix
// decides.
func (c Config) IsPython() bool {
	return strings.Contains(c.Entrypoint, ":") || strings.HasSuffix(c.Entrypoint, ".py")
}

// moduleTarget converts a file-path entrypoint into the "module:callable"
// form the reload server expects. An entrypoint that already contains a
// colon is passed through unchanged.
//
//	main.py            -> main:app
//	src/agents/main.py -> src.agents.main:app
//	app.py:handler     -> app.py:handler
func moduleTarget(entrypoint string) string {
	if strings.Contains(entrypoint, ":") {
		return entrypoint
	}
	mod := strings.TrimSuffix(filepath.ToSlash(entrypoint), ".py")
	mod = strings.ReplaceAll(mod, "/", ".")
	return mod + ":app"
}

// SpawnConfig is the exact command to launch the long-running agent
// process. Produced fresh on every Start by the active variant and never
// mutated afterwards.
type SpawnConfig struct {
	// Command is the executable to run.
	Command string

	// Args are the command arguments, not including the command itself.
	Args []string

	// Dir is the working directory for the process.
	Dir string

	// Env holds extra KEY=VALUE entries appended to the host environment.
	Env []string
}

// Options carries per-run settings and the caller's event sinks.
type Options struct {
	// Port is the host port the agent server binds (or is mapped to).
	Port int

	// Env holds user-supplied environment variables for the agent.
	Env map[string]string

	// OnLog receives every classified log event. When nil, events are
	// rendered through the package logger.
	OnLog func(level logx.Level, message string)

	// OnExit fires once, after the process exits or startup is aborted.
	OnExit func(code int)
}
