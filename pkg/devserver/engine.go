package devserver

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// containerEngine describes one supported container runtime CLI and how
// to get it running when it is installed but its daemon/VM is down.
type containerEngine struct {
	binary string
	hint   string
}

// engines is the fixed probe order. The first engine whose binary exists,
// reports a version, and answers `info` is used.
var engines = []containerEngine{
	{binary: "docker", hint: "start Docker Desktop, or `sudo systemctl start docker` on Linux"},
	{binary: "finch", hint: "run `finch vm start`"},
	{binary: "podman", hint: "run `podman machine start`"},
}

const engineProbeTimeout = 10 * time.Second

// detectEngine returns the first ready container engine binary. When
// engines are installed but not ready the error carries a per-engine
// remediation hint; when none are installed it carries an install hint.
func detectEngine(ctx context.Context) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, engineProbeTimeout)
	defer cancel()

	var installed []containerEngine
	for _, eng := range engines {
		if _, err := exec.LookPath(eng.binary); err != nil {
			continue
		}
		// Present on PATH counts as installed even when the probes below
		// fail, so the error names it with a remediation hint instead of
		// claiming no engine exists.
		installed = append(installed, eng)
		if err := runQuiet(probeCtx, "", eng.binary, "--version"); err != nil {
			continue
		}
		if err := runQuiet(probeCtx, "", eng.binary, "info"); err != nil {
			continue
		}
		return eng.binary, nil
	}

	if len(installed) > 0 {
		var hints []string
		for _, eng := range installed {
			hints = append(hints, fmt.Sprintf("%s is installed but not ready: %s", eng.binary, eng.hint))
		}
		return "", fmt.Errorf("no container engine is ready (%s)", strings.Join(hints, "; "))
	}
	return "", fmt.Errorf("no container engine found: install Docker, Finch, or Podman to run container agents")
}
