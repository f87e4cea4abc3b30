package devserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeEngine drops an executable shell stub into dir so PATH-based
// detection finds it.
func writeFakeEngine(t *testing.T, dir, name, script string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
}

func TestDetectEngine_ReadyEngineWins(t *testing.T) {
	dir := t.TempDir()
	writeFakeEngine(t, dir, "docker", "exit 0")
	t.Setenv("PATH", dir)

	engine, err := detectEngine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "docker", engine)
}

func TestDetectEngine_BrokenBinaryStillReportedAsInstalled(t *testing.T) {
	dir := t.TempDir()
	// Binary exists but every invocation fails, like a broken install or a
	// CLI whose backing VM cannot even report a version.
	writeFakeEngine(t, dir, "docker", "exit 1")
	t.Setenv("PATH", dir)

	_, err := detectEngine(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker is installed but not ready")
	assert.NotContains(t, err.Error(), "no container engine found")
}

func TestDetectEngine_DaemonDownCarriesHint(t *testing.T) {
	dir := t.TempDir()
	// --version succeeds, info fails: installed but the daemon is down.
	writeFakeEngine(t, dir, "podman", `[ "$1" = "--version" ] && exit 0; exit 1`)
	t.Setenv("PATH", dir)

	_, err := detectEngine(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "podman is installed but not ready")
	assert.Contains(t, err.Error(), "podman machine start")
}

func TestDetectEngine_NoneInstalled(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := detectEngine(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no container engine found")
}
