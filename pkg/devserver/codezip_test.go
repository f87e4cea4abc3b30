package devserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeZipPrepare_FastPathWithExistingVenv(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, venvDir, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, reloadServerPackage), []byte("#!/bin/sh\n"), 0o755))

	s := New(Config{
		AgentName:  "demo",
		Entrypoint: "main.py",
		Dir:        dir,
		BuildType:  BuildTypeCodeZip,
	}, Options{})

	// No python3 invocation should be needed: the venv already carries
	// the reload server executable.
	assert.True(t, s.variant.Prepare(context.Background()))
}
