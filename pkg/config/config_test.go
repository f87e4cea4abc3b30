package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentdev/pkg/devserver"
)

func writeProject(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
	return dir
}

func TestLoad_Valid(t *testing.T) {
	dir := writeProject(t, `
default_agent: chat
agents:
  - name: chat
    entrypoint: src/main.py
    build_type: container
    env:
      MODEL: sonnet
  - name: tools
    entrypoint: tools.py
`)

	p, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, p.Agents, 2)
	assert.Equal(t, "chat", p.DefaultAgent)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no agents", "agents: []"},
		{"missing name", "agents:\n  - entrypoint: main.py"},
		{"missing entrypoint", "agents:\n  - name: a"},
		{"bad build type", "agents:\n  - name: a\n    entrypoint: main.py\n    build_type: lambda"},
		{"duplicate names", "agents:\n  - name: a\n    entrypoint: main.py\n  - name: a\n    entrypoint: other.py"},
		{"unknown default", "default_agent: ghost\nagents:\n  - name: a\n    entrypoint: main.py"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeProject(t, tt.content)
			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestAgent_Resolution(t *testing.T) {
	dir := writeProject(t, `
default_agent: b
agents:
  - name: a
    entrypoint: a.py
  - name: b
    entrypoint: b.py
`)
	p, err := Load(dir)
	require.NoError(t, err)

	byName, err := p.Agent("a")
	require.NoError(t, err)
	assert.Equal(t, "a", byName.Name)

	byDefault, err := p.Agent("")
	require.NoError(t, err)
	assert.Equal(t, "b", byDefault.Name)

	_, err = p.Agent("ghost")
	assert.Error(t, err)
}

func TestAgent_SingleAgentNeedsNoDefault(t *testing.T) {
	dir := writeProject(t, "agents:\n  - name: solo\n    entrypoint: main.py")
	p, err := Load(dir)
	require.NoError(t, err)

	a, err := p.Agent("")
	require.NoError(t, err)
	assert.Equal(t, "solo", a.Name)
}

func TestDevConfig(t *testing.T) {
	dir := writeProject(t, `
agents:
  - name: chat
    entrypoint: src/main.py
    build_type: container
    dir: services/chat
`)
	p, err := Load(dir)
	require.NoError(t, err)

	a, err := p.Agent("chat")
	require.NoError(t, err)

	cfg := p.DevConfig(a)
	assert.Equal(t, "chat", cfg.AgentName)
	assert.Equal(t, devserver.BuildTypeContainer, cfg.BuildType)
	assert.Equal(t, filepath.Join(dir, "services/chat"), cfg.Dir)
}

func TestDevConfig_Defaults(t *testing.T) {
	dir := writeProject(t, "agents:\n  - name: solo\n    entrypoint: main.py")
	p, err := Load(dir)
	require.NoError(t, err)

	a, _ := p.Agent("")
	cfg := p.DevConfig(a)
	assert.Equal(t, devserver.BuildTypeCodeZip, cfg.BuildType)
	assert.Equal(t, dir, cfg.Dir)
}

func TestAgentEnv_MergesDotenv(t *testing.T) {
	dir := writeProject(t, `
agents:
  - name: chat
    entrypoint: main.py
    env:
      SHARED: from-config
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("SHARED=from-dotenv\nONLY_DOTENV=yes\n"), 0o644))

	p, err := Load(dir)
	require.NoError(t, err)
	a, _ := p.Agent("chat")

	env, err := p.AgentEnv(a)
	require.NoError(t, err)
	assert.Equal(t, "from-config", env["SHARED"], "declared env must win over .env")
	assert.Equal(t, "yes", env["ONLY_DOTENV"])
}

func TestAgentEnv_NoDotenv(t *testing.T) {
	dir := writeProject(t, "agents:\n  - name: a\n    entrypoint: main.py")
	p, err := Load(dir)
	require.NoError(t, err)
	a, _ := p.Agent("")

	env, err := p.AgentEnv(a)
	require.NoError(t, err)
	assert.Empty(t, env)
}
