// Package config loads the project's agent configuration file and
// resolves it into dev-server configs. The file lives at the project
// root as agentdev.yaml; per-agent environment variables can also come
// from a .env file next to it.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"agentdev/pkg/devserver"
)

// FileName is the project configuration file at the project root.
const FileName = "agentdev.yaml"

// envFileName is the optional environment file merged into every agent's
// environment.
const envFileName = ".env"

// Agent is one agent entry in the project file.
type Agent struct {
	Name       string            `yaml:"name"`
	Entrypoint string            `yaml:"entrypoint"`
	BuildType  string            `yaml:"build_type,omitempty"`
	Dir        string            `yaml:"dir,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
}

// Project is the parsed project configuration.
type Project struct {
	DefaultAgent string  `yaml:"default_agent,omitempty"`
	Agents       []Agent `yaml:"agents"`

	root string
}

// Load reads and validates the project file in dir.
func Load(dir string) (*Project, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	p.root = dir

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

func (p *Project) validate() error {
	if len(p.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}
	seen := make(map[string]bool)
	for i := range p.Agents {
		a := &p.Agents[i]
		if a.Name == "" {
			return fmt.Errorf("agent %d: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("agent %q: duplicate name", a.Name)
		}
		seen[a.Name] = true
		if a.Entrypoint == "" {
			return fmt.Errorf("agent %q: entrypoint is required", a.Name)
		}
		switch a.BuildType {
		case "", string(devserver.BuildTypeCodeZip), string(devserver.BuildTypeContainer):
		default:
			return fmt.Errorf("agent %q: unknown build_type %q", a.Name, a.BuildType)
		}
	}
	if p.DefaultAgent != "" && !seen[p.DefaultAgent] {
		return fmt.Errorf("default_agent %q is not a defined agent", p.DefaultAgent)
	}
	return nil
}

// Agent returns the named agent. An empty name resolves to the default
// agent, or to the only agent when exactly one is defined.
func (p *Project) Agent(name string) (*Agent, error) {
	if name == "" {
		if p.DefaultAgent != "" {
			name = p.DefaultAgent
		} else if len(p.Agents) == 1 {
			return &p.Agents[0], nil
		} else {
			return nil, fmt.Errorf("multiple agents defined, specify one of: %s", p.agentNames())
		}
	}
	for i := range p.Agents {
		if p.Agents[i].Name == name {
			return &p.Agents[i], nil
		}
	}
	return nil, fmt.Errorf("unknown agent %q, defined agents: %s", name, p.agentNames())
}

func (p *Project) agentNames() string {
	names := ""
	for i := range p.Agents {
		if i > 0 {
			names += ", "
		}
		names += p.Agents[i].Name
	}
	return names
}

// DevConfig resolves an agent entry into the dev-server config. The
// agent directory defaults to the project root.
func (p *Project) DevConfig(a *Agent) devserver.Config {
	dir := a.Dir
	if dir == "" {
		dir = p.root
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.root, dir)
	}

	buildType := devserver.BuildType(a.BuildType)
	if buildType == "" {
		buildType = devserver.BuildTypeCodeZip
	}

	return devserver.Config{
		AgentName:  a.Name,
		Entrypoint: a.Entrypoint,
		Dir:        dir,
		BuildType:  buildType,
	}
}

// AgentEnv merges the project .env file (when present) with the agent's
// declared env block. Declared values win over .env values.
func (p *Project) AgentEnv(a *Agent) (map[string]string, error) {
	env := make(map[string]string)

	envPath := filepath.Join(p.root, envFileName)
	if _, err := os.Stat(envPath); err == nil {
		fileEnv, err := godotenv.Read(envPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", envPath, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}

	for k, v := range a.Env {
		env[k] = v
	}
	return env, nil
}
