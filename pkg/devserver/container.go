package devserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentdev/pkg/logx"
)

const (
	// containerPort is the fixed port the agent server binds inside the
	// container; the allocated host port is mapped onto it.
	containerPort = 8080

	// containerAppDir is where the agent's source directory is mounted
	// for hot reload.
	containerAppDir = "/app"

	dockerfileName = "Dockerfile"
)

// awsEnvAllowlist lists the credential-related host variables forwarded
// into the container when present. Only the names are forwarded; the
// engine reads the values from the host environment.
var awsEnvAllowlist = []string{
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"AWS_SESSION_TOKEN",
	"AWS_REGION",
	"AWS_DEFAULT_REGION",
	"AWS_PROFILE",
}

// containerVariant builds a two-layer image from the agent's Dockerfile
// and runs it with the source directory bind-mounted so code edits reload
// without a rebuild.
type containerVariant struct {
	s      *Server
	engine string

	// imageUser is the USER of the agent's own image, restored on top of
	// the dev layer after the reload server is installed as root.
	imageUser string
}

func newContainerVariant(s *Server) *containerVariant {
	return &containerVariant{s: s}
}

func (v *containerVariant) containerName() string {
	return "agentdev-" + v.s.cfg.AgentName
}

func (v *containerVariant) baseImage() string {
	return "agentdev-" + v.s.cfg.AgentName + ":base"
}

func (v *containerVariant) devImage() string {
	return "agentdev-" + v.s.cfg.AgentName + ":dev"
}

// Prepare detects a ready container engine, verifies the Dockerfile,
// removes any stale container from a previous ungraceful exit, and builds
// the agent image plus the derived dev image.
func (v *containerVariant) Prepare(ctx context.Context) bool {
	cfg := v.s.cfg

	engine, err := detectEngine(ctx)
	if err != nil {
		v.s.emit(logx.LevelError, err.Error())
		return false
	}
	v.engine = engine
	v.s.logger.Debug("using container engine %q", engine)

	if _, err := os.Stat(filepath.Join(cfg.Dir, dockerfileName)); err != nil {
		v.s.emit(logx.LevelError, fmt.Sprintf(
			"no %s found in %s: container agents require one", dockerfileName, cfg.Dir))
		return false
	}

	// A previous run that died without cleanup leaves a named container
	// holding the port bindings.
	_ = runQuiet(ctx, "", engine, "rm", "-f", v.containerName())

	v.s.emit(logx.LevelInfo, fmt.Sprintf("Building image %s...", v.baseImage()))
	if err := v.s.runStreaming(ctx, cfg.Dir, nil, engine, "build", "-t", v.baseImage(), "."); err != nil {
		v.s.emit(logx.LevelError, fmt.Sprintf("image build failed: %v", err))
		return false
	}

	v.imageUser = v.inspectImageUser(ctx)

	v.s.emit(logx.LevelInfo, "Building dev layer with hot-reload server...")
	dockerfile := devDockerfile(v.baseImage(), v.imageUser)
	if err := v.s.runStreaming(ctx, cfg.Dir, strings.NewReader(dockerfile),
		engine, "build", "-t", v.devImage(), "-f", "-", "."); err != nil {
		v.s.emit(logx.LevelError, fmt.Sprintf("dev layer build failed: %v", err))
		return false
	}

	return true
}

// inspectImageUser reads the USER the base image runs as, so the dev
// layer can restore it after installing packages as root. Empty means the
// image runs as root.
func (v *containerVariant) inspectImageUser(ctx context.Context) string {
	out, err := runCapture(ctx, "", v.engine, "inspect", "--format", "{{.Config.User}}", v.baseImage())
	if err != nil {
		v.s.logger.Debug("could not inspect image user: %v", err)
		return ""
	}
	return out
}

// devDockerfile synthesizes the second-layer Dockerfile passed to the
// build tool on stdin. It adds the reload server as root without touching
// the agent's own Dockerfile, then restores the original runtime user.
func devDockerfile(baseImage, user string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", baseImage)
	b.WriteString("USER root\n")
	fmt.Fprintf(&b, "RUN pip install --no-cache-dir %s\n", reloadServerPackage)
	if user != "" && user != "root" {
		fmt.Fprintf(&b, "USER %s\n", user)
	}
	return b.String()
}

// SpawnConfig runs the dev image: auto-removed on exit, deterministic
// name, entrypoint overridden to the interpreter (bypassing base-image
// wrappers), source bind-mounted read-write for hot reload, credentials
// forwarded, host port mapped to the fixed internal port.
func (v *containerVariant) SpawnConfig() SpawnConfig {
	cfg := v.s.cfg
	opts := v.s.opts

	args := []string{
		"run", "--rm",
		"--name", v.containerName(),
		"--entrypoint", "python3",
		"-v", fmt.Sprintf("%s:%s", cfg.Dir, containerAppDir),
		"-w", containerAppDir,
		"-p", fmt.Sprintf("%d:%d", opts.Port, containerPort),
	}

	for _, name := range awsEnvAllowlist {
		if os.Getenv(name) != "" {
			args = append(args, "-e", name)
		}
	}

	for k, val := range opts.Env {
		args = append(args, "-e", k+"="+val)
	}
	args = append(args,
		"-e", "AGENTDEV_LOCAL=true",
		"-e", fmt.Sprintf("PORT=%d", containerPort),
	)

	if home, err := os.UserHomeDir(); err == nil {
		awsDir := filepath.Join(home, ".aws")
		if _, err := os.Stat(awsDir); err == nil {
			args = append(args, "-v", awsDir+":/root/.aws:ro")
		}
	}

	args = append(args, v.devImage(),
		"-m", reloadServerPackage, moduleTarget(cfg.Entrypoint),
		"--host", "0.0.0.0",
		"--port", fmt.Sprintf("%d", containerPort),
		"--reload",
		"--reload-dir", containerAppDir,
	)

	return SpawnConfig{Command: v.engine, Args: args, Dir: cfg.Dir}
}

// Shutdown stops the named container before the base termination logic
// runs, releasing its port bindings for the next run. The result is
// ignored: the container may already be gone.
func (v *containerVariant) Shutdown() {
	if v.engine == "" {
		return
	}
	_ = runQuiet(context.Background(), "", v.engine, "stop", v.containerName())
}
