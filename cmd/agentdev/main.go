// Command agentdev runs an AI agent locally with hot reload and invokes
// it over the same HTTP contract it will see once deployed.
//
// Usage:
//
//	agentdev [flags] dev             run the agent dev server
//	agentdev [flags] invoke PROMPT   send a prompt to the running server
//	agentdev [flags] history         list recent invocations
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"agentdev/pkg/config"
	"agentdev/pkg/devserver"
	"agentdev/pkg/history"
	"agentdev/pkg/invoke"
	"agentdev/pkg/logx"
	"agentdev/pkg/metrics"
	"agentdev/pkg/netutil"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const stateDirName = ".agentdev"

func main() {
	var (
		dir         = flag.String("dir", ".", "Project directory")
		agentName   = flag.String("agent", "", "Agent name (defaults to the project's default agent)")
		port        = flag.Int("port", 8080, "Base port for the dev server / invocation target")
		metricsPort = flag.Int("metrics-port", 0, "Expose Prometheus metrics on this port (0 disables)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentdev %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var code int
	switch args[0] {
	case "dev":
		code = runDev(*dir, *agentName, *port, *metricsPort)
	case "invoke":
		code = runInvoke(*dir, *agentName, *port, strings.Join(args[1:], " "))
	case "history":
		code = runHistory(*dir)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		code = 2
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: agentdev [flags] dev | invoke PROMPT | history")
	flag.PrintDefaults()
}

func runDev(dir, agentName string, basePort, metricsPort int) int {
	project, agent, err := resolveAgent(dir, agentName)
	if err != nil {
		logx.Warnf("%v", err)
		return 1
	}

	env, err := project.AgentEnv(agent)
	if err != nil {
		logx.Warnf("%v", err)
		return 1
	}

	port := netutil.FindAvailablePort(basePort)
	if port != basePort {
		logx.Infof("port %d is in use, using %d", basePort, port)
	}

	if metricsPort > 0 {
		serveMetrics(metricsPort)
	}

	agentLogger := logx.NewLogger("agent:" + agent.Name)
	exitCh := make(chan int, 1)

	server := devserver.New(project.DevConfig(agent), devserver.Options{
		Port: port,
		Env:  env,
		OnLog: func(level logx.Level, message string) {
			agentLogger.Log(level, "%s", message)
		},
		OnExit: func(code int) { exitCh <- code },
	})

	if err := server.Start(context.Background()); err != nil {
		return 1
	}
	logx.Infof("agent %q starting on http://localhost:%d/invocations (Ctrl-C to stop)", agent.Name, port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logx.Infof("received %s, shutting down", sig)
		server.Kill()
		<-exitCh
		return 0
	case code := <-exitCh:
		if code != 0 {
			logx.Warnf("agent process exited with code %d", code)
			return 1
		}
		return 0
	}
}

func runInvoke(dir, agentName string, port int, prompt string) int {
	if strings.TrimSpace(prompt) == "" {
		fmt.Fprintln(os.Stderr, "usage: agentdev invoke PROMPT")
		return 2
	}

	_, agent, err := resolveAgent(dir, agentName)
	if err != nil {
		logx.Warnf("%v", err)
		return 1
	}

	store := openHistory(dir)
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	start := time.Now()
	client := invoke.NewClient()
	stream, err := client.Stream(context.Background(), port, prompt)
	if err != nil {
		recordInvocation(store, agent.Name, prompt, 0, history.StatusError, start)
		logx.Warnf("invocation failed: %v", err)
		return 1
	}
	defer func() { _ = stream.Close() }()

	size := 0
	for {
		chunk, ok := stream.Next()
		if !ok {
			break
		}
		size += len(chunk)
		fmt.Print(chunk)
	}
	fmt.Println()

	if err := stream.Err(); err != nil {
		recordInvocation(store, agent.Name, prompt, size, history.StatusError, start)
		logx.Warnf("stream failed: %v", err)
		return 1
	}
	recordInvocation(store, agent.Name, prompt, size, history.StatusOK, start)
	return 0
}

func runHistory(dir string) int {
	store := openHistory(dir)
	if store == nil {
		return 1
	}
	defer func() { _ = store.Close() }()

	invocations, err := store.Recent(20)
	if err != nil {
		logx.Warnf("%v", err)
		return 1
	}
	if len(invocations) == 0 {
		fmt.Println("no invocations recorded yet")
		return 0
	}
	for _, inv := range invocations {
		prompt := inv.Prompt
		if len(prompt) > 60 {
			prompt = prompt[:57] + "..."
		}
		fmt.Printf("%s  %-8s %-6s %6dms  %s\n",
			inv.StartedAt.Format("2006-01-02 15:04:05"),
			inv.Agent, inv.Status, inv.Duration.Milliseconds(), prompt)
	}
	return 0
}

func resolveAgent(dir, agentName string) (*config.Project, *config.Agent, error) {
	project, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	agent, err := project.Agent(agentName)
	if err != nil {
		return nil, nil, err
	}
	return project, agent, nil
}

func openHistory(dir string) *history.Store {
	stateDir := filepath.Join(dir, stateDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		logx.Warnf("cannot create %s: %v", stateDir, err)
		return nil
	}
	store, err := history.Open(filepath.Join(stateDir, "history.db"))
	if err != nil {
		logx.Warnf("%v", err)
		return nil
	}
	return store
}

func recordInvocation(store *history.Store, agent, prompt string, size int, status string, start time.Time) {
	if store == nil {
		return
	}
	err := store.Record(history.Invocation{
		Agent:        agent,
		Prompt:       prompt,
		ResponseSize: size,
		Status:       status,
		Duration:     time.Since(start),
		StartedAt:    start.UTC(),
	})
	if err != nil {
		logx.Debugf("history record failed: %v", err)
	}
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		logx.Infof("metrics available at http://%s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logx.Warnf("metrics server stopped: %v", err)
		}
	}()
}
