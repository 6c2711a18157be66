package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/chauffeur/pkg/actions"
	"github.com/odvcencio/chauffeur/pkg/cdp"
	"github.com/odvcencio/chauffeur/pkg/config"
	"github.com/odvcencio/chauffeur/pkg/logging"
	"github.com/odvcencio/chauffeur/pkg/taskloop"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to config file (yaml)")
		task          = flag.String("task", "", "task description for the run")
		host          = flag.String("host", "", "override debugging endpoint host")
		port          = flag.Int("port", 0, "override debugging endpoint port")
		artifactDir   = flag.String("artifact-dir", "", "override artifact directory")
		maxIterations = flag.Int("max-iterations", 0, "override iteration ceiling")
		showVersion   = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *task == "" {
		fmt.Fprintln(os.Stderr, "Error: -task is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}
	applyFlagOverrides(cfg, *host, *port, *artifactDir, *maxIterations)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := logging.ParseLevel(cfg.Logging.Level)
	log := logging.NewLogger("chauffeur", level)

	stopMetrics := startMetricsServer(cfg, log)
	defer stopMetrics()

	reason, err := run(ctx, cfg, *task, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCodeFor(reason))
}

func run(ctx context.Context, cfg *config.Config, task string, log *logging.Logger) (taskloop.Reason, error) {
	channel, err := cdp.Dial(ctx, cdp.Options{
		Addr:           cfg.DebugAddr(),
		ConnectTimeout: cfg.Endpoint.ConnectTimeout(),
		DefaultTimeout: cfg.Channel.CommandTimeout(),
		EnableTimeout:  cfg.Channel.EnableTimeout(),
		ConsoleLogCap:  cfg.Channel.ConsoleLogCap,
		NetworkLogCap:  cfg.Channel.NetworkLogCap,
		EventQueueSize: cfg.Channel.EventQueueSize,
	}, log)
	if err != nil {
		return taskloop.ReasonFatal, err
	}

	registry := cdp.NewRegistry()
	connID := registry.Add(channel)
	defer registry.Close()

	executor := actions.NewExecutor(channel, actions.Config{
		CommandTimeout:    cfg.Channel.CommandTimeout(),
		NavigateSettle:    cfg.Actions.NavigateSettle(),
		PollInterval:      cfg.Actions.PollInterval(),
		ScreenshotQuality: cfg.Actions.ScreenshotQuality,
		ArtifactDir:       cfg.Loop.ArtifactDir,
	}, log.WithConnection(connID))

	if w, h := cfg.Actions.ViewportWidth, cfg.Actions.ViewportHeight; w > 0 && h > 0 {
		if err := executor.SetViewport(ctx, w, h); err != nil && cdp.IsConnectionError(err) {
			return taskloop.ReasonFatal, err
		}
	}

	decisions := taskloop.NewFileDecisionSource(cfg.Loop.DecisionFile(), cfg.Actions.PollInterval())
	coordinator := taskloop.NewCoordinator(executor, decisions, taskloop.Config{
		StateFile:      cfg.Loop.StateFile(),
		ScreenshotsDir: cfg.Loop.ScreenshotsDir(),
		MaxIterations:  cfg.Loop.MaxIterations,
		DecisionWait:   cfg.Loop.DecisionWait(),
	}, log)

	return coordinator.Run(ctx, task)
}

func applyFlagOverrides(cfg *config.Config, host string, port int, artifactDir string, maxIterations int) {
	if host != "" {
		cfg.Endpoint.Host = host
	}
	if port > 0 {
		cfg.Endpoint.Port = port
	}
	if artifactDir != "" {
		cfg.Loop.ArtifactDir = artifactDir
	}
	if maxIterations > 0 {
		cfg.Loop.MaxIterations = maxIterations
	}
}

// startMetricsServer exposes /metrics when a bind address is configured. The
// returned stop function shuts the listener down.
func startMetricsServer(cfg *config.Config, log *logging.Logger) func() {
	bind := cfg.Metrics.Bind
	if bind == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: bind, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server failed", "bind", bind, "error", err.Error())
		}
	}()
	log.Info("metrics server listening", "bind", bind)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}

func exitCodeFor(reason taskloop.Reason) int {
	switch reason {
	case taskloop.ReasonCompleted:
		return 0
	case taskloop.ReasonExhausted:
		return 3
	case taskloop.ReasonTimeout:
		return 4
	case taskloop.ReasonFatal:
		return 5
	}
	return 1
}

func printVersion() {
	fmt.Printf("chauffeur %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}
