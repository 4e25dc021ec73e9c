package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/reroute/internal/api"
	"github.com/mattjoyce/reroute/internal/config"
	"github.com/mattjoyce/reroute/internal/dispatch"
	"github.com/mattjoyce/reroute/internal/events"
	"github.com/mattjoyce/reroute/internal/jobtype"
	"github.com/mattjoyce/reroute/internal/lock"
	"github.com/mattjoyce/reroute/internal/log"
	"github.com/mattjoyce/reroute/internal/metrics"
	"github.com/mattjoyce/reroute/internal/queue"
	"github.com/mattjoyce/reroute/internal/rerouting"
	"github.com/mattjoyce/reroute/internal/webhook"
)

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "status":
		return runSystemStatus(args[1:])
	case "watch":
		return runSystemWatch(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "show":
		return runConfigShow(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func pidLockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.State.Path), "reroute.lock")
}

func parseConfigFlag(name string, args []string) (string, bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return "", false
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Usage: reroute %s [--config PATH]\n", name)
		return "", false
	}
	return *configPath, true
}

func runConfigCheck(args []string) int {
	if hasHelpFlag(args) {
		fmt.Println("Usage: reroute config check [--config PATH]")
		return 0
	}
	path, ok := parseConfigFlag("config check", args)
	if !ok {
		return 1
	}

	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}
	if _, err := jobtype.FromConfig(cfg.JobTypes, log.WithComponent("jobtype")); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}
	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fingerprint config: %v\n", err)
		return 1
	}

	fmt.Printf("Configuration valid: %s\n", cfg.SourcePath)
	fmt.Printf("  backend: %s (table %s)\n", cfg.Rerouting.Backend, cfg.Rerouting.Table)
	fmt.Printf("  queues: %v, job types: %d\n", cfg.Dispatch.Queues, len(cfg.JobTypes))
	fmt.Printf("  blake3: %s\n", fingerprint)
	return 0
}

func runConfigShow(args []string) int {
	if hasHelpFlag(args) {
		fmt.Println("Usage: reroute config show [--config PATH]")
		return 0
	}
	path, ok := parseConfigFlag("config show", args)
	if !ok {
		return 1
	}
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.API.APIKey != "" {
		cfg.API.APIKey = "***"
	}
	for i := range cfg.API.Tokens {
		cfg.API.Tokens[i].Token = "***"
	}
	if cfg.Rerouting.Redis.Password != "" {
		cfg.Rerouting.Redis.Password = "***"
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Print(string(out))
	return 0
}

func runSystemStatus(args []string) int {
	if hasHelpFlag(args) {
		fmt.Println("Usage: reroute system status [--config PATH]")
		return 0
	}
	path, ok := parseConfigFlag("system status", args)
	if !ok {
		return 1
	}

	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Printf("config:   FAIL (%v)\n", err)
		return 1
	}
	fmt.Printf("config:   ok (%s)\n", cfg.SourcePath)

	ctx := context.Background()
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		fmt.Printf("backend:  FAIL (%v)\n", err)
		return 1
	}
	defer rt.close()

	depth, err := queue.New(rt.db).Depth(ctx)
	if err != nil {
		fmt.Printf("database: FAIL (%v)\n", err)
		return 1
	}
	fmt.Printf("database: ok (%d queued)\n", depth)

	markers, err := rerouting.NewStore(rt.table).ListMarkers(ctx)
	if err != nil {
		fmt.Printf("backend:  FAIL (%v)\n", err)
		return 1
	}
	fmt.Printf("backend:  ok (%s, %d markers)\n", cfg.Rerouting.Backend, len(markers))

	pid, err := lock.ReadPID(pidLockPath(cfg))
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Println("service:  not running")
	case err != nil:
		fmt.Printf("service:  unknown (%v)\n", err)
	case lock.Held(pidLockPath(cfg)):
		fmt.Printf("service:  running (pid %d)\n", pid)
	default:
		fmt.Println("service:  not running (stale lock)")
	}
	return 0
}

func runStart(args []string) int {
	if hasHelpFlag(args) {
		fmt.Println("Usage: reroute system start [--config PATH]")
		return 0
	}
	path, ok := parseConfigFlag("system start", args)
	if !ok {
		return 1
	}

	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("reroute starting", "version", version, "config", cfg.SourcePath)

	pidLock, err := lock.AcquirePIDLock(pidLockPath(cfg))
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath(cfg), "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		logger.Error("failed to open state", "error", err)
		return 1
	}
	defer rt.close()
	logger.Info("routing table opened", "backend", cfg.Rerouting.Backend, "table", cfg.Rerouting.Table)

	registry, err := jobtype.FromConfig(cfg.JobTypes, log.WithComponent("jobtype"))
	if err != nil {
		logger.Error("failed to build job types", "error", err)
		return 1
	}

	endpoints, err := webhook.FromConfig(cfg.Webhooks)
	if err != nil {
		logger.Error("invalid webhook config", "error", err)
		return 1
	}

	q := queue.New(rt.db)
	client := jobtype.NewClient(q, registry)
	store := rerouting.NewStore(rt.table)
	hub := events.NewHub(256)
	m := metrics.New()

	interceptor := rerouting.NewInterceptor(store, rerouting.InterceptorConfig{
		Types:    registry,
		Pusher:   client,
		Listener: rerouting.Listeners{m, hub},
		Lookups:  m,
	})

	disp := dispatch.New(q, registry, dispatch.Config{
		Queues:       cfg.Dispatch.Queues,
		Workers:      cfg.Dispatch.Workers,
		PollInterval: cfg.Dispatch.PollInterval,
		BackoffBase:  cfg.Retry.BackoffBase,
		Middleware:   []dispatch.Middleware{interceptor},
		Observers:    []dispatch.Observer{m, hub},
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 2)

	// Workers must drain before the deferred close of the database.
	var wg sync.WaitGroup
	defer wg.Wait()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := disp.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	if cfg.API.Enabled {
		var hooks http.Handler
		if len(endpoints) > 0 {
			hooks = webhook.New(endpoints, client, log.WithComponent("webhook"))
		}
		srv := api.New(api.Config{Listen: cfg.API.Listen, APIKey: cfg.API.APIKey, Tokens: cfg.API.Tokens}, api.Deps{
			Markers:  store,
			Jobs:     client,
			Queue:    q,
			Types:    registry,
			Events:   hub,
			Metrics:  promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
			Webhooks: hooks,
		}, log.WithComponent("api"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	logger.Info("reroute running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("reroute stopped")
	return 0
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: reroute system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: reroute config <action>")
	fmt.Fprintln(w, "Actions: check, show")
}
