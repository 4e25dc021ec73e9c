package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/reroute/internal/jobtype"
	"github.com/mattjoyce/reroute/internal/log"
	"github.com/mattjoyce/reroute/internal/queue"
)

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "enqueue":
		return runJobEnqueue(actionArgs)
	case "inspect":
		return runJobInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

func runJobEnqueue(args []string) int {
	const usage = "Usage: reroute job enqueue <type> [--queue NAME] [--args JSON] [--config PATH]"
	if hasHelpFlag(args) {
		fmt.Println(usage)
		return 0
	}

	fs := flag.NewFlagSet("job enqueue", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	queueName := fs.String("queue", "", "Queue to submit to (default: the type's queue)")
	rawArgs := fs.String("args", "", "Job arguments as JSON")
	flags, pos := splitFlagsAndPositionals(args, map[string]bool{
		"--config": true, "-config": true, "--queue": true, "-queue": true, "--args": true, "-args": true,
	})
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, usage)
		return 1
	}
	if *rawArgs != "" && !json.Valid([]byte(*rawArgs)) {
		fmt.Fprintln(os.Stderr, "Error: --args is not valid JSON")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	registry, err := jobtype.FromConfig(cfg.JobTypes, log.WithComponent("jobtype"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rt.close()

	client := jobtype.NewClient(queue.New(rt.db), registry)
	var argsJSON json.RawMessage
	if *rawArgs != "" {
		argsJSON = json.RawMessage(*rawArgs)
	}
	jobID, err := client.Enqueue(ctx, pos[0], *queueName, argsJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(jobID)
	return 0
}

func runJobInspect(args []string) int {
	const usage = "Usage: reroute job inspect <job-id> [--config PATH]"
	if hasHelpFlag(args) {
		fmt.Println(usage)
		return 0
	}

	fs := flag.NewFlagSet("job inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	flags, pos := splitFlagsAndPositionals(args, map[string]bool{"--config": true, "-config": true})
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != 1 {
		fmt.Fprintln(os.Stderr, usage)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	ctx := context.Background()
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rt.close()

	entries, err := queue.New(rt.db).EntriesForJob(ctx, pos[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "job %s not found\n", pos[0])
		return 1
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  queue=%s  status=%s  attempt=%d/%d", e.EntryID, e.Queue, e.Status, e.Attempt, e.MaxAttempts)
		if e.LastError != nil {
			line += "  error=" + *e.LastError
		}
		fmt.Println(line)
	}
	return 0
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: reroute job <action>")
	fmt.Fprintln(w, "Actions: enqueue, inspect")
}
