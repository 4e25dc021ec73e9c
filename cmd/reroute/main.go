package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/reroute/internal/config"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "marker":
		return runMarkerNoun(args)
	case "job":
		return runJobNoun(args)
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: reroute version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("reroute %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`reroute - redirect queued jobs to other queues at pickup time

Usage:
  reroute <noun> <action> [flags]

Marker Commands:
  marker set <queue> <id|type> <value>   Redirect matching jobs to <queue>
  marker rm <id|type> <value>            Remove one marker
  marker clear                           Remove every marker
  marker list [--json]                   Show the routing table

Job Commands:
  job enqueue <type> [--queue] [--args]  Submit a job
  job inspect <job-id>                   Show every queue entry of a job

System Commands:
  system start      Run workers (and the API, if enabled) in the foreground
  system status     Check config, database, routing backend and PID lock
  system watch      Live dashboard of markers, reroutes and events via the API

Config Commands:
  config check      Validate the configuration
  config show       Print the effective configuration

General:
  version           Show version information
  help              Show this help message

All commands accept --config PATH (default: $REROUTE_CONFIG, ~/.config/reroute/config.yaml,
/etc/reroute/config.yaml, ./config.yaml).
`)
}

// loadConfig loads path, or the discovered config when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	return config.Load(path)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// splitFlagsAndPositionals lets flags follow positionals, which flag.Parse alone does not allow.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positionals = append(positionals, arg)
			continue
		}

		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positionals
}
