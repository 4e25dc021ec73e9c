package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/reroute/internal/rerouting"
)

func runMarkerNoun(args []string) int {
	if len(args) < 1 {
		printMarkerNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printMarkerNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "set":
		return runMarkerSet(actionArgs)
	case "rm":
		return runMarkerRemove(actionArgs)
	case "clear":
		return runMarkerClear(actionArgs)
	case "list":
		return runMarkerList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown marker action: %s\n", action)
		return 1
	}
}

// withStore parses --config plus positionals, opens the routing table and runs fn.
func withStore(name string, args []string, wantArgs int, usage string, extra func(*flag.FlagSet), fn func(ctx context.Context, store *rerouting.Store, pos []string) int) int {
	if hasHelpFlag(args) {
		fmt.Println(usage)
		return 0
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	takesValue := map[string]bool{"--config": true, "-config": true}
	if extra != nil {
		extra(fs)
	}
	flags, pos := splitFlagsAndPositionals(args, takesValue)
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) != wantArgs {
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

	return fn(ctx, rerouting.NewStore(rt.table), pos)
}

func runMarkerSet(args []string) int {
	return withStore("marker set", args, 3, "Usage: reroute marker set <queue> <id|type> <value> [--config PATH]", nil,
		func(ctx context.Context, store *rerouting.Store, pos []string) int {
			kind, err := rerouting.ParseKind(pos[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			if err := store.Reroute(ctx, pos[0], kind, pos[2]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			fmt.Printf("%s:%s -> %s\n", kind, pos[2], pos[0])
			return 0
		})
}

func runMarkerRemove(args []string) int {
	return withStore("marker rm", args, 2, "Usage: reroute marker rm <id|type> <value> [--config PATH]", nil,
		func(ctx context.Context, store *rerouting.Store, pos []string) int {
			kind, err := rerouting.ParseKind(pos[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			if err := store.RemoveRerouting(ctx, kind, pos[1]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			fmt.Printf("removed %s:%s\n", kind, pos[1])
			return 0
		})
}

func runMarkerClear(args []string) int {
	return withStore("marker clear", args, 0, "Usage: reroute marker clear [--config PATH]", nil,
		func(ctx context.Context, store *rerouting.Store, _ []string) int {
			if err := store.RemoveAllRerouting(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			fmt.Printf("cleared %s\n", store.Table())
			return 0
		})
}

func runMarkerList(args []string) int {
	var jsonOut *bool
	return withStore("marker list", args, 0, "Usage: reroute marker list [--json] [--config PATH]",
		func(fs *flag.FlagSet) { jsonOut = fs.Bool("json", false, "Output markers as JSON") },
		func(ctx context.Context, store *rerouting.Store, _ []string) int {
			markers, err := store.ListMarkers(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			if *jsonOut {
				data, err := json.MarshalIndent(markers, "", "  ")
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					return 1
				}
				fmt.Println(string(data))
				return 0
			}
			if len(markers) == 0 {
				fmt.Printf("no markers in %s\n", store.Table())
				return 0
			}
			fmt.Println(renderMarkers(markers))
			return 0
		})
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func renderMarkers(markers map[string]string) string {
	keys := make([]string, 0, len(markers))
	for k := range markers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, markers[k]})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("MARKER", "QUEUE").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func printMarkerNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: reroute marker <action>")
	fmt.Fprintln(w, "Actions: set, rm, clear, list")
}
