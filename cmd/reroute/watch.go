package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/reroute/internal/tui/watch"
)

func runSystemWatch(args []string) int {
	if hasHelpFlag(args) {
		fmt.Println("Usage: reroute system watch [--config PATH] [--api-url URL] [--api-key KEY]")
		return 0
	}

	fs := flag.NewFlagSet("system watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api-url", "", "Operator API base URL (default from api.listen)")
	apiKey := fs.String("api-key", "", "Bearer key (default from api.api_key)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	baseURL, key := *apiURL, *apiKey
	if baseURL == "" || key == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			if baseURL == "" {
				fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
				return 1
			}
		} else {
			if baseURL == "" {
				if !cfg.API.Enabled {
					fmt.Fprintln(os.Stderr, "API is disabled in config; pass --api-url")
					return 1
				}
				baseURL = listenURL(cfg.API.Listen)
			}
			if key == "" {
				key = cfg.API.APIKey
			}
		}
	}

	if err := watch.Run(baseURL, key); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}
	return 0
}

// listenURL turns a listen address into a URL a local client can dial.
func listenURL(listen string) string {
	host, port, found := strings.Cut(listen, ":")
	if !found {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + host + ":" + port
}
