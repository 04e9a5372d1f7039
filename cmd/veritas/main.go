package main

import (
	"fmt"
	"os"
)

const usageText = `veritas analyzes web pages for misinformation through the Veritas gateway.

Usage:
  veritas <command> [flags]

Commands:
  analyze      analyze a URL or a local HTML file
  entitlement  show tier and today's usage
  history      list past analyses (server or local cache)
  clear        forget a site locally and on the server, or clear all history
  config       print the effective configuration
  help         show help

Environment:
  VERITAS_CONFIG       config file (default: user config dir/veritas/config.toml)
  VERITAS_GATEWAY_URL  gateway base URL
  VERITAS_TOKEN        bearer token
  VERITAS_CACHE_PATH   local result cache

Examples:
  veritas analyze https://example.com/article
  veritas analyze --force --no-stream ./saved.html
  veritas history --limit 10
  veritas clear https://example.com/article
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)
	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	exitOnErr(args[0], runner.Run(args[1:]), wiring.stderr)
}
