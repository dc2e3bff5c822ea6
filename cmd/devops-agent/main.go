package main

import (
	"fmt"
	"io"
	"os"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServeCmd

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "policy":
		return runPolicyCmd(args[2:], stdout, stderr)
	case "submit":
		return runSubmitCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintln(stdout, version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "devops-agent %s\n\n", version)
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  devops-agent <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "GATEWAY:")
	printCommand(w, "serve", "Run the action gateway (default)")
	printCommand(w, "health", "Check gateway health (--url)")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "POLICY:")
	printCommand(w, "policy check", "Validate a policy document (--file)")
	printCommand(w, "policy eval", "Evaluate an action offline (--file, --env, --action)")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "ACTIONS:")
	printCommand(w, "submit", "Submit an action (--url, --env, --action, --param k=v, --wait)")
	printCommand(w, "status", "Show an action record (--url, --id)")
	printCommand(w, "audit", "Show or verify the decision journal (--url, --limit, --verify)")
	_, _ = fmt.Fprintln(w, "")
	printCommand(w, "version", "Print the version")
	printCommand(w, "help", "Show this help")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-14s %s\n", name, desc)
}
