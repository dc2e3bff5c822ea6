package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/madaxer/devopsAgent/pkg/contracts"
	"github.com/madaxer/devopsAgent/pkg/policy"
)

func runPolicyCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: devops-agent policy <check|eval> [flags]")
		return 2
	}
	switch args[0] {
	case "check":
		return runPolicyCheck(args[1:], stdout, stderr)
	case "eval":
		return runPolicyEval(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown policy subcommand: %s\n", args[0])
		return 2
	}
}

func runPolicyCheck(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy check", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		file       string
		jsonOutput bool
	)
	cmd.StringVar(&file, "file", "config/policy.yaml", "Path to the policy document")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	data, err := os.ReadFile(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	doc, err := policy.ParseDocument(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid policy %s: %v\n", file, err)
		return 1
	}

	if jsonOutput {
		return writeJSON(stdout, stderr, map[string]any{
			"valid":        true,
			"version":      doc.Version,
			"hash":         doc.Hash,
			"environments": doc.Environments,
		})
	}

	_, _ = fmt.Fprintf(stdout, "Policy %s is valid\n", file)
	_, _ = fmt.Fprintf(stdout, "  version: %v\n", doc.Version)
	_, _ = fmt.Fprintf(stdout, "  hash:    %s\n", doc.Hash)
	names := make([]string, 0, len(doc.Environments))
	for name := range doc.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rs := doc.Environments[name]
		_, _ = fmt.Fprintf(stdout, "  %-8s allow=%d deny=%d conditions=%d\n",
			name, len(rs.Allow), len(rs.Deny), len(rs.Conditions))
	}
	return 0
}

func runPolicyEval(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy eval", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		file, env, action string
		jsonOutput        bool
	)
	params := kvFlag{}
	target := kvFlag{}
	cmd.StringVar(&file, "file", "config/policy.yaml", "Path to the policy document")
	cmd.StringVar(&env, "env", "", "Environment to evaluate in (REQUIRED)")
	cmd.StringVar(&action, "action", "", "Action name (REQUIRED)")
	cmd.Var(params, "param", "Request param key=value (repeatable)")
	cmd.Var(target, "target", "Request target key=value (repeatable)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if env == "" || action == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --env and --action are required")
		return 2
	}

	engine := policy.NewEngine(policy.NewFileSource(file))
	ctx := context.Background()
	if st := engine.Status(ctx); !st.Loaded {
		_, _ = fmt.Fprintf(stderr, "Error: policy not loaded: %s\n", deref(st.Error))
		return 1
	}

	req := contracts.ActionRequest{
		RequestID:   uuid.New(),
		RequestedAt: time.Now().UTC(),
		RequestedBy: "cli",
		Environment: contracts.Environment(env),
		Action:      contracts.ActionName(action),
		Target:      target,
		Params:      params,
	}
	decision := engine.EvaluateRequest(ctx, req, env)

	if jsonOutput {
		if code := writeJSON(stdout, stderr, decision); code != 0 {
			return code
		}
	} else if decision.Allowed {
		_, _ = fmt.Fprintf(stdout, "ALLOW %s in %s\n", action, env)
	} else {
		_, _ = fmt.Fprintf(stdout, "DENY %s in %s: %s\n", action, env, decision.Reason)
	}
	if !decision.Allowed {
		return 1
	}
	return 0
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
