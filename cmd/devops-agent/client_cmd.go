package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/madaxer/devopsAgent/pkg/client"
	"github.com/madaxer/devopsAgent/pkg/contracts"
)

const defaultURL = "http://localhost:8080"

// kvFlag collects repeatable key=value flags. Values that parse as JSON
// (numbers, booleans, objects) keep their type; anything else is a string.
type kvFlag map[string]any

func (k kvFlag) String() string {
	parts := make([]string, 0, len(k))
	for key, v := range k {
		parts = append(parts, fmt.Sprintf("%s=%v", key, v))
	}
	return strings.Join(parts, ",")
}

func (k kvFlag) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	k[strings.TrimSpace(key)] = v
	return nil
}

func gatewayURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if u := os.Getenv("DEVOPS_AGENT_URL"); u != "" {
		return u
	}
	return defaultURL
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	url := cmd.String("url", "", "Gateway base URL (default $DEVOPS_AGENT_URL or "+defaultURL+")")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h, err := client.New(gatewayURL(*url)).Health(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "OK %s (%s)\n", h.Service, h.Environment)
	return 0
}

func runSubmitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("submit", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		url, env, action, by, id string
		wait                     time.Duration
	)
	params := kvFlag{}
	target := kvFlag{}
	cmd.StringVar(&url, "url", "", "Gateway base URL")
	cmd.StringVar(&env, "env", "", "Target environment (REQUIRED)")
	cmd.StringVar(&action, "action", "", "Action name (REQUIRED)")
	cmd.StringVar(&by, "by", defaultRequester(), "Requester identity")
	cmd.StringVar(&id, "id", "", "Request id (default: random UUID)")
	cmd.Var(params, "param", "Action param key=value (repeatable)")
	cmd.Var(target, "target", "Action target key=value (repeatable)")
	cmd.DurationVar(&wait, "wait", 0, "Poll until the action finishes, up to this long")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if env == "" || action == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --env and --action are required")
		return 2
	}

	requestID := uuid.New()
	if id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: --id: %v\n", err)
			return 2
		}
		requestID = parsed
	}

	c := client.New(gatewayURL(url))
	ctx := context.Background()
	accepted, err := c.Submit(ctx, contracts.ActionRequest{
		RequestID:   requestID,
		RequestedAt: time.Now().UTC(),
		RequestedBy: by,
		Environment: contracts.Environment(env),
		Action:      contracts.ActionName(action),
		Target:      target,
		Params:      params,
	})
	if err != nil {
		return reportAPIError(stderr, err)
	}
	if wait <= 0 {
		return writeJSON(stdout, stderr, accepted)
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	rec, err := c.WaitTerminal(waitCtx, requestID, 250*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return reportAPIError(stderr, err)
	}
	if code := writeJSON(stdout, stderr, rec); code != 0 {
		return code
	}
	if rec == nil || rec.Status != contracts.StatusSucceeded {
		return 1
	}
	return 0
}

func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	url := cmd.String("url", "", "Gateway base URL")
	id := cmd.String("id", "", "Request id (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	requestID, err := uuid.Parse(*id)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: --id must be a UUID")
		return 2
	}

	rec, err := client.New(gatewayURL(*url)).Status(context.Background(), requestID)
	if err != nil {
		return reportAPIError(stderr, err)
	}
	return writeJSON(stdout, stderr, rec)
}

func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	url := cmd.String("url", "", "Gateway base URL")
	limit := cmd.Int("limit", 20, "Number of entries to show")
	verify := cmd.Bool("verify", false, "Verify the journal hash chain instead")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	c := client.New(gatewayURL(*url))
	ctx := context.Background()
	if *verify {
		res, err := c.VerifyAudit(ctx)
		if err != nil {
			return reportAPIError(stderr, err)
		}
		if code := writeJSON(stdout, stderr, res); code != 0 {
			return code
		}
		if !res.Valid {
			return 1
		}
		return 0
	}

	res, err := c.Audit(ctx, *limit)
	if err != nil {
		return reportAPIError(stderr, err)
	}
	return writeJSON(stdout, stderr, res)
}

func reportAPIError(stderr io.Writer, err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && len(apiErr.Meta) > 0 {
		meta, _ := json.Marshal(apiErr.Meta)
		_, _ = fmt.Fprintf(stderr, "Error: %v %s\n", err, meta)
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func defaultRequester() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
