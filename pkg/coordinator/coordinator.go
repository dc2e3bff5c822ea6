// Package coordinator drives the lifecycle of an action request: idempotency,
// environment check, policy gate, admission and asynchronous execution.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/madaxer/devopsAgent/pkg/contracts"
	"github.com/madaxer/devopsAgent/pkg/observability"
	"github.com/madaxer/devopsAgent/pkg/policy"
	"github.com/madaxer/devopsAgent/pkg/store"
)

// Executor performs an admitted action. It returns a human-readable summary
// on success. Implementations must not touch the action store.
type Executor interface {
	Execute(ctx context.Context, req contracts.ActionRequest) (string, error)
}

// PolicyEvaluator decides whether a request may run in an environment.
type PolicyEvaluator interface {
	EvaluateRequest(ctx context.Context, req contracts.ActionRequest, environment string) policy.Decision
}

// Recorder observes every record the coordinator writes.
type Recorder interface {
	Record(ctx context.Context, req contracts.ActionRequest, rec contracts.ActionRecord)
}

// Coordinator runs action requests against the store, policy and executor.
type Coordinator struct {
	environment contracts.Environment
	store       *store.ActionStore
	policy      PolicyEvaluator
	executor    Executor

	recorder  Recorder
	telemetry *observability.Provider
	logger    *slog.Logger
	clock     func() time.Time

	inflight sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecorder attaches a recorder for lifecycle transitions.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithTelemetry attaches an observability provider.
func WithTelemetry(p *observability.Provider) Option {
	return func(c *Coordinator) { c.telemetry = p }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// New creates a coordinator for the given environment.
func New(env contracts.Environment, s *store.ActionStore, p PolicyEvaluator, exec Executor, opts ...Option) *Coordinator {
	c := &Coordinator{
		environment: env,
		store:       s,
		policy:      p,
		executor:    exec,
		logger:      slog.Default().With("component", "coordinator"),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Environment returns the environment this coordinator serves.
func (c *Coordinator) Environment() contracts.Environment { return c.environment }

// Counts returns how many tracked requests are in each status.
func (c *Coordinator) Counts() map[contracts.ActionStatus]int { return c.store.Counts() }

// Submit admits or refuses a request. Admitted requests run in the
// background; Submit never waits for them.
//
// Returns *EnvironmentMismatchError or *DeniedError on refusal.
func (c *Coordinator) Submit(ctx context.Context, req contracts.ActionRequest) (contracts.ActionAccepted, error) {
	if existing, ok := c.store.Get(req.RequestID); ok {
		return c.replay(existing)
	}

	if req.Environment != c.environment {
		c.logger.WarnContext(ctx, "environment mismatch",
			"request_id", req.RequestID,
			"expected", c.environment,
			"provided", req.Environment,
		)
		return contracts.ActionAccepted{}, &EnvironmentMismatchError{Expected: c.environment, Provided: req.Environment}
	}

	received := contracts.ActionRecord{
		RequestID: req.RequestID,
		Status:    contracts.StatusReceived,
		StartedAt: c.now(),
	}
	if existing, reserved := c.store.Reserve(received); !reserved {
		return c.replay(existing)
	}
	c.record(ctx, req, received)

	decision := c.policy.EvaluateRequest(ctx, req, string(c.environment))
	if c.telemetry != nil {
		c.telemetry.RecordDecision(ctx, observability.DecisionOperation(string(req.Action), string(c.environment), decision.Allowed)...)
	}

	if !decision.Allowed {
		now := c.now()
		denied := contracts.ActionRecord{
			RequestID:  req.RequestID,
			Status:     contracts.StatusDenied,
			StartedAt:  now,
			FinishedAt: contracts.TimePtr(now),
			Summary:    contracts.StringPtr("Denied by policy"),
			Error:      contracts.StringPtr(decision.Reason),
		}
		c.store.Upsert(denied)
		c.record(ctx, req, denied)
		c.logger.InfoContext(ctx, "action denied",
			"request_id", req.RequestID,
			"action", req.Action,
			"environment", c.environment,
			"reason", decision.Reason,
		)
		return contracts.ActionAccepted{}, &DeniedError{RequestID: req.RequestID, Reason: decision.Reason}
	}

	running := contracts.ActionRecord{
		RequestID: req.RequestID,
		Status:    contracts.StatusRunning,
		StartedAt: c.now(),
	}
	c.store.Upsert(running)
	c.record(ctx, req, running)
	c.logger.InfoContext(ctx, "action admitted",
		"request_id", req.RequestID,
		"action", req.Action,
		"environment", c.environment,
		"requested_by", req.RequestedBy,
	)

	c.inflight.Add(1)
	go c.run(context.WithoutCancel(ctx), req, running)

	return contracts.ActionAccepted{RequestID: req.RequestID, Status: contracts.StatusRunning}, nil
}

// Status returns the stored record for id.
func (c *Coordinator) Status(_ context.Context, id uuid.UUID) (contracts.ActionRecord, error) {
	rec, ok := c.store.Get(id)
	if !ok {
		return contracts.ActionRecord{}, ErrNotFound
	}
	return rec, nil
}

// Wait blocks until every dispatched execution has written its terminal record.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

func (c *Coordinator) replay(existing contracts.ActionRecord) (contracts.ActionAccepted, error) {
	if existing.Status == contracts.StatusDenied {
		reason := "denied by policy"
		if existing.Error != nil {
			reason = *existing.Error
		}
		return contracts.ActionAccepted{}, &DeniedError{RequestID: existing.RequestID, Reason: reason}
	}
	return contracts.ActionAccepted{RequestID: existing.RequestID, Status: existing.Status}, nil
}

func (c *Coordinator) run(ctx context.Context, req contracts.ActionRequest, running contracts.ActionRecord) {
	defer c.inflight.Done()

	finish := func(error) {}
	if c.telemetry != nil {
		ctx, finish = c.telemetry.TrackOperation(ctx, "action.execute",
			observability.ActionOperation(string(req.Action), string(c.environment))...)
	}

	summary, err := c.invoke(ctx, req)
	finished := c.now()

	rec := contracts.ActionRecord{
		RequestID:  req.RequestID,
		StartedAt:  running.StartedAt,
		FinishedAt: contracts.TimePtr(finished),
	}
	if err != nil {
		rec.Status = contracts.StatusFailed
		rec.Error = contracts.StringPtr(err.Error())
		c.logger.WarnContext(ctx, "action failed",
			"request_id", req.RequestID,
			"action", req.Action,
			"error", err,
		)
	} else {
		rec.Status = contracts.StatusSucceeded
		rec.Summary = contracts.StringPtr(summary)
		c.logger.InfoContext(ctx, "action succeeded",
			"request_id", req.RequestID,
			"action", req.Action,
			"duration", finished.Sub(running.StartedAt),
		)
	}

	c.store.Upsert(rec)
	c.record(ctx, req, rec)
	finish(err)
}

// invoke calls the executor, converting a panic into an error.
func (c *Coordinator) invoke(ctx context.Context, req contracts.ActionRequest) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return c.executor.Execute(ctx, req)
}

func (c *Coordinator) record(ctx context.Context, req contracts.ActionRequest, rec contracts.ActionRecord) {
	if c.recorder != nil {
		c.recorder.Record(ctx, req, rec)
	}
}

func (c *Coordinator) now() time.Time {
	return c.clock().UTC()
}
