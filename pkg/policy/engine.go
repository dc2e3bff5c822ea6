// Package policy loads the allow/deny policy document from an external source
// and evaluates actions against it. The document is hot-reloaded whenever the
// source fingerprint changes; any load failure leaves the engine fail-closed.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

// reloadTimeout bounds a source read. Reloads run detached from the caller's
// context because their result is shared by every caller.
const reloadTimeout = 30 * time.Second

// Status is a snapshot of the engine's load state.
type Status struct {
	Loaded       bool       `json:"loaded"`
	Version      any        `json:"version"`
	Source       string     `json:"source"`
	LastReloadAt *time.Time `json:"last_reload_at"`
	Error        *string    `json:"error"`
	Hash         string     `json:"hash,omitempty"`
	Reloads      uint64     `json:"reloads"`
}

// snapshot is immutable once published.
type snapshot struct {
	doc         *Document
	fingerprint string
	reloadedAt  time.Time
	err         string
}

// serves reports whether snap can be used for fingerprint without a reload.
// Only a loaded document short-circuits; failures are retried on every call.
func (snap *snapshot) serves(fingerprint string, statErr error) bool {
	return snap != nil && snap.doc != nil && statErr == nil && snap.fingerprint == fingerprint
}

// Engine evaluates actions against the current policy document.
type Engine struct {
	source Source
	logger *slog.Logger
	clock  func() time.Time

	current atomic.Pointer[snapshot]
	reloads atomic.Uint64

	mu       sync.Mutex // serializes reloads
	onReload func(Status)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an engine over source. Nothing is loaded until the first
// Evaluate or Status call.
func NewEngine(source Source, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		logger: slog.Default().With("component", "policy"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnReload registers a callback invoked after every reload attempt, successful
// or not. Only one callback is kept.
func (e *Engine) OnReload(fn func(Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onReload = fn
}

// Reloads returns how many times the document content has been read and parsed.
func (e *Engine) Reloads() uint64 {
	return e.reloads.Load()
}

// Evaluate decides whether action may run in environment.
// It never returns an error: load problems deny with "policy unavailable".
func (e *Engine) Evaluate(ctx context.Context, action, environment string) Decision {
	snap := e.refresh(ctx)
	return snap.doc.Decide(action, environment)
}

// EvaluateRequest runs Evaluate for the request and then any CEL conditions
// registered for the action in that environment.
func (e *Engine) EvaluateRequest(ctx context.Context, req contracts.ActionRequest, environment string) Decision {
	snap := e.refresh(ctx)
	decision := snap.doc.Decide(string(req.Action), environment)
	if !decision.Allowed {
		return decision
	}

	for _, cond := range snap.doc.index[environment].conditionsFor(string(req.Action)) {
		ok, err := cond.eval(req)
		if err != nil {
			e.logger.Warn("policy condition failed to evaluate",
				"condition", cond.name,
				"action", req.Action,
				"request_id", req.RequestID,
				"error", err,
			)
			return Decision{Allowed: false, Reason: fmt.Sprintf("policy condition %s could not be evaluated", cond.name)}
		}
		if !ok {
			return Decision{Allowed: false, Reason: fmt.Sprintf("denied by policy condition %s", cond.name)}
		}
	}
	return decision
}

// Status reports the current load state, refreshing from the source first.
func (e *Engine) Status(ctx context.Context) Status {
	return e.statusOf(e.refresh(ctx))
}

func (e *Engine) statusOf(snap *snapshot) Status {
	st := Status{
		Source:  e.source.Describe(),
		Reloads: e.reloads.Load(),
	}
	if !snap.reloadedAt.IsZero() {
		t := snap.reloadedAt
		st.LastReloadAt = &t
	}
	if snap.doc != nil {
		st.Loaded = true
		st.Version = snap.doc.Version
		st.Hash = snap.doc.Hash
	}
	if snap.err != "" {
		msg := snap.err
		st.Error = &msg
	}
	return st
}

// refresh returns the snapshot to evaluate against. When the fingerprint is
// unchanged the published snapshot is returned without locking.
func (e *Engine) refresh(ctx context.Context) *snapshot {
	fingerprint, statErr := e.source.Stat(ctx)
	if statErr != nil && ctx.Err() != nil {
		// The caller is gone. Deny this call and leave the shared state alone.
		return &snapshot{err: fmt.Sprintf("policy check abandoned: %v", ctx.Err())}
	}
	if cur := e.current.Load(); cur.serves(fingerprint, statErr) {
		return cur
	}

	e.mu.Lock()
	// Another caller may have loaded this fingerprint while we waited.
	if cur := e.current.Load(); cur.serves(fingerprint, statErr) {
		e.mu.Unlock()
		return cur
	}
	prev := e.current.Load()
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
	next := e.load(loadCtx, fingerprint, statErr)
	cancel()
	e.current.Store(next)
	callback := e.onReload
	e.mu.Unlock()

	e.logTransition(prev, next)
	if callback != nil {
		callback(e.statusOf(next))
	}
	return next
}

func (e *Engine) load(ctx context.Context, fingerprint string, statErr error) *snapshot {
	now := e.clock().UTC()
	failed := func(msg string) *snapshot {
		return &snapshot{fingerprint: fingerprint, reloadedAt: now, err: msg}
	}

	if statErr != nil {
		if errors.Is(statErr, ErrSourceNotFound) {
			return failed(ErrSourceNotFound.Error())
		}
		return failed(fmt.Sprintf("failed to stat policy source: %v", statErr))
	}

	data, err := e.source.Read(ctx)
	if err != nil {
		if errors.Is(err, ErrSourceNotFound) {
			return failed(ErrSourceNotFound.Error())
		}
		return failed(fmt.Sprintf("failed to read policy source: %v", err))
	}

	e.reloads.Add(1)
	doc, err := ParseDocument(data)
	if err != nil {
		return failed(err.Error())
	}
	return &snapshot{doc: doc, fingerprint: fingerprint, reloadedAt: now}
}

func (e *Engine) logTransition(prev, next *snapshot) {
	if next.doc == nil {
		// Repeated identical failures are logged once.
		if prev == nil || prev.err != next.err {
			e.logger.Error("policy unavailable", "source", e.source.Describe(), "error", next.err)
		}
		return
	}

	e.logger.Info("policy loaded",
		"source", e.source.Describe(),
		"version", next.doc.Version,
		"hash", next.doc.Hash,
	)
	if prev != nil && prev.doc != nil && versionRegressed(prev.doc.Version, next.doc.Version) {
		e.logger.Warn("policy version regressed",
			"previous", prev.doc.Version,
			"current", next.doc.Version,
		)
	}
}

func versionRegressed(prev, next any) bool {
	if prev == nil || next == nil {
		return false
	}
	pv, err := semver.NewVersion(fmt.Sprint(prev))
	if err != nil {
		return false
	}
	nv, err := semver.NewVersion(fmt.Sprint(next))
	if err != nil {
		return false
	}
	return nv.LessThan(pv)
}
