package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/madaxer/devopsAgent/pkg/audit"
	"github.com/madaxer/devopsAgent/pkg/contracts"
	"github.com/madaxer/devopsAgent/pkg/coordinator"
	"github.com/madaxer/devopsAgent/pkg/limiter"
	"github.com/madaxer/devopsAgent/pkg/policy"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "devops-agent"

const (
	maxBodyBytes      = 1 << 20
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

// Actions admits requests and reports their state.
type Actions interface {
	Environment() contracts.Environment
	Submit(ctx context.Context, req contracts.ActionRequest) (contracts.ActionAccepted, error)
	Status(ctx context.Context, id uuid.UUID) (contracts.ActionRecord, error)
}

// ActionCounter is implemented by Actions that can report per-status totals.
// When present the totals are included in the health response.
type ActionCounter interface {
	Counts() map[contracts.ActionStatus]int
}

// PolicyReporter describes the currently loaded policy.
type PolicyReporter interface {
	Status(ctx context.Context) policy.Status
}

// Journal exposes the decision journal.
type Journal interface {
	Latest(n int) []audit.Entry
	ChainHead() string
	Len() int
	VerifyChain() error
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status      string                         `json:"status"`
	Service     string                         `json:"service"`
	Environment contracts.Environment          `json:"environment"`
	Timestamp   time.Time                      `json:"timestamp"`
	Actions     map[contracts.ActionStatus]int `json:"actions,omitempty"`
}

// PolicyStatusResponse is the body of GET /v1/policy/status.
type PolicyStatusResponse struct {
	policy.Status
	AgentEnvironment contracts.Environment `json:"agent_environment"`
}

// AuditResponse is the body of GET /v1/audit.
type AuditResponse struct {
	Entries   []audit.Entry `json:"entries"`
	Total     int           `json:"total"`
	ChainHead string        `json:"chain_head"`
}

// VerifyResponse is the body of GET /v1/audit/verify.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	Entries   int    `json:"entries"`
	ChainHead string `json:"chain_head"`
	Error     string `json:"error,omitempty"`
}

// Server wires the HTTP surface to the coordinator and policy engine.
type Server struct {
	actions Actions
	policy  PolicyReporter
	journal Journal

	limitStore  limiter.Store
	limitPolicy limiter.Policy

	logger *slog.Logger
	clock  func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithJournal mounts the audit endpoints.
func WithJournal(j Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithRateLimit limits requests per client IP.
func WithRateLimit(store limiter.Store, p limiter.Policy) Option {
	return func(s *Server) {
		s.limitStore = store
		s.limitPolicy = p
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock overrides the time source used by the health endpoint.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

// NewServer creates a server.
func NewServer(actions Actions, p PolicyReporter, opts ...Option) *Server {
	s := &Server{
		actions: actions,
		policy:  p,
		logger:  slog.Default().With("component", "api"),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	if s.limitStore != nil {
		r.Use(RateLimit(s.limitStore, s.limitPolicy, s.logger))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, r, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, CodeInvalidRequest,
			"The HTTP method is not supported for this endpoint")
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/policy/status", s.handlePolicyStatus)
		r.Post("/actions/execute", s.handleExecute)
		r.Get("/actions/{request_id}", s.handleActionStatus)
		if s.journal != nil {
			r.Get("/audit", s.handleAudit)
			r.Get("/audit/verify", s.handleAuditVerify)
		}
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		Service:     ServiceName,
		Environment: s.actions.Environment(),
		Timestamp:   s.clock().UTC(),
	}
	if counter, ok := s.actions.(ActionCounter); ok {
		resp.Actions = counter.Counts()
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePolicyStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, PolicyStatusResponse{
		Status:           s.policy.Status(r.Context()),
		AgentEnvironment: s.actions.Environment(),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteBadRequest(w, r, CodeInvalidJSON, "Invalid request body")
		return
	}
	req, problem := decodeActionRequest(body)
	if problem != nil {
		WriteProblem(w, r, problem)
		return
	}

	accepted, err := s.actions.Submit(r.Context(), req)
	if err != nil {
		var mismatch *coordinator.EnvironmentMismatchError
		var denied *coordinator.DeniedError
		switch {
		case errors.As(err, &mismatch):
			p := newProblem(http.StatusBadRequest, mismatch.Code(), mismatch.Error())
			p.Meta = map[string]any{
				"expected_environment": mismatch.Expected,
				"provided_environment": mismatch.Provided,
			}
			WriteProblem(w, r, p)
		case errors.As(err, &denied):
			p := newProblem(http.StatusForbidden, denied.Code(), denied.Reason)
			p.Meta = map[string]any{
				"decision": "denied",
				"policy":   denied.Reason,
			}
			WriteProblem(w, r, p)
		default:
			WriteInternal(w, r, err)
		}
		return
	}
	WriteJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleActionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "request_id"))
	if err != nil {
		WriteBadRequest(w, r, CodeInvalidRequest, "request_id must be a UUID")
		return
	}
	rec, err := s.actions.Status(r.Context(), id)
	if errors.Is(err, coordinator.ErrNotFound) {
		WriteNotFound(w, r, err.Error())
		return
	}
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteBadRequest(w, r, CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}
	entries := s.journal.Latest(limit)
	if entries == nil {
		entries = []audit.Entry{}
	}
	WriteJSON(w, http.StatusOK, AuditResponse{
		Entries:   entries,
		Total:     s.journal.Len(),
		ChainHead: s.journal.ChainHead(),
	})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	resp := VerifyResponse{
		Valid:     true,
		Entries:   s.journal.Len(),
		ChainHead: s.journal.ChainHead(),
	}
	if err := s.journal.VerifyChain(); err != nil {
		s.logger.ErrorContext(r.Context(), "journal chain verification failed", "error", err)
		resp.Valid = false
		resp.Error = err.Error()
	}
	WriteJSON(w, http.StatusOK, resp)
}
