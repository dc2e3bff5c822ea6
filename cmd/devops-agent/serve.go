package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/madaxer/devopsAgent/pkg/api"
	"github.com/madaxer/devopsAgent/pkg/audit"
	"github.com/madaxer/devopsAgent/pkg/config"
	"github.com/madaxer/devopsAgent/pkg/coordinator"
	"github.com/madaxer/devopsAgent/pkg/executor"
	"github.com/madaxer/devopsAgent/pkg/limiter"
	"github.com/madaxer/devopsAgent/pkg/observability"
	"github.com/madaxer/devopsAgent/pkg/policy"
	"github.com/madaxer/devopsAgent/pkg/store"
)

const shutdownTimeout = 15 * time.Second

func runServeCmd(_ []string, _ io.Writer, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger, nil); err != nil {
		logger.Error("gateway stopped", "error", err)
		return 1
	}
	return 0
}

// serve runs the gateway until ctx is cancelled. ready, when set, receives
// the bound listen address once the server accepts connections.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready func(addr string)) error {
	telemetry, err := observability.New(ctx, cfg.Telemetry(version))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	source, err := policy.NewSource(ctx, cfg.PolicySource())
	if err != nil {
		return fmt.Errorf("policy source: %w", err)
	}
	engine := policy.NewEngine(source, policy.WithLogger(logger.With("component", "policy")))
	engine.OnReload(func(st policy.Status) {
		telemetry.RecordPolicyReload(context.Background(), st.Loaded)
	})
	if st := engine.Status(ctx); st.Loaded {
		logger.Info("policy loaded", "source", st.Source, "version", st.Version, "hash", st.Hash)
	} else {
		// Keep serving; every request is denied until the policy loads.
		logger.Warn("policy unavailable at startup", "source", st.Source, "error", st.Error)
	}

	journalOpts := []audit.Option{}
	if cfg.JournalPersistent() {
		sink, err := audit.OpenSink(ctx, cfg.AuditDatabaseURL, cfg.AuditSQLitePath)
		if err != nil {
			return fmt.Errorf("journal sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		journalOpts = append(journalOpts, audit.WithSink(sink))
	}
	journal := audit.NewJournal(journalOpts...)
	defer func() {
		// Runs after the coordinator has drained and before the sink closes.
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := journal.Close(flushCtx); err != nil {
			logger.Warn("journal flush incomplete", "error", err)
		}
	}()

	registry, err := executor.NewDefaultRegistry(cfg.MockActionLatency)
	if err != nil {
		return fmt.Errorf("executor registry: %w", err)
	}

	coord := coordinator.New(cfg.Environment, store.NewActionStore(), engine, registry,
		coordinator.WithRecorder(journal),
		coordinator.WithTelemetry(telemetry),
		coordinator.WithLogger(logger.With("component", "coordinator")),
	)

	apiOpts := []api.Option{
		api.WithJournal(journal),
		api.WithLogger(logger.With("component", "api")),
	}
	if rl := cfg.RateLimit(); rl.Enabled() {
		limitStore, closeStore, err := openLimiter(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		apiOpts = append(apiOpts, api.WithRateLimit(limitStore, rl))
	}

	srv := &http.Server{
		Handler:           api.NewServer(coord, engine, apiOpts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("gateway listening",
		"addr", ln.Addr().String(),
		"environment", cfg.Environment,
		"version", version,
	)
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	coord.Wait()
	logger.Info("in-flight actions drained")
	return nil
}

// openLimiter returns the Redis store when REDIS_ADDR is set, otherwise an
// in-process store.
func openLimiter(ctx context.Context, cfg *config.Config) (limiter.Store, func(), error) {
	if cfg.RedisAddr == "" {
		mem := limiter.NewMemoryStore(0)
		return mem, mem.Close, nil
	}
	rs := limiter.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		return nil, nil, fmt.Errorf("redis limiter: %w", err)
	}
	return rs, func() { _ = rs.Close() }, nil
}
