package escrowd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"juryledger/config"
	"juryledger/core"
	"juryledger/gateway/middleware"
	"juryledger/native/bank"
	"juryledger/observability"
	telemetry "juryledger/observability/otel"
	"juryledger/storage"
)

const (
	maintenanceInterval = time.Minute
	shutdownTimeout     = 10 * time.Second
)

// OpenDatabase opens the configured state backend below dataDir.
func OpenDatabase(engine, dataDir string) (storage.Database, error) {
	switch engine {
	case config.EngineMemory:
		return storage.NewMemDB(), nil
	case config.EngineLevelDB:
		return storage.NewLevelDB(filepath.Join(dataDir, "state"))
	case config.EngineBolt:
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
		return storage.NewBoltDB(filepath.Join(dataDir, "state.bolt"))
	default:
		return nil, fmt.Errorf("storage: unknown engine %q", engine)
	}
}

// NewTransferer builds the payout primitive selected by cfg.
func NewTransferer(cfg config.Payout, traced bool) (bank.Transferer, error) {
	switch cfg.Mode {
	case "", config.PayoutVault:
		return bank.NewVault(), nil
	case config.PayoutWebhook:
		transferer, err := bank.NewHTTPTransferer(cfg.URL, cfg.Token, cfg.Timeout())
		if err != nil {
			return nil, err
		}
		if traced {
			transferer.SetHTTPClient(&http.Client{
				Timeout:   cfg.Timeout(),
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			})
		}
		return transferer, nil
	default:
		return nil, fmt.Errorf("payout: unknown mode %q", cfg.Mode)
	}
}

// Run starts the ledger daemon and blocks until ctx is cancelled or a listener
// fails.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg == nil {
		return errors.New("escrowd: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	admin, err := cfg.AdminAddress()
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "escrowd",
		Environment: cfg.Telemetry.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := OpenDatabase(cfg.Storage.Engine, cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	transferer, err := NewTransferer(cfg.Payout, cfg.Telemetry.Traces)
	if err != nil {
		return err
	}

	node, err := core.NewNode(db, core.Config{
		Admin:      admin,
		Schedule:   cfg.FeeSchedule(),
		Transferer: transferer,
		Logger:     logger,
		Metrics:    observability.Ledger(),
	})
	if err != nil {
		return err
	}

	if cfg.Archive.Driver == config.ArchiveSQLite {
		if err := ensureParentDir(cfg.Archive.DSN); err != nil {
			return err
		}
	}
	archive, err := OpenArchive(cfg.Archive, logger)
	if err != nil {
		return err
	}
	defer archive.Close()
	node.Events().AddSink(archive)
	node.Events().AddSink(observability.Events())

	if err := ensureParentDir(cfg.Idempotency.Path); err != nil {
		return err
	}
	idem, err := OpenIdempotencyStore(cfg.Idempotency.Path, cfg.Idempotency.TTL())
	if err != nil {
		return fmt.Errorf("idempotency: %w", err)
	}
	defer idem.Close()

	server, err := NewServer(Options{
		Node: node,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew(),
		}, logger),
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}, logger),
		Idempotency: idem,
		Archive:     archive,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler := http.Handler(server.Handler())
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(handler, "escrowd")
	}
	apiServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	servers := []*http.Server{apiServer}
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	seq, head := archive.Head()
	logger.Info("escrowd starting",
		slog.String("listen", cfg.ListenAddress),
		slog.String("metrics", cfg.MetricsAddress),
		slog.String("storage", cfg.Storage.Engine),
		slog.String("payout", cfg.Payout.Mode),
		slog.String("admin", admin.String()),
		slog.Uint64("eventSequence", seq),
		slog.String("eventHead", head))

	group, groupCtx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		group.Go(func() error {
			listener, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			logger.Info("listening", slog.String("addr", listener.Addr().String()))
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		runMaintenance(groupCtx, node, idem, logger)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown failed", slog.String("addr", srv.Addr), slog.Any("error", err))
			}
		}
		return nil
	})

	err = group.Wait()
	logger.Info("escrowd stopped")
	return err
}

// ensureParentDir creates the directory holding a file-backed sqlite
// database.
func ensureParentDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	return nil
}

// runMaintenance periodically audits custody and prunes expired idempotency
// entries.
func runMaintenance(ctx context.Context, node *core.Node, idem *IdempotencyStore, logger *slog.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := node.Audit(); err != nil {
				logger.Error("ledger audit failed", slog.Any("error", err))
			}
			removed, err := idem.Prune(ctx)
			if err != nil {
				logger.Warn("idempotency prune failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency entries pruned", slog.Int64("removed", removed))
			}
		}
	}
}
