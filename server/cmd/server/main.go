package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/speedscope/speedscope/pkg/wire"
	"github.com/speedscope/speedscope/server/internal/alerts"
	"github.com/speedscope/speedscope/server/internal/api"
	"github.com/speedscope/speedscope/server/internal/auth"
	"github.com/speedscope/speedscope/server/internal/config"
	"github.com/speedscope/speedscope/server/internal/metrics"
	"github.com/speedscope/speedscope/server/internal/receiver"
	"github.com/speedscope/speedscope/server/internal/store"
	"github.com/speedscope/speedscope/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("speedscope-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"grpc_port", sc.GRPCPort,
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"history_backend", sc.History.Backend,
		"missing_metrics", sc.Health.MissingMetrics,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recvOpts := receiver.Options{
		Scorer:         sc.Health.Scorer(),
		MissingMetrics: sc.Health.MissingMetrics,
	}

	// History store, restored from the configured backend.
	backend, err := openBackend(ctx, sc.History)
	if err != nil {
		slog.Error("failed to open history backend", "backend", sc.History.Backend, "err", err)
		os.Exit(1)
	}
	opts := []store.Option{
		store.WithMaxRecords(sc.History.MaxRecords),
		store.WithRetention(sc.History.Retention),
		store.WithScorer(recvOpts.Score),
	}
	if backend != nil {
		opts = append(opts, store.WithBackend(backend))
	}
	st := store.New(opts...)
	defer st.Close() //nolint:errcheck

	n, err := st.Restore(ctx)
	if err != nil {
		slog.Error("failed to restore history", "err", err)
		os.Exit(1)
	}
	slog.Info("history restored", "records", n, "sources", len(st.Sources()))
	go st.Run(ctx)

	// Alert rules evaluated on every incoming record.
	alertEngine, err := alerts.New(sc.Alerts)
	if err != nil {
		slog.Error("invalid alert rules", "err", err)
		os.Exit(1)
	}

	collector := metrics.New()

	apiHandler := api.New(st, alertEngine, api.Options{
		Recent:      sc.Dashboard.Recent,
		TrendWindow: sc.Dashboard.TrendWindow,
		Scorer:      sc.Health.Scorer(),
	})

	// WebSocket hub: periodic snapshots plus one per received record.
	hub := ws.New(apiHandler, sc.Dashboard.BroadcastInterval)
	go hub.Run(ctx)

	recvOpts.Observers = []receiver.Observer{alertEngine, collector, hub}

	grpcOpts, err := grpcServerOptions(sc.Auth)
	if err != nil {
		slog.Error("failed to configure gRPC auth", "err", err)
		os.Exit(1)
	}
	grpcSrv := grpc.NewServer(grpcOpts...)
	wire.RegisterMeasurementServiceServer(grpcSrv, receiver.New(st, recvOpts))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", sc.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", sc.GRPCPort, "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("gRPC receiver listening", "port", sc.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           newMux(sc.Auth, apiHandler, hub, collector.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("speedscope-server shutting down")
	grpcSrv.GracefulStop()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	alertEngine.Wait()
}

// grpcServerOptions returns the API key interceptor and, for mtls, TLS
// transport credentials that require an agent certificate.
func grpcServerOptions(a config.AuthConfig) ([]grpc.ServerOption, error) {
	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(auth.APIKeyInterceptor(a.Mode, a.EffectiveHeader(), a.Key())),
	}
	if a.Mode == "mtls" {
		creds, err := auth.ServerTLS(a.CertFile, a.KeyFile, a.ClientCAFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	}
	return opts, nil
}

// newMux combines the REST API, the WebSocket stream and the metrics endpoint.
// The API and stream sit behind the API key middleware; /metrics does not, so
// Prometheus can scrape it without credentials.
func newMux(a config.AuthConfig, apiHandler, stream, metricsHandler http.Handler) *http.ServeMux {
	header, key := a.EffectiveHeader(), a.Key()

	mux := http.NewServeMux()
	mux.Handle("/api/", auth.APIKeyMiddleware(a.Mode, header, key, apiHandler))
	mux.Handle("/ws/stream", auth.APIKeyMiddleware(a.Mode, header, key, stream))
	mux.Handle("/metrics", metricsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// openBackend returns the persistence backend for h, or nil for memory.
func openBackend(ctx context.Context, h config.HistoryConfig) (store.Backend, error) {
	switch h.Backend {
	case config.BackendMemory, "":
		return nil, nil
	case config.BackendJSONFile:
		return store.NewJSONFile(h.Path, h.MaxRecords), nil
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		pg, err := store.OpenPostgres(ctx, h.DSN())
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", h.Backend)
	}
}
