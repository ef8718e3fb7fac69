package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"innkeep/cmd/server/config"
	httpapi "innkeep/internal/adapters/http"
	hoteldb "innkeep/internal/db/hotel"
	"innkeep/internal/delivery"
	"innkeep/internal/escalation"
	"innkeep/internal/observability"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "innkeep",
		Short:         "Refund and guest notification service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(escalationsCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC health endpoint and the metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg.Log, nil)
	metrics, err := observability.NewMetricsWithRegistry(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	app, cleanup, err := buildApp(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := app.httpDeps()
	deps.Metrics = metrics
	deps.Limiter = delivery.NewRateLimiter(cfg.HTTP.RateLimitInterval, cfg.HTTP.RateLimitBurst, nil)
	deps.Logger = logger.With().Str("component", "http").Logger()
	apiSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewServer(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}
	grpcSrv, healthServer := newHealthServer(nil, metrics, logger, cfg.AppEnv)

	obsSrv := &http.Server{
		Addr:              cfg.Observability.Addr,
		Handler:           observability.Mux(metrics, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("http api listening")
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.GRPC.Addr).Msg("grpc health listening")
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go func() {
		if err := obsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("observability server error")
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	logger.Info().Msg("shutting down")
	setServing(healthServer, healthpb.HealthCheckResponse_NOT_SERVING)
	metrics.MarkShutdown(metrics.InFlight())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http api shutdown")
	}
	grpcSrv.GracefulStop()
	_ = obsSrv.Shutdown(shutdownCtx)
	return runErr
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := os.Getenv("DATABASE_URL")
			if dsn == "" {
				return errors.New("DATABASE_URL is required")
			}
			db, err := hoteldb.Open(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := hoteldb.NewStores(db).InitSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
}

func escalationsCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "Inspect and resolve cases escalated to staff",
	}
	cmd.PersistentFlags().StringVar(&path, "queue", "", "escalation queue file (defaults to ESCALATION_BOLT_PATH)")

	open := func() (*escalation.BoltQueue, error) {
		if path == "" {
			path = os.Getenv("ESCALATION_BOLT_PATH")
		}
		if path == "" {
			return nil, errors.New("--queue or ESCALATION_BOLT_PATH is required")
		}
		return escalation.OpenBoltQueue(path)
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Print open cases as JSON, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := open()
			if err != nil {
				return err
			}
			defer queue.Close()
			items, err := queue.List(all)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), items)
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include resolved cases")

	var staffID string
	resolve := &cobra.Command{
		Use:   "resolve [case-id]",
		Short: "Mark a case as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if staffID == "" {
				return errors.New("--staff is required")
			}
			queue, err := open()
			if err != nil {
				return err
			}
			defer queue.Close()
			item, err := queue.Resolve(args[0], staffID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), item)
		},
	}
	resolve.Flags().StringVar(&staffID, "staff", "", "id of the staff member resolving the case")

	cmd.AddCommand(list, resolve)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
