package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/cmejo/AI-Scholar-sub007/internal/config"
	"github.com/cmejo/AI-Scholar-sub007/internal/core"
	"github.com/cmejo/AI-Scholar-sub007/internal/logging"
	"github.com/cmejo/AI-Scholar-sub007/internal/server"
	"github.com/cmejo/AI-Scholar-sub007/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant with its ops HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

// runtime is everything a command needs to drive the core.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	core   *core.Core
}

func setup(ctx context.Context, opts ...core.Option) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version), logger.Underlying().Named("telemetry"))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	c, err := core.New(cfg, logger.Underlying(), append([]core.Option{core.WithTelemetry(tel)}, opts...)...)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, tel: tel, core: c}, nil
}

func (r *runtime) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := r.core.Shutdown(ctx); err != nil && !errors.Is(err, core.ErrNotStarted) {
		errs = append(errs, err)
	}
	if err := r.tel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	_ = r.logger.Sync()
	return errors.Join(errs...)
}

func serve(ctx context.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.shutdown(); err != nil {
			rt.logger.Error(context.Background(), "shutdown incomplete", zap.Error(err))
		}
	}()

	if err := rt.core.Start(ctx); err != nil {
		return err
	}

	zl := rt.logger.Underlying()
	srv, err := server.New(server.Config{
		Port:            rt.cfg.Server.Port,
		ShutdownTimeout: rt.cfg.Server.ShutdownTimeout.Duration(),
	}, server.Deps{
		Health:    rt.core,
		Safety:    rt.core.Safety(),
		Feedback:  rt.core.Feedback(),
		Rewards:   rt.core.Rewards(),
		Telemetry: rt.tel,
	}, zl.Named("http"), server.NewHTTPMetrics(rt.tel.Meter(server.InstrumentationName), zl))
	if err != nil {
		return err
	}

	rt.logger.Info(ctx, "assistantd started",
		zap.String("version", version),
		zap.Int("port", rt.cfg.Server.Port),
		zap.String("feedback_subject", rt.cfg.Feedback.Subject),
	)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	rt.logger.Info(context.Background(), "assistantd stopping")
	return nil
}
