package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "animstream/internal/adapter/http"
	metricsinmem "animstream/internal/adapter/metrics/inmemory"
	metricsprom "animstream/internal/adapter/metrics/prometheus"
	"animstream/internal/app/auth"
	"animstream/internal/app/session"
	"animstream/internal/config"
	"animstream/internal/platform/otel"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var addr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ANIMSTREAM_ADDR)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address (overrides ANIMSTREAM_METRICS_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if cfg.Environment == "production" {
		hlog.SetLevel(hlog.LevelInfo)
	} else {
		hlog.SetLevel(hlog.LevelDebug)
	}

	shutdownTracing, err := otel.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	stores, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRecorder, err := metricsprom.NewRecorder(promReg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	kpiRecorder := metricsinmem.NewRecorder()

	registry := session.NewRegistry(session.Deps{
		State:          stores.state,
		Tx:             stores.tx,
		CommandArchive: stores.commands,
		LogArchive:     stores.logs,
		Metrics:        fanout{kpiRecorder, promRecorder},
	}, cfg.IdleTTL)

	h := server.Default(server.WithHostPorts(cfg.Addr))
	h.NoHijackConnPool = true
	httpadapter.Handler{
		Sessions:  registry,
		Directory: stores.logs,
		AuthUC: auth.VerifyUseCase{
			Enabled:   cfg.AuthEnabled,
			JWTSecret: []byte(cfg.JWTSecret),
		},
		APIKeyHeader: cfg.APIKeyHeader,
		KPI:          kpiRecorder,
	}.RegisterRoutes(h)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hlog.Infof("animstream listening on %s (storage: %s)", cfg.Addr, cfg.DBDriver)
		if err := h.Run(); err != nil && gctx.Err() == nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return registry.RunJanitor(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		hlog.Infof("animstream shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var result *multierror.Error
		if err := registry.Shutdown(sctx); err != nil {
			result = multierror.Append(result, err)
		}
		if err := h.Shutdown(sctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
		}
		if err := metricsSrv.Shutdown(sctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("metrics shutdown: %w", err))
		}
		if err := shutdownTracing(sctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("tracing shutdown: %w", err))
		}
		if err := stores.close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close storage: %w", err))
		}
		return result.ErrorOrNil()
	})
	return g.Wait()
}
