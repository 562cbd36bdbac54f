package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aretw0/concord"
	httpAdapter "github.com/aretw0/concord/internal/adapters/http"
	"github.com/aretw0/concord/internal/cli"
	"github.com/aretw0/concord/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the synchronization server",
	Long: `Starts the HTTP API with SSE and WebSocket push, the Prometheus metrics
endpoint and the expired-session reaper.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("listen") {
			cfg.Listen, _ = cmd.Flags().GetString("listen")
		}
		if cmd.Flags().Changed("metrics-listen") {
			cfg.MetricsListen, _ = cmd.Flags().GetString("metrics-listen")
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := observability.NewMetrics(reg)
		streams := httpAdapter.NewStreamManager(logger)

		engine, backend, err := cli.NewEngine(cfg, logger,
			concord.WithPublisher(streams),
			concord.WithMetrics(metrics),
		)
		if err != nil {
			return err
		}
		defer backend.Close()

		api := &http.Server{
			Addr:    cfg.Listen,
			Handler: httpAdapter.NewServer(engine, streams, logger).Handler(),
		}

		sc := cli.NewSignalContext(cmd.Context(), logger)
		defer sc.Stop()
		g, ctx := errgroup.WithContext(sc)

		g.Go(func() error {
			logger.Info("Starting Concord Server", "address", api.Addr, "backend", cfg.Store.Backend)
			return listen(api)
		})
		g.Go(func() error {
			return shutdownOnDone(ctx, api)
		})

		if cfg.MetricsListen != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
			metricsSrv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}
			g.Go(func() error {
				logger.Info("Serving metrics", "address", metricsSrv.Addr)
				return listen(metricsSrv)
			})
			g.Go(func() error {
				return shutdownOnDone(ctx, metricsSrv)
			})
		}

		g.Go(func() error {
			return engine.RunReaper(ctx, cfg.Session.ReapInterval)
		})

		err = g.Wait()
		if sig := sc.Signal(); sig != nil {
			logger.Info("Concord Server stopped gracefully", "signal", sig.String())
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// listen runs srv until it is shut down.
func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownOnDone gives outstanding requests a deadline once ctx ends.
func shutdownOnDone(ctx context.Context, srv *http.Server) error {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown did not complete", "address", srv.Addr, "err", err)
		return srv.Close()
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", ":8080", "Address for the HTTP API")
	serveCmd.Flags().String("metrics-listen", ":9090", "Address for the Prometheus endpoint (empty disables it)")
}
