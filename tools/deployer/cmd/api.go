package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/TheStatisticalMind/site-deployer/pkg/telemetry"
	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/api"
	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/deployer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	apiPort     int
	metricsPort int
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Start the API server that provides HTTP endpoints to trigger deployments.

The API server will run continuously and listen for HTTP requests.
Use the /deploy endpoint to start a deployment and /status to follow it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		ctx = log.ToCtx(ctx, log.FromCtx(ctx))

		stop := startTelemetry(ctx)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := deployer.NewDeployer(ctx, cfg)
		if err != nil {
			return err
		}

		server := api.NewServer(apiPort, d)

		var metricsServer *http.Server
		reg := telemetry.GetPrometheusRegistry()
		if reg != nil {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			metricsServer = &http.Server{
				Addr:         net.JoinHostPort("", strconv.Itoa(metricsPort)),
				Handler:      metricsMux,
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			go func() {
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.FromCtx(ctx).Error("Metrics server error", zap.Error(err))
				}
			}()
			log.FromCtx(ctx).Info("Metrics server started", zap.Int("port", metricsPort))
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		serverErrChan := make(chan error, 1)
		go func() {
			if err := server.Start(ctx); err != nil {
				serverErrChan <- err
			}
		}()

		select {
		case <-sigChan:
			log.FromCtx(ctx).Info("Received shutdown signal, shutting down gracefully...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.FromCtx(ctx).Error("Error shutting down API server", zap.Error(err))
			}
			if metricsServer != nil {
				if err := metricsServer.Shutdown(shutdownCtx); err != nil {
					log.FromCtx(ctx).Error("Error shutting down metrics server", zap.Error(err))
				}
			}
			return nil
		case err := <-serverErrChan:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.Flags().IntVarP(&apiPort, "port", "p", 8000, "Port to listen on")
	apiCmd.Flags().IntVar(&metricsPort, "metrics-port", 9090, "Port to expose Prometheus metrics on")
}
