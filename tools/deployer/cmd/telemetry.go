package cmd

import (
	"context"
	"time"

	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/TheStatisticalMind/site-deployer/pkg/telemetry"
	"go.uber.org/zap"
)

// startTelemetry initializes exporters and instruments. Failures are logged
// and the command continues without telemetry. The returned func flushes
// and shuts everything down.
func startTelemetry(ctx context.Context) func() {
	err := telemetry.Init(ctx)
	if err != nil {
		log.FromCtx(ctx).Warn("Failed to initialize telemetry", zap.Error(err))
		return func() {}
	}
	err = telemetry.InitMetrics()
	if err != nil {
		log.FromCtx(ctx).Warn("Failed to initialize metrics", zap.Error(err))
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.FromCtx(ctx).Warn("Error shutting down telemetry", zap.Error(err))
		}
	}
}
