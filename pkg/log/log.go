package log

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}

var (
	defaultLogger *zap.Logger
)

func FromCtx(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
			return logger
		}
	}
	return defaultLogger
}

func ToCtx(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// New builds a production logger, or a development logger at debug level
// when verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// SetDefault replaces the logger returned for contexts that carry none.
func SetDefault(logger *zap.Logger) {
	if logger != nil {
		defaultLogger = logger
	}
}

func init() {
	defaultLogger, _ = zap.NewProduction()
}
