package storage

import (
	"context"
	"time"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/fs"
	"github.com/TheStatisticalMind/site-deployer/pkg/telemetry"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type instrumented struct {
	Storage
	backend string
}

// WithTelemetry wraps s so every operation is counted, timed and traced
// under the given backend name.
func WithTelemetry(s Storage, backend string) Storage {
	return &instrumented{Storage: s, backend: backend}
}

func (i *instrumented) Connect(ctx context.Context) error {
	return i.observe(ctx, "connect", "", func(ctx context.Context) error {
		return i.Storage.Connect(ctx)
	})
}

func (i *instrumented) ChangeDir(ctx context.Context, dir string) error {
	return i.observe(ctx, "change_dir", dir, func(ctx context.Context) error {
		return i.Storage.ChangeDir(ctx, dir)
	})
}

func (i *instrumented) MakeDir(ctx context.Context, dir string) error {
	return i.observe(ctx, "make_dir", dir, func(ctx context.Context) error {
		return i.Storage.MakeDir(ctx, dir)
	})
}

func (i *instrumented) Stat(ctx context.Context, p string) (*RemoteEntry, error) {
	var entry *RemoteEntry
	err := i.observe(ctx, "stat", p, func(ctx context.Context) error {
		var err error
		entry, err = i.Storage.Stat(ctx, p)
		return err
	})
	return entry, err
}

func (i *instrumented) Store(ctx context.Context, name string, file *fs.File) error {
	err := i.observe(ctx, "store", name, func(ctx context.Context) error {
		return i.Storage.Store(ctx, name, file)
	})
	if err == nil {
		telemetry.RecordStorageBytesUploaded(file.Size, i.backend)
	}
	return err
}

func (i *instrumented) observe(ctx context.Context, operation, target string, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "deployer.storage."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("storage.backend", i.backend),
		attribute.String("storage.target", target),
	)

	start := time.Now()
	err := fn(ctx)
	status := "success"
	switch {
	case err == nil:
	case eris.Is(err, pkgerrors.RemoteNotFoundError):
		// EnsureDir probes with Stat before creating.
		status = "not_found"
	default:
		status = "error"
		telemetry.RecordStorageError(i.backend, operation)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	telemetry.RecordStorageOperation(i.backend, operation, status)
	telemetry.RecordStorageOperationDuration(time.Since(start).Seconds(), i.backend, operation, status)
	return err
}
