package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	// Deploy metrics
	deployDuration       otelmetric.Float64Histogram
	deployOperationCount otelmetric.Int64Counter
	deployFilesUploaded  otelmetric.Int64Counter
	deployBytesUploaded  otelmetric.Int64Counter

	// Storage metrics
	storageOperationDuration otelmetric.Float64Histogram
	storageOperationCount    otelmetric.Int64Counter
	storageBytesUploaded     otelmetric.Int64Counter
	storageErrors            otelmetric.Int64Counter

	// API metrics
	apiRequestDuration otelmetric.Float64Histogram
	apiRequestCount    otelmetric.Int64Counter
	apiRequestErrors   otelmetric.Int64Counter
)

// InitMetrics initializes all metric instruments
func InitMetrics() error {
	m := Meter()

	var err error

	deployDuration, err = m.Float64Histogram(
		"deployer.deploy.duration",
		otelmetric.WithDescription("Duration of deployments in seconds"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	deployOperationCount, err = m.Int64Counter(
		"deployer.deploy.operation.count",
		otelmetric.WithDescription("Total number of deployments"),
	)
	if err != nil {
		return err
	}

	deployFilesUploaded, err = m.Int64Counter(
		"deployer.deploy.files.uploaded",
		otelmetric.WithDescription("Total number of files uploaded by deployments"),
	)
	if err != nil {
		return err
	}

	deployBytesUploaded, err = m.Int64Counter(
		"deployer.deploy.bytes.uploaded",
		otelmetric.WithDescription("Total bytes uploaded by deployments"),
		otelmetric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	storageOperationDuration, err = m.Float64Histogram(
		"deployer.storage.operation.duration",
		otelmetric.WithDescription("Duration of storage operations in seconds"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	storageOperationCount, err = m.Int64Counter(
		"deployer.storage.operation.count",
		otelmetric.WithDescription("Total number of storage operations"),
	)
	if err != nil {
		return err
	}

	storageBytesUploaded, err = m.Int64Counter(
		"deployer.storage.bytes.uploaded",
		otelmetric.WithDescription("Total bytes uploaded to storage"),
		otelmetric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	storageErrors, err = m.Int64Counter(
		"deployer.storage.errors",
		otelmetric.WithDescription("Total number of storage errors"),
	)
	if err != nil {
		return err
	}

	apiRequestDuration, err = m.Float64Histogram(
		"deployer.api.request.duration",
		otelmetric.WithDescription("Duration of API requests in seconds"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	apiRequestCount, err = m.Int64Counter(
		"deployer.api.request.count",
		otelmetric.WithDescription("Total number of API requests"),
	)
	if err != nil {
		return err
	}

	apiRequestErrors, err = m.Int64Counter(
		"deployer.api.request.errors",
		otelmetric.WithDescription("Total number of API request errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordDeployDuration records the duration of a deployment
func RecordDeployDuration(duration float64, target, status string) {
	if deployDuration != nil {
		deployDuration.Record(
			context.Background(),
			duration,
			otelmetric.WithAttributes(
				attribute.String("target", target),
				attribute.String("status", status),
			),
		)
	}
}

// RecordDeployOperation records a finished deployment
func RecordDeployOperation(target, status string) {
	if deployOperationCount != nil {
		deployOperationCount.Add(
			context.Background(),
			1,
			otelmetric.WithAttributes(
				attribute.String("target", target),
				attribute.String("status", status),
			),
		)
	}
}

// RecordDeployFilesUploaded records files uploaded by one deployment
func RecordDeployFilesUploaded(count int64, target string) {
	if deployFilesUploaded != nil {
		deployFilesUploaded.Add(
			context.Background(),
			count,
			otelmetric.WithAttributes(
				attribute.String("target", target),
			),
		)
	}
}

// RecordDeployBytesUploaded records bytes uploaded by one deployment
func RecordDeployBytesUploaded(bytes int64, target string) {
	if deployBytesUploaded != nil {
		deployBytesUploaded.Add(
			context.Background(),
			bytes,
			otelmetric.WithAttributes(
				attribute.String("target", target),
			),
		)
	}
}

// RecordStorageOperationDuration records the duration of a storage operation
func RecordStorageOperationDuration(duration float64, backend, operation, status string) {
	if storageOperationDuration != nil {
		storageOperationDuration.Record(
			context.Background(),
			duration,
			otelmetric.WithAttributes(
				attribute.String("backend", backend),
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(backend, operation, status string) {
	if storageOperationCount != nil {
		storageOperationCount.Add(
			context.Background(),
			1,
			otelmetric.WithAttributes(
				attribute.String("backend", backend),
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}
}

// RecordStorageBytesUploaded records bytes uploaded to storage
func RecordStorageBytesUploaded(bytes int64, backend string) {
	if storageBytesUploaded != nil {
		storageBytesUploaded.Add(
			context.Background(),
			bytes,
			otelmetric.WithAttributes(
				attribute.String("backend", backend),
			),
		)
	}
}

// RecordStorageError records a storage error
func RecordStorageError(backend, operation string) {
	if storageErrors != nil {
		storageErrors.Add(
			context.Background(),
			1,
			otelmetric.WithAttributes(
				attribute.String("backend", backend),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordAPIRequestDuration records the duration of an API request
func RecordAPIRequestDuration(duration float64, endpoint, method, status string) {
	if apiRequestDuration != nil {
		apiRequestDuration.Record(
			context.Background(),
			duration,
			otelmetric.WithAttributes(
				attribute.String("endpoint", endpoint),
				attribute.String("method", method),
				attribute.String("status", status),
			),
		)
	}
}

// RecordAPIRequest records an API request
func RecordAPIRequest(endpoint, method, status string) {
	if apiRequestCount != nil {
		apiRequestCount.Add(
			context.Background(),
			1,
			otelmetric.WithAttributes(
				attribute.String("endpoint", endpoint),
				attribute.String("method", method),
				attribute.String("status", status),
			),
		)
	}
}

// RecordAPIRequestError records an API request error
func RecordAPIRequestError(endpoint, method, errorType string) {
	if apiRequestErrors != nil {
		apiRequestErrors.Add(
			context.Background(),
			1,
			otelmetric.WithAttributes(
				attribute.String("endpoint", endpoint),
				attribute.String("method", method),
				attribute.String("error_type", errorType),
			),
		)
	}
}
